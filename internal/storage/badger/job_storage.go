package badger

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// JobStorage implements the JobStorage interface for Badger.
// Read-modify-write operations run in optimistic transactions: a concurrent commit to any
// key read by the transaction forces a retry, which is what makes the fan-in barrier safe.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateBundle(ctx context.Context, bundle *models.JobBundle, jobs []*models.Job) error {
	if bundle.ID == "" {
		return fmt.Errorf("bundle ID is required")
	}

	err := s.db.Update(func(tx *badger.Txn) error {
		if err := s.db.Store().TxInsert(tx, bundle.ID, bundle); err != nil {
			return err
		}
		for _, job := range jobs {
			if job.ID == "" {
				return fmt.Errorf("job ID is required")
			}
			if err := s.db.Store().TxInsert(tx, job.ID, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return persistErr("create bundle", err)
	}
	return nil
}

func (s *JobStorage) GetBundle(ctx context.Context, id string) (*models.JobBundle, error) {
	var bundle models.JobBundle
	if err := s.db.Store().Get(id, &bundle); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, notFoundErr("bundle", id)
		}
		return nil, persistErr("get bundle", err)
	}
	return &bundle, nil
}

func (s *JobStorage) ListBundles(ctx context.Context, profileID string, limit int) ([]*models.JobBundle, error) {
	query := badgerhold.Where("ID").Ne("")
	if profileID != "" {
		query = badgerhold.Where("ProfileID").Eq(profileID)
	}
	query = query.SortBy("RequestedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var bundles []models.JobBundle
	if err := s.db.Store().Find(&bundles, query); err != nil {
		return nil, persistErr("list bundles", err)
	}

	result := make([]*models.JobBundle, len(bundles))
	for i := range bundles {
		result[i] = &bundles[i]
	}
	return result, nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, notFoundErr("job", id)
		}
		return nil, persistErr("get job", err)
	}
	return &job, nil
}

func (s *JobStorage) ListBundleJobs(ctx context.Context, bundleID string) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("BundleID").Eq(bundleID).SortBy("CreatedAt")); err != nil {
		return nil, persistErr("list bundle jobs", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, jobID string, fn interfaces.JobUpdateFunc) (*models.Job, *models.JobBundle, error) {
	var job models.Job
	var bundle models.JobBundle

	err := s.db.Update(func(tx *badger.Txn) error {
		job = models.Job{}
		bundle = models.JobBundle{}

		if err := s.db.Store().TxGet(tx, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return notFoundErr("job", jobID)
			}
			return err
		}
		if err := s.db.Store().TxGet(tx, job.BundleID, &bundle); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return notFoundErr("bundle", job.BundleID)
			}
			return err
		}

		before := bundle
		if err := fn(&job, &bundle); err != nil {
			return err
		}

		if err := s.db.Store().TxUpsert(tx, job.ID, &job); err != nil {
			return err
		}
		// Sibling jobs only conflict on the bundle key when it actually changes
		if reflect.DeepEqual(before, bundle) {
			return nil
		}
		return s.db.Store().TxUpsert(tx, bundle.ID, &bundle)
	})
	if err != nil {
		return nil, nil, s.wrap("update job", err)
	}

	return &job, &bundle, nil
}

func (s *JobStorage) UpdateBundle(ctx context.Context, bundleID string, fn interfaces.BundleUpdateFunc) (*models.JobBundle, []*models.Job, error) {
	var bundle models.JobBundle
	var created []*models.Job

	err := s.db.Update(func(tx *badger.Txn) error {
		bundle = models.JobBundle{}
		created = nil

		if err := s.db.Store().TxGet(tx, bundleID, &bundle); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return notFoundErr("bundle", bundleID)
			}
			return err
		}

		var stored []models.Job
		if err := s.db.Store().TxFind(tx, &stored, badgerhold.Where("BundleID").Eq(bundleID).SortBy("CreatedAt")); err != nil {
			return err
		}
		jobs := make([]*models.Job, len(stored))
		for i := range stored {
			jobs[i] = &stored[i]
		}

		before := bundle
		newJobs, err := fn(&bundle, jobs)
		if err != nil {
			return err
		}
		if len(newJobs) == 0 && reflect.DeepEqual(before, bundle) {
			return nil
		}

		for _, job := range newJobs {
			if err := s.db.Store().TxInsert(tx, job.ID, job); err != nil {
				return err
			}
		}
		created = newJobs

		return s.db.Store().TxUpsert(tx, bundle.ID, &bundle)
	})
	if err != nil {
		return nil, nil, s.wrap("update bundle", err)
	}

	return &bundle, created, nil
}

// wrap passes through errors raised by update callbacks (already classified)
// and tags everything else as a persistence failure.
func (s *JobStorage) wrap(op string, err error) error {
	if errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrInsufficientData) ||
		errors.Is(err, models.ErrBundleCancelled) {
		return err
	}
	return persistErr(op, err)
}
