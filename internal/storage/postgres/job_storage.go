package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/interfaces"
	"github.com/ternarybob/foresight/internal/models"
)

// JobStorage implements the JobStorage interface for PostgreSQL.
// Read-modify-write operations lock the bundle row first (SELECT ... FOR UPDATE) so
// sibling jobs and fan-in decisions on the same bundle are serialized.
type JobStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *PostgresDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func upsertBundle(ctx context.Context, tx *sql.Tx, bundle *models.JobBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_bundles (id, profile_id, status, requested_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data`,
		bundle.ID, bundle.ProfileID, string(bundle.Status), bundle.RequestedAt, data)
	return err
}

func insertJob(ctx context.Context, tx *sql.Tx, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (id, bundle_id, type, status, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.BundleID, string(job.Type), string(job.Status), job.CreatedAt, data)
	return err
}

func updateJobRow(ctx context.Context, tx *sql.Tx, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = $2, data = $3 WHERE id = $1`,
		job.ID, string(job.Status), data)
	return err
}

func (s *JobStorage) CreateBundle(ctx context.Context, bundle *models.JobBundle, jobs []*models.Job) error {
	if bundle.ID == "" {
		return fmt.Errorf("bundle ID is required")
	}

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertBundle(ctx, tx, bundle); err != nil {
			return err
		}
		for _, job := range jobs {
			if err := insertJob(ctx, tx, job); err != nil {
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
	if err := getJSON(ctx, s.db.db, &bundle, "bundle", id, `SELECT data FROM job_bundles WHERE id = $1`, id); err != nil {
		return nil, persistErr("get bundle", err)
	}
	return &bundle, nil
}

func (s *JobStorage) ListBundles(ctx context.Context, profileID string, limit int) ([]*models.JobBundle, error) {
	if limit <= 0 {
		limit = 1000
	}

	var bundles []*models.JobBundle
	var err error
	if profileID == "" {
		bundles, err = listJSON[models.JobBundle](ctx, s.db.db,
			`SELECT data FROM job_bundles ORDER BY requested_at DESC LIMIT $1`, limit)
	} else {
		bundles, err = listJSON[models.JobBundle](ctx, s.db.db,
			`SELECT data FROM job_bundles WHERE profile_id = $1 ORDER BY requested_at DESC LIMIT $2`, profileID, limit)
	}
	if err != nil {
		return nil, persistErr("list bundles", err)
	}
	return bundles, nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := getJSON(ctx, s.db.db, &job, "job", id, `SELECT data FROM jobs WHERE id = $1`, id); err != nil {
		return nil, persistErr("get job", err)
	}
	return &job, nil
}

func (s *JobStorage) ListBundleJobs(ctx context.Context, bundleID string) ([]*models.Job, error) {
	jobs, err := listJSON[models.Job](ctx, s.db.db,
		`SELECT data FROM jobs WHERE bundle_id = $1 ORDER BY created_at`, bundleID)
	if err != nil {
		return nil, persistErr("list bundle jobs", err)
	}
	return jobs, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, jobID string, fn interfaces.JobUpdateFunc) (*models.Job, *models.JobBundle, error) {
	var job models.Job
	var bundle models.JobBundle

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		var bundleID string
		if err := tx.QueryRowContext(ctx, `SELECT bundle_id FROM jobs WHERE id = $1`, jobID).Scan(&bundleID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}

		// Lock order is bundle then job
		if err := getJSON(ctx, tx, &bundle, "bundle", bundleID,
			`SELECT data FROM job_bundles WHERE id = $1 FOR UPDATE`, bundleID); err != nil {
			return err
		}
		if err := getJSON(ctx, tx, &job, "job", jobID,
			`SELECT data FROM jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
			return err
		}

		before := bundle
		if err := fn(&job, &bundle); err != nil {
			return err
		}

		if err := updateJobRow(ctx, tx, &job); err != nil {
			return err
		}
		if reflect.DeepEqual(before, bundle) {
			return nil
		}
		return upsertBundle(ctx, tx, &bundle)
	})
	if err != nil {
		return nil, nil, persistErr("update job", err)
	}

	return &job, &bundle, nil
}

func (s *JobStorage) UpdateBundle(ctx context.Context, bundleID string, fn interfaces.BundleUpdateFunc) (*models.JobBundle, []*models.Job, error) {
	var bundle models.JobBundle
	var created []*models.Job

	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		if err := getJSON(ctx, tx, &bundle, "bundle", bundleID,
			`SELECT data FROM job_bundles WHERE id = $1 FOR UPDATE`, bundleID); err != nil {
			return err
		}

		jobs, err := listJSON[models.Job](ctx, tx,
			`SELECT data FROM jobs WHERE bundle_id = $1 ORDER BY created_at`, bundleID)
		if err != nil {
			return err
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
			if err := insertJob(ctx, tx, job); err != nil {
				return err
			}
		}
		created = newJobs

		return upsertBundle(ctx, tx, &bundle)
	})
	if err != nil {
		return nil, nil, persistErr("update bundle", err)
	}

	return &bundle, created, nil
}
