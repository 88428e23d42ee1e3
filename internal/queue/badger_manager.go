package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/models"
)

// envelope is the internal structure stored in Badger
type envelope struct {
	ID           string          `json:"id"`
	Body         json.RawMessage `json:"body"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAt    time.Time       `json:"visible_at"`
	ReceiveCount int             `json:"receive_count"`
}

// BadgerManager implements a persistent queue using BadgerDB.
// Message data lives at queue:{name}:msg:{id}; a visibility index at
// queue:{name}:index:{visibleAt}:{id} keeps ready messages in time order.
type BadgerManager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 15 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &BadgerManager{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Name returns the queue name
func (m *BadgerManager) Name() string {
	return m.queueName
}

// Enqueue adds an immediately visible message to the queue
func (m *BadgerManager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	return m.EnqueueWithDelay(ctx, msg, 0)
}

// EnqueueWithDelay adds a message that becomes visible after delay
func (m *BadgerManager) EnqueueWithDelay(ctx context.Context, msg models.QueueMessage, delay time.Duration) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	now := time.Now()
	env := envelope{
		ID:         uuid.New().String(),
		Body:       body,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(env.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, env.ID), []byte{})
	})
}

// Receive claims the next visible message and hides it for the visibility timeout.
// The returned func deletes the message; an undeleted message is redelivered.
func (m *BadgerManager) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	var env envelope
	var msg *models.QueueMessage

	// An empty scan still commits, so dropped poison messages and orphaned
	// index entries are removed even when nothing is claimed.
	err := m.db.Update(func(txn *badger.Txn) error {
		env = envelope{}
		msg = nil

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var claimedKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue // Skip invalid keys
			}
			// Keys sort by visibility, so nothing after this one is ready either
			if ts.After(now) {
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var candidate envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &candidate)
			}); err != nil {
				return err
			}

			body, parseErr := models.QueueMessageFromJSON(candidate.Body)
			if parseErr != nil || candidate.ReceiveCount >= m.maxReceive {
				// Poison message: drop it rather than loop forever
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				if m.logger != nil {
					m.logger.Warn().
						Err(parseErr).
						Str("queue", m.queueName).
						Str("message_id", id).
						Int("receive_count", candidate.ReceiveCount).
						Msg("Dropping undeliverable queue message")
				}
				continue
			}

			env = candidate
			msg = body
			claimedKey = key
			break
		}

		if claimedKey == nil {
			return nil
		}

		env.ReceiveCount++
		env.VisibleAt = now.Add(m.visibilityTimeout)

		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(env.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(claimedKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, env.ID), []byte{})
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			// Another consumer claimed the same message
			return nil, nil, models.ErrNoMessage
		}
		return nil, nil, err
	}
	if msg == nil {
		return nil, nil, models.ErrNoMessage
	}

	msgID := env.ID
	deleteFn := func() error {
		return m.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(m.msgKey(msgID))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil // Already deleted
				}
				return err
			}

			var current envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}

			if err := txn.Delete(m.indexKey(current.VisibleAt, msgID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return txn.Delete(m.msgKey(msgID))
		})
	}

	return msg, deleteFn, nil
}

// Len returns the number of messages held by the queue, visible or not
func (m *BadgerManager) Len(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := m.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the database is owned by the storage layer
func (m *BadgerManager) Close() error {
	return nil
}

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so lexical order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid key length")
	}

	// Suffix is "{20-digit-ts}:{id}"
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid suffix length")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
