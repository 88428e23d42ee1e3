package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/common"
	"github.com/ternarybob/foresight/internal/models"
)

// PostgresDB manages the PostgreSQL connection pool
type PostgresDB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.PostgresConfig
}

// NewPostgresDB opens the pool, verifies connectivity and runs migrations
func NewPostgresDB(logger arbor.ILogger, config *common.PostgresConfig) (*PostgresDB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(25)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(common.ParseDuration(config.ConnMaxLifetime, 5*time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &PostgresDB{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := p.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Msg("PostgreSQL database initialized")
	return p, nil
}

// DB returns the underlying connection pool
func (p *PostgresDB) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// withTx runs fn inside a transaction, committing only when fn succeeds
func (p *PostgresDB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// getJSON loads a single JSONB document into dst
func getJSON(ctx context.Context, q queryer, dst interface{}, what, key, query string, args ...interface{}) error {
	var data []byte
	if err := q.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", what, key, models.ErrNotFound)
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

// listJSON loads every JSONB document returned by query
func listJSON[T any](ctx context.Context, q queryer, query string, args ...interface{}) ([]*T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		item := new(T)
		if err := json.Unmarshal(data, item); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// persistErr tags a store error with the persistence failure sentinel,
// passing through errors that are already classified.
func persistErr(op string, err error) error {
	if errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrInvalidTransition) ||
		errors.Is(err, models.ErrInsufficientData) ||
		errors.Is(err, models.ErrBundleCancelled) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistenceFailure, err)
}
