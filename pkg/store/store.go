// Package store is the typed persistence adapter over the relational store.
// All state reaches the database through this package; multi-row logical
// operations run in a single transaction and writes to the same sample
// serialize through a row-level lock on the sample id.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/seqlab/nanotrack/pkg/models"
)

// Store provides typed access to submissions, samples, and processing steps.
type Store struct {
	db    *gorm.DB
	retry RetryConfig
	inTx  bool
}

// New creates a Store over the given gorm handle.
func New(db *gorm.DB, retry RetryConfig) *Store {
	if retry.Attempts < 1 {
		retry = DefaultRetryConfig()
	}
	return &Store{db: db, retry: retry}
}

// DB exposes the underlying gorm handle, mainly for tests and the event bus
// which shares the same connection pool.
func (s *Store) DB() *gorm.DB { return s.db }

// opRetry returns the retry policy for a single operation. A transient
// failure aborts the ambient transaction, so inside WithTx individual
// statements run once and the whole transaction retries instead.
func (s *Store) opRetry() RetryConfig {
	if s.inTx {
		return RetryConfig{Attempts: 1}
	}
	return s.retry
}

// WithTx runs fn inside a database transaction, passing a Store bound to the
// transaction. Nested calls reuse the ambient transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return withRetry(ctx, s.retry, "tx", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&Store{db: tx, retry: s.retry, inTx: true})
		})
	})
}

// LockSample takes a row-level lock on the sample id for the duration of the
// ambient transaction. Only meaningful on postgres; sqlite serializes writes
// at the database level.
func (s *Store) LockSample(ctx context.Context, sampleID string) error {
	if s.db.Dialector.Name() != "postgres" {
		return nil
	}
	var id string
	err := s.db.WithContext(ctx).
		Model(&models.Sample{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", sampleID).
		Pluck("id", &id).Error
	if err != nil {
		return fmt.Errorf("locking sample %s: %w", sampleID, err)
	}
	if id == "" {
		return ErrNotFound
	}
	return nil
}

// translate converts gorm-level errors into the store error taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
