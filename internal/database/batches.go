package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CreateBatch records the start of an import batch.
func (d *Database) CreateBatch(ctx context.Context, b *ImportBatch) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("create_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO import_batches (id, collection_id, total, started_at)
		VALUES (?, ?, ?, ?)`,
		b.ID, b.CollectionID, b.Total, b.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", b.ID, err)
	}
	return nil
}

// UpdateBatchCounts stores the running counters for a batch. Called
// after every chunk so progress survives a crash mid-batch.
func (d *Database) UpdateBatchCounts(ctx context.Context, id string, imported, duplicates, errored int, fileErrors []FileError) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	errorsJSON, err := encodeFileErrors(fileErrors)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE import_batches SET imported = ?, duplicates = ?, errored = ?, errors = ? WHERE id = ?`,
		imported, duplicates, errored, errorsJSON, id,
	)
	return err
}

// FinishBatch records the final counters for a batch. When the batch was
// cancelled, total is adjusted to the number of files actually attempted
// so that imported + duplicates + errored == total holds.
func (d *Database) FinishBatch(ctx context.Context, id string, total, imported, duplicates, errored int, cancelled bool, fileErrors []FileError) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("finish_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	errorsJSON, err := encodeFileErrors(fileErrors)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		UPDATE import_batches
		SET total = ?, imported = ?, duplicates = ?, errored = ?, errors = ?, cancelled = ?, finished_at = ?
		WHERE id = ?`,
		total, imported, duplicates, errored, errorsJSON, boolToInt(cancelled), time.Now().Unix(), id,
	)
	return err
}

// GetBatch returns the batch with the given id, or (nil, nil) when no
// such batch exists.
func (d *Database) GetBatch(ctx context.Context, id string) (*ImportBatch, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_batch", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var b ImportBatch
	var cancelled int
	var startedAt int64
	var errorsJSON sql.NullString
	var finishedAt sql.NullInt64

	err = d.db.QueryRowContext(ctx, `
		SELECT id, collection_id, total, imported, duplicates, errored, errors, cancelled, started_at, finished_at
		FROM import_batches WHERE id = ?`, id).Scan(
		&b.ID, &b.CollectionID, &b.Total, &b.Imported, &b.Duplicates, &b.Errored,
		&errorsJSON, &cancelled, &startedAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}

	if errorsJSON.Valid {
		if err = json.Unmarshal([]byte(errorsJSON.String), &b.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode errors for batch %s: %w", id, err)
		}
	}
	b.Cancelled = cancelled != 0
	b.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		b.FinishedAt = &t
	}
	return &b, nil
}

// encodeFileErrors marshals the error list for the errors column. An
// empty list is stored as NULL.
func encodeFileErrors(errs []FileError) (interface{}, error) {
	if len(errs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file errors: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
