package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-archive/internal/mediatypes"
)

// InsertAsset records a newly placed asset. The fingerprint is the
// primary key; inserting a fingerprint that already exists is an error,
// because duplicates must be detected before placement.
func (d *Database) InsertAsset(ctx context.Context, a *MediaAsset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("insert_asset", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO assets (fingerprint, kind, archive_path, original_name, collection_id, size)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.Fingerprint, string(a.Kind), a.ArchivePath, a.OriginalName, a.CollectionID, a.Size,
	)
	if err != nil {
		return fmt.Errorf("failed to insert asset %s: %w", a.Fingerprint, err)
	}
	return nil
}

// GetAssetByFingerprint returns the asset with the given fingerprint,
// or (nil, nil) when no such asset exists.
func (d *Database) GetAssetByFingerprint(ctx context.Context, fingerprint string) (*MediaAsset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	row := d.db.QueryRowContext(ctx, `
		SELECT fingerprint, kind, archive_path, original_name, collection_id, size,
		       thumb_small_path, thumb_medium_path, thumb_large_path,
		       preview_path, proxy_path, metadata, created_at
		FROM assets WHERE fingerprint = ?`, fingerprint)

	a, scanErr := scanAsset(row)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, nil
	}
	if scanErr != nil {
		err = scanErr
		return nil, fmt.Errorf("failed to load asset %s: %w", fingerprint, scanErr)
	}
	return a, nil
}

// ListAssetsByCollection returns all assets belonging to a collection,
// ordered by archive path.
func (d *Database) ListAssetsByCollection(ctx context.Context, collectionID string) ([]MediaAsset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_assets", start, err) }()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT fingerprint, kind, archive_path, original_name, collection_id, size,
		       thumb_small_path, thumb_medium_path, thumb_large_path,
		       preview_path, proxy_path, metadata, created_at
		FROM assets WHERE collection_id = ? ORDER BY archive_path`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets for collection %s: %w", collectionID, err)
	}
	defer rows.Close()

	var assets []MediaAsset
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			err = scanErr
			return nil, fmt.Errorf("failed to scan asset row: %w", scanErr)
		}
		assets = append(assets, *a)
	}
	err = rows.Err()
	return assets, err
}

// SetAssetThumbnails records the three thumbnail tier paths. Owned by
// the thumbnails job; no other job kind writes these columns.
func (d *Database) SetAssetThumbnails(ctx context.Context, fingerprint string, small, medium, large *string) error {
	return d.updateAsset(ctx, "set_thumbnails",
		`UPDATE assets SET thumb_small_path = ?, thumb_medium_path = ?, thumb_large_path = ? WHERE fingerprint = ?`,
		small, medium, large, fingerprint)
}

// SetAssetPreview records the extracted preview path. A nil path is a
// valid archive state: the fallback chain found nothing.
func (d *Database) SetAssetPreview(ctx context.Context, fingerprint string, preview *string) error {
	return d.updateAsset(ctx, "set_preview",
		`UPDATE assets SET preview_path = ? WHERE fingerprint = ?`,
		preview, fingerprint)
}

// SetAssetProxy records the playback proxy path. Nil means the original
// is already playback-compatible.
func (d *Database) SetAssetProxy(ctx context.Context, fingerprint string, proxy *string) error {
	return d.updateAsset(ctx, "set_proxy",
		`UPDATE assets SET proxy_path = ? WHERE fingerprint = ?`,
		proxy, fingerprint)
}

// SetAssetMetadata records the extracted metadata blob (JSON). Nil
// means the adapters found nothing usable, which is not an error.
func (d *Database) SetAssetMetadata(ctx context.Context, fingerprint string, metadata *string) error {
	return d.updateAsset(ctx, "set_metadata",
		`UPDATE assets SET metadata = ? WHERE fingerprint = ?`,
		metadata, fingerprint)
}

func (d *Database) updateAsset(ctx context.Context, operation, query string, args ...interface{}) error {
	start := time.Now()
	var err error
	defer func() { recordQuery(operation, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = fmt.Errorf("%s: no asset with that fingerprint", operation)
		return err
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAsset(row rowScanner) (*MediaAsset, error) {
	var a MediaAsset
	var kind string
	var createdAt int64

	err := row.Scan(
		&a.Fingerprint, &kind, &a.ArchivePath, &a.OriginalName, &a.CollectionID, &a.Size,
		&a.ThumbSmall, &a.ThumbMedium, &a.ThumbLarge,
		&a.PreviewPath, &a.ProxyPath, &a.Metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.Kind = mediatypes.Kind(kind)
	a.CreatedAt = time.Unix(createdAt, 0)
	return &a, nil
}
