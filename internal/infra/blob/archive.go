// Package blob archives raw getprices bodies in a gocloud bucket.
package blob

import (
	"context"
	"fmt"
	"path"

	"minutebars/internal/domain"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Archive writes one object per fetch result.
type Archive struct {
	bucket *blob.Bucket
}

// Open opens the bucket at url: file://, mem:// or s3://.
func Open(ctx context.Context, url string) (*Archive, error) {
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return &Archive{bucket: bucket}, nil
}

// Key is the object key of an asset's raw body within a run.
func Key(runID string, asset domain.Asset) string {
	return path.Join(runID, asset.ExchangeCode, asset.Symbol+".txt")
}

// Store writes the raw body. A redelivered result overwrites its earlier copy.
func (a *Archive) Store(ctx context.Context, runID string, asset domain.Asset) error {
	key := Key(runID, asset)
	w, err := a.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := w.Write([]byte(asset.RawResponse)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// Load reads an archived body back.
func (a *Archive) Load(ctx context.Context, runID string, asset domain.Asset) (string, error) {
	key := Key(runID, asset)
	data, err := a.bucket.ReadAll(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(data), nil
}

// Close closes the bucket.
func (a *Archive) Close() error {
	return a.bucket.Close()
}
