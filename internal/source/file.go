package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

const maxFileBytes = 20 << 20

var (
	// ErrFileSourcesDisabled is returned when no file root is configured.
	ErrFileSourcesDisabled = errors.New("file sources are disabled")
	// ErrObjectStoreDisabled is returned for bucket sources without a store.
	ErrObjectStoreDisabled = errors.New("object storage is not configured")
	// ErrPathEscapesRoot is returned for paths resolving outside the root.
	ErrPathEscapesRoot = errors.New("path escapes file source root")
)

// ObjectStore reads objects from S3-compatible storage.
type ObjectStore interface {
	GetObject(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// FileFetcher reads JSON or CSV documents from a local directory or from
// object storage.
type FileFetcher struct {
	Root  string
	Store ObjectStore
}

// Fetch implements Fetcher.
func (f *FileFetcher) Fetch(ctx context.Context, ds *domain.DataSource, _ url.Values) (any, error) {
	cfg := ds.Config

	var (
		rc   io.ReadCloser
		name string
		err  error
	)
	switch {
	case cfg.Bucket != "":
		if f.Store == nil {
			return nil, ErrObjectStoreDisabled
		}
		if strings.TrimSpace(cfg.Object) == "" {
			return nil, fmt.Errorf("%w: object is required", ErrInvalidConfig)
		}
		name = cfg.Object
		rc, err = f.Store.GetObject(ctx, cfg.Bucket, cfg.Object)
	case cfg.Path != "":
		var full string
		full, err = f.resolve(cfg.Path)
		if err != nil {
			return nil, err
		}
		name = full
		rc, err = os.Open(full)
	default:
		return nil, fmt.Errorf("%w: path or bucket/object is required", ErrInvalidConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("file source %s: %w", ds.Name, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, maxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("file source %s: read: %w", ds.Name, err)
	}

	format := cfg.Format
	if format == "" && strings.EqualFold(filepath.Ext(name), ".csv") {
		format = "csv"
	}
	return decode(body, format, cfg.Delimiter)
}

// resolve joins p onto the root and rejects anything that lands outside it.
func (f *FileFetcher) resolve(p string) (string, error) {
	if strings.TrimSpace(f.Root) == "" {
		return "", ErrFileSourcesDisabled
	}
	root, err := filepath.Abs(f.Root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return full, nil
}
