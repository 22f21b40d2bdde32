package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/pixelbook/internal/raster"
	"github.com/dunamismax/pixelbook/internal/storage"
)

type ObjectStoreFetcher struct {
	Storage *storage.Client
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}

	data, err := f.Storage.ReadObject(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", raster.ErrMissingSource, key)
		}
		return nil, err
	}
	return data, nil
}

// ObjectStoreEmitter writes artifacts as objects. When OutputPrefix is set the
// derived key is nested under it.
type ObjectStoreEmitter struct {
	Storage      *storage.Client
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if e.Storage == nil {
		return "", errors.New("storage client is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("artifact key is required")
	}

	objectKey := strings.TrimPrefix(path.Clean("/"+key), "/")
	if prefix := strings.Trim(strings.TrimSpace(e.OutputPrefix), "/"); prefix != "" {
		objectKey = path.Join(prefix, objectKey)
	}

	if err := e.Storage.WriteObject(ctx, objectKey, data, contentType); err != nil {
		return "", err
	}
	return objectKey, nil
}

func NewObjectStoreProcessor(fetcher ObjectStoreFetcher, emitter ObjectStoreEmitter, opts Options) (*Processor, error) {
	if fetcher.Storage == nil || emitter.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	return NewProcessor(fetcher, emitter, opts)
}
