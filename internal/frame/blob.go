package frame

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/progressive-loader/internal/loader"
)

const defaultContentType = "application/octet-stream"

// BlobStore writes raw payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// BlobOptions configures a BlobTarget.
type BlobOptions struct {
	// Origin identifies the store, e.g. "memory://" or "gs://bucket".
	Origin string
	// Prefix is prepended to every object path.
	Prefix string
}

// BlobTarget writes each delivered payload to <prefix>/<load_id>/<sha256><ext>.
type BlobTarget struct {
	store  BlobStore
	origin string
	prefix string
	logger *zap.Logger

	mu   sync.RWMutex
	uris map[uuid.UUID]string
}

// NewBlobTarget validates opts and returns a BlobTarget.
func NewBlobTarget(store BlobStore, opts BlobOptions, logger *zap.Logger) (*BlobTarget, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if strings.TrimSpace(opts.Origin) == "" {
		return nil, errors.New("blob target origin is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobTarget{
		store:  store,
		origin: opts.Origin,
		prefix: strings.Trim(opts.Prefix, "/"),
		logger: logger,
		uris:   make(map[uuid.UUID]string),
	}, nil
}

// Origin implements loader.ContentTarget.
func (t *BlobTarget) Origin() string {
	return t.origin
}

// Deliver stores msg.Payload.
func (t *BlobTarget) Deliver(ctx context.Context, msg loader.Message) error {
	objectPath := ObjectPath(t.prefix, msg)
	contentType := msg.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	uri, err := t.store.PutObject(ctx, objectPath, contentType, bytes.NewReader(msg.Payload))
	if err != nil {
		return fmt.Errorf("put %s: %w", objectPath, err)
	}
	t.mu.Lock()
	t.uris[msg.LoadID] = uri
	t.mu.Unlock()
	t.logger.Info("payload stored",
		zap.String("load_id", msg.LoadID.String()),
		zap.String("uri", uri),
		zap.Int("bytes", len(msg.Payload)),
	)
	return nil
}

// URI returns where the payload for loadID was stored.
func (t *BlobTarget) URI(loadID uuid.UUID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	uri, ok := t.uris[loadID]
	return uri, ok
}

// ObjectPath builds the storage key for msg. The extension follows the
// source URL and falls back to ".bin".
func ObjectPath(prefix string, msg loader.Message) string {
	name := msg.Digest
	if name == "" {
		name = "payload"
	}
	ext := path.Ext(urlPath(msg.URL))
	if ext == "" || len(ext) > 8 {
		ext = ".bin"
	}
	return path.Join(prefix, msg.LoadID.String(), name+ext)
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}
