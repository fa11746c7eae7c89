// Package media resolves and stores broadcast payloads behind
// content-addressed references.
//
// A reference is the SHA-256 of the content plus the original extension, so
// re-uploading identical bytes yields the same handle. Backends: a local
// directory and an S3-compatible object store. The engine only needs Open;
// Put is used by the admin compose flow when it captures media from an
// incoming message.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"telecast/internal/config"
)

var ErrNotFound = errors.New("media: object not found")

// Store holds broadcast payloads keyed by content-addressed reference.
type Store interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Put(ctx context.Context, data []byte, name string) (string, error)
}

// Open initializes the configured backend. Returns (nil, nil) when the
// driver is "none" or empty: media jobs then degrade to captioned text.
func Open(cfg config.MediaConfig, log zerolog.Logger) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		return openFS(cfg.Dir)
	case "s3":
		return openS3(cfg, log)
	default:
		return nil, fmt.Errorf("unknown media driver %q", cfg.Driver)
	}
}

// refFor derives the content-addressed reference for a payload.
func refFor(data []byte, name string) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) + strings.ToLower(filepath.Ext(name))
}

// validRef rejects references that could escape the storage namespace.
func validRef(ref string) bool {
	return ref != "" && !strings.ContainsAny(ref, `/\`) && ref != "." && ref != ".."
}

// fsStore keeps payloads as flat files in one directory.
type fsStore struct {
	dir string
}

func openFS(dir string) (*fsStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("media: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fsStore{dir: dir}, nil
}

func (s *fsStore) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	if !validRef(ref) {
		return nil, fmt.Errorf("media: invalid ref %q", ref)
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return f, err
}

func (s *fsStore) Put(_ context.Context, data []byte, name string) (string, error) {
	ref := refFor(data, name)
	dst := filepath.Join(s.dir, ref)
	if _, err := os.Stat(dst); err == nil {
		return ref, nil // content-addressed: already present
	}

	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return ref, nil
}
