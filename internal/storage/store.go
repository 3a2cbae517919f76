package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a flat key/value blob store. S3Service and LocalStore implement it.
type ObjectStore interface {
	PutObject(ctx context.Context, key, contentType string, data []byte) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// Artifacts adapts an ObjectStore to the recording artifact interface.
type Artifacts struct {
	Store ObjectStore
}

func (a Artifacts) PutArtifact(ctx context.Context, key, contentType string, data []byte) error {
	return a.Store.PutObject(ctx, key, contentType, data)
}

func (a Artifacts) GetArtifact(ctx context.Context, key string) ([]byte, error) {
	return a.Store.GetObject(ctx, key)
}

// LocalStore keeps objects on local disk under Root. Used when S3 is not configured.
type LocalStore struct {
	Root    string
	BaseURL string
}

// NewLocalStore 로컬 디스크 저장소 생성
func NewLocalStore(root, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.Root, clean), nil
}

// PutObject writes through a temp file so readers never see a partial object.
func (l *LocalStore) PutObject(_ context.Context, key, _ string, data []byte) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (l *LocalStore) GetObject(_ context.Context, key string) ([]byte, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (l *LocalStore) URL(key string) string {
	return l.BaseURL + "/" + strings.TrimLeft(key, "/")
}
