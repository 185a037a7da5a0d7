package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

// FileBackend keeps cookies in a plain file.
type FileBackend struct {
	fs   afero.Afero
	path string
}

// NewFileBackend returns a backend for path on fs. A nil fs means the OS filesystem.
func NewFileBackend(fs afero.Fs, path string) *FileBackend {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileBackend{fs: afero.Afero{Fs: fs}, path: path}
}

// Load implements Backend.
func (b *FileBackend) Load(context.Context) (string, error) {
	data, err := b.fs.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Save implements Backend.
func (b *FileBackend) Save(_ context.Context, cookies string) error {
	if err := b.fs.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	return b.fs.WriteFile(b.path, []byte(cookies), 0o600)
}

func (b *FileBackend) String() string { return "file:" + b.path }

// KV is the subset of the redis client the redis backend needs.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
}

// RedisBackend keeps cookies under a single redis key without expiry.
type RedisBackend struct {
	kv  KV
	key string
}

// NewRedisBackend returns a backend storing at key.
func NewRedisBackend(kv KV, key string) *RedisBackend {
	return &RedisBackend{kv: kv, key: key}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) (string, error) {
	v, ok, err := b.kv.Get(ctx, b.key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, cookies string) error {
	return b.kv.Set(ctx, b.key, cookies, 0)
}

func (b *RedisBackend) String() string { return "redis:" + b.key }

// KeyringBackend keeps cookies in the OS keyring.
type KeyringBackend struct {
	service string
	user    string
}

// NewKeyringBackend returns a backend for the (service, user) entry.
func NewKeyringBackend(service, user string) *KeyringBackend {
	return &KeyringBackend{service: service, user: user}
}

// Load implements Backend.
func (b *KeyringBackend) Load(context.Context) (string, error) {
	v, err := keyring.Get(b.service, b.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring: %w", err)
	}
	return v, nil
}

// Save implements Backend.
func (b *KeyringBackend) Save(_ context.Context, cookies string) error {
	if err := keyring.Set(b.service, b.user, cookies); err != nil {
		return fmt.Errorf("keyring: %w", err)
	}
	return nil
}

func (b *KeyringBackend) String() string { return "keyring:" + b.service + "/" + b.user }
