package state

import (
	"context"
	"fmt"

	"github.com/picklr-io/splunk-stack/internal/ir"
)

// Backend stores the state of one stack.
type Backend interface {
	// Read loads the state, or a fresh state if none has been written.
	Read(ctx context.Context) (*ir.State, error)

	// Write saves the state.
	Write(ctx context.Context, state *ir.State) error

	// Lock acquires an exclusive lock on the state.
	Lock(ctx context.Context) error

	// Unlock releases a lock taken by Lock.
	Unlock(ctx context.Context) error
}

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Type   string            `json:"type" yaml:"type"` // "local" or "s3"
	Config map[string]string `json:"config" yaml:"config"`
}

// NewBackend creates a state backend from configuration. The local backend
// reads "path"; see S3Config for the s3 keys.
func NewBackend(ctx context.Context, cfg *BackendConfig) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backend configuration is nil")
	}

	enc, err := EncryptorFromEnv()
	if err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = DefaultPath
		}
		return NewManager(path, WithEncryptor(enc)), nil
	case "s3":
		s3cfg, err := ParseS3Config(cfg.Config)
		if err != nil {
			return nil, err
		}
		return newS3Backend(ctx, s3cfg, enc)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
