// Package state persists what has been deployed for a stack.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/picklr-io/splunk-stack/internal/ir"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where the local backend keeps state.
	DefaultPath = ".splunkstack/state.yaml"

	// Version is the state format written by this package.
	Version = 1
)

// Manager is the local backend: one YAML file plus a lock file beside it.
type Manager struct {
	path   string
	enc    *Encryptor
	lockID string
}

type Option func(*Manager)

// WithEncryptor seals state written to disk. A nil encryptor writes plain YAML.
func WithEncryptor(enc *Encryptor) Option {
	return func(m *Manager) { m.enc = enc }
}

func NewManager(path string, opts ...Option) *Manager {
	m := &Manager{path: path}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// New returns an empty state with a fresh lineage.
func New() *ir.State {
	return &ir.State{Version: Version, Lineage: uuid.NewString()}
}

// Read loads the state from the configured path. A missing file yields a
// fresh state; an encrypted file is decrypted transparently.
func (m *Manager) Read(ctx context.Context) (*ir.State, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}

	content, err := m.enc.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state %s: %w", m.path, err)
	}

	state, err := Decode(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load state from %s: %w", m.path, err)
	}
	return state, nil
}

// Write saves the state, replacing the file atomically. It refuses to
// overwrite a state file that belongs to another lineage.
func (m *Manager) Write(ctx context.Context, state *ir.State) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if existing, err := m.Read(ctx); err == nil {
		if err := checkLineage(existing, state); err != nil {
			return err
		}
	}

	content, err := Encode(state)
	if err != nil {
		return err
	}
	sealed, err := m.enc.Seal(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

// checkLineage fails when both states carry a lineage and they differ.
func checkLineage(existing, next *ir.State) error {
	if existing.Serial == 0 && len(existing.Resources) == 0 {
		return nil
	}
	if existing.Lineage != "" && next.Lineage != "" && existing.Lineage != next.Lineage {
		return fmt.Errorf("state lineage mismatch: stored %s, writing %s", existing.Lineage, next.Lineage)
	}
	return nil
}

// Encode renders state as YAML. A missing version or lineage is filled in.
func Encode(state *ir.State) ([]byte, error) {
	if state.Version == 0 {
		state.Version = Version
	}
	if state.Lineage == "" {
		state.Lineage = uuid.NewString()
	}
	out, err := yaml.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return out, nil
}

// Decode parses YAML state and rejects versions newer than this package writes.
func Decode(content []byte) (*ir.State, error) {
	var state ir.State
	if err := yaml.Unmarshal(content, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if state.Version > Version {
		return nil, fmt.Errorf("state version %d is newer than supported version %d", state.Version, Version)
	}
	if state.Version == 0 {
		state.Version = Version
	}
	return &state, nil
}
