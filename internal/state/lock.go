package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// StaleLockAge is how old a lock may get before it is taken over.
const StaleLockAge = 10 * time.Minute

// LockInfo describes the holder of a state lock.
type LockInfo struct {
	ID      string    `json:"id" yaml:"id"`
	PID     int       `json:"pid" yaml:"pid"`
	Host    string    `json:"host" yaml:"host"`
	Created time.Time `json:"created" yaml:"created"`
}

func newLockInfo() LockInfo {
	host, _ := os.Hostname()
	return LockInfo{
		ID:      uuid.NewString(),
		PID:     os.Getpid(),
		Host:    host,
		Created: time.Now().UTC(),
	}
}

// LockedError reports a lock held by someone else.
type LockedError struct {
	Where string
	Info  LockInfo
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("state is locked by pid %d on %s since %s (lock %s, %s). "+
		"If this is an error, remove the lock manually",
		e.Info.PID, e.Info.Host, e.Info.Created.Format(time.RFC3339), e.Info.ID, e.Where)
}

// Lock acquires a file lock on the state to prevent concurrent modifications.
// A lock older than StaleLockAge is taken over.
func (m *Manager) Lock(ctx context.Context) error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	info := newLockInfo()
	content, err := yaml.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode lock: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(content)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(lockPath)
				return fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			m.lockID = info.ID
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		stat, serr := os.Stat(lockPath)
		if errors.Is(serr, os.ErrNotExist) {
			continue
		}
		raw, rerr := os.ReadFile(lockPath)
		if serr != nil || rerr != nil || time.Since(stat.ModTime()) <= StaleLockAge {
			return &LockedError{Where: "lock file " + lockPath, Info: parseLockInfo(raw)}
		}
		if err := takeOver(lockPath, raw, info.ID); err != nil {
			return err
		}
	}
	return fmt.Errorf("failed to acquire lock file %s", lockPath)
}

// takeOver moves the stale lock aside, then checks that what it moved is
// still the stale content. A fresh lock moved by mistake, because another
// process took the stale one over first, is put back and reported.
func takeOver(lockPath string, stale []byte, id string) error {
	aside := lockPath + "." + id + ".stale"
	if err := os.Rename(lockPath, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to move stale lock file: %w", err)
	}

	moved, err := os.ReadFile(aside)
	if err == nil && bytes.Equal(moved, stale) {
		os.Remove(aside)
		return nil
	}
	if err := os.Rename(aside, lockPath); err != nil {
		return fmt.Errorf("failed to restore lock file: %w", err)
	}
	return &LockedError{Where: "lock file " + lockPath, Info: parseLockInfo(moved)}
}

// Unlock releases the lock taken by Lock. A lock file that has since been
// taken over by someone else is left in place.
func (m *Manager) Unlock(ctx context.Context) error {
	if m.lockID == "" {
		return nil
	}
	id := m.lockID
	m.lockID = ""

	lockPath := m.lockPath()
	raw, err := os.ReadFile(lockPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read lock file: %w", err)
	}
	if held := parseLockInfo(raw); held.ID != id {
		return fmt.Errorf("lock file %s was taken over by lock %s (pid %d), leaving it in place", lockPath, held.ID, held.PID)
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func parseLockInfo(raw []byte) LockInfo {
	var info LockInfo
	_ = yaml.Unmarshal(raw, &info)
	return info
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}
