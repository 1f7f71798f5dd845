// Package tokencache persists the cloud session token across restarts so a
// process bounce does not burn a login against Growatt's rate limiter.
package tokencache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/model"
)

type service struct {
	path   string
	logger *zap.Logger
}

// New returns a file-backed cache at path. An empty path yields a disabled
// cache that never loads and silently drops saves.
func New(path string) *service {
	return &service{
		path:   path,
		logger: zap.L(),
	}
}

// Load returns the cached session when one exists for the given identity.
// A token cached for a different account is ignored, not an error.
func (s *service) Load(identity string) (model.AuthSession, bool) {
	if s.path == "" {
		return model.AuthSession{}, false
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read token cache", zap.String("path", s.path), zap.Error(err))
		}
		return model.AuthSession{}, false
	}
	var session model.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.Warn("discarding corrupt token cache", zap.String("path", s.path), zap.Error(err))
		return model.AuthSession{}, false
	}
	if !session.Valid() || session.Identity != identity {
		return model.AuthSession{}, false
	}
	return session, true
}

// Save overwrites the cache atomically. The temp file stays on the same
// filesystem so the rename cannot fail with a cross-device error.
func (s *service) Save(session model.AuthSession) error {
	if s.path == "" {
		return nil
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token cache: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to restrict token cache permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	return nil
}
