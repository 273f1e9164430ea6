package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/walink/internal/crypto"
	"github.com/nextlevelbuilder/walink/internal/store"
)

// authFileName is the per-session credentials file inside <dir>/<session_id>/.
const authFileName = "auth.json"

// FileSessionStore implements store.SessionStore with one JSON file per session.
type FileSessionStore struct {
	dir    string
	sealer *crypto.Sealer
	mu     sync.Mutex
}

// NewFileSessionStore creates a store rooted at dir (e.g. ~/.walink/sessions).
// The directory is created lazily on the first Save.
func NewFileSessionStore(dir string, sealer *crypto.Sealer) *FileSessionStore {
	return &FileSessionStore{dir: dir, sealer: sealer}
}

// Path returns the credentials file for a session id.
func (s *FileSessionStore) Path(sessionID string) string {
	return filepath.Join(s.dir, sessionID, authFileName)
}

func (s *FileSessionStore) Load(_ context.Context, sessionID string) (*store.SessionData, error) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(s.Path(sessionID))
}

func (s *FileSessionStore) read(path string) (*store.SessionData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, store.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess store.SessionData
	if err := json.Unmarshal(data, &sess); err != nil {
		slog.Warn("session: discarding corrupt session file", "path", path, "error", err)
		return nil, store.ErrSessionNotFound
	}
	if !sess.Valid() {
		slog.Warn("session: discarding session file with missing fields", "path", path)
		return nil, store.ErrSessionNotFound
	}

	token, err := s.sealer.Open(sess.SessionID, sess.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("open auth token: %w", err)
	}
	sess.AuthToken = token
	return &sess, nil
}

func (s *FileSessionStore) Save(_ context.Context, data *store.SessionData) error {
	if data == nil {
		return errors.New("session: nil session data")
	}
	if err := store.ValidateSessionID(data.SessionID); err != nil {
		return err
	}

	rec := *data
	sealed, err := s.sealer.Seal(rec.SessionID, rec.AuthToken)
	if err != nil {
		return fmt.Errorf("seal auth token: %w", err)
	}
	rec.AuthToken = sealed

	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(data.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	// Write-then-rename so a crash never leaves a half-written file behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session file: %w", err)
	}

	slog.Info("session saved", "session", data.SessionID, "path", path)
	return nil
}

func (s *FileSessionStore) Delete(_ context.Context, sessionID string) error {
	if err := store.ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return store.ErrSessionNotFound
	}
	return err
}

func (s *FileSessionStore) List(_ context.Context) ([]store.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var result []store.SessionData
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sess, err := s.read(filepath.Join(s.dir, e.Name(), authFileName))
		if err != nil {
			continue
		}
		result = append(result, *sess)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].SessionID < result[j].SessionID })
	return result, nil
}

func (s *FileSessionStore) Close() error { return nil }
