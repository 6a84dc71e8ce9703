// Package session allocates session identifiers and their private storage
// directories under a root.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"document-portal/internal/apperr"
	"document-portal/internal/logger"
	"document-portal/internal/model"
)

const (
	idPrefix     = "session_"
	idTimeLayout = "20060102_150405"
	idNanoDigits = 9
	mintAttempts = 3
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Manager owns one storage root. Two managers with different roots never share
// session directories even when ids coincide.
type Manager struct {
	root  string
	locks *Locks
	log   *zap.Logger
	now   func() time.Time
}

func NewManager(root string, locks *Locks, log *zap.Logger) *Manager {
	if locks == nil {
		locks = NewLocks()
	}
	return &Manager{
		root:  root,
		locks: locks,
		log:   logger.OrNop(log),
		now:   time.Now,
	}
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) Locks() *Locks { return m.locks }

// Path is the storage directory of id under this manager's root.
func (m *Manager) Path(id string) string { return filepath.Join(m.root, id) }

// NewID mints a time-prefixed id with a random suffix. The nanosecond field
// keeps ids minted within the same second in creation order.
func NewID(now time.Time) string {
	now = now.UTC()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s_%0*d_%s", idPrefix, now.Format(idTimeLayout), idNanoDigits, now.Nanosecond(), suffix)
}

// ValidateID rejects ids that could escape the storage root.
func ValidateID(id string) error {
	if !validID.MatchString(id) {
		return apperr.Validation("session", fmt.Sprintf("invalid session id %q", id))
	}
	return nil
}

// CreateOrReuse reuses the namespace of sessionID when given, otherwise mints a
// fresh one. The directory exists when it returns.
func (m *Manager) CreateOrReuse(sessionID string) (model.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return model.Session{}, apperr.IO("create session", sessionID, m.root, err)
	}

	if sessionID != "" {
		if err := ValidateID(sessionID); err != nil {
			return model.Session{}, err
		}
		dir := m.Path(sessionID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return model.Session{}, apperr.IO("reuse session", sessionID, dir, err)
		}
		return model.Session{ID: sessionID, StorageRoot: dir, CreatedAt: m.createdAt(sessionID, dir)}, nil
	}

	for i := 0; i < mintAttempts; i++ {
		now := m.now()
		id := NewID(now)
		dir := m.Path(id)
		err := os.Mkdir(dir, 0o755)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return model.Session{}, apperr.IO("create session", id, dir, err)
		}
		m.log.Info("session created", zap.String("session_id", id), zap.String("path", dir))
		return model.Session{ID: id, StorageRoot: dir, CreatedAt: now}, nil
	}
	return model.Session{}, apperr.IO("create session", "", m.root, errors.New("could not mint a unique session id"))
}

// Get returns an existing session without creating it.
func (m *Manager) Get(sessionID string) (model.Session, bool, error) {
	if err := ValidateID(sessionID); err != nil {
		return model.Session{}, false, err
	}
	dir := m.Path(sessionID)
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, apperr.IO("get session", sessionID, dir, err)
	}
	if !info.IsDir() {
		return model.Session{}, false, nil
	}
	return model.Session{ID: sessionID, StorageRoot: dir, CreatedAt: m.createdAt(sessionID, dir)}, true, nil
}

// List returns every session directory under the root, oldest first.
func (m *Manager) List() ([]model.Session, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.IO("list sessions", "", m.root, err)
	}

	sessions := make([]model.Session, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || !validID.MatchString(e.Name()) {
			continue
		}
		dir := m.Path(e.Name())
		sessions = append(sessions, model.Session{ID: e.Name(), StorageRoot: dir, CreatedAt: m.createdAt(e.Name(), dir)})
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// Clear removes everything inside the session directory but keeps the directory.
// Callers must hold the session's write lock.
func (m *Manager) Clear(sessionID string) error {
	dir := m.Path(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return apperr.IO("clear session", sessionID, dir, err)
	}
	for _, e := range entries {
		if err := removeTree(filepath.Join(dir, e.Name())); err != nil {
			return apperr.IO("clear session", sessionID, dir, err)
		}
	}
	return nil
}

// Remove deletes the session directory and its contents under the write lock.
func (m *Manager) Remove(sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	unlock := m.locks.Lock(sessionID)
	defer unlock()

	dir := m.Path(sessionID)
	if err := removeTree(dir); err != nil {
		return apperr.IO("remove session", sessionID, dir, err)
	}
	m.log.Info("session removed", zap.String("session_id", sessionID))
	return nil
}

// removeTree deletes files first, then directories deepest first.
func removeTree(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return os.Remove(path)
	}

	var dirs []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			dirs = append(dirs, p)
			return nil
		}
		return os.Remove(p)
	})
	if err != nil {
		return err
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// createdAt reads the timestamp embedded in minted ids and falls back to the
// directory modification time for caller-supplied ids. Ids minted without the
// nanosecond field resolve to the whole second.
func (m *Manager) createdAt(id, dir string) time.Time {
	if t, ok := idTime(id); ok {
		return t
	}
	if info, err := os.Stat(dir); err == nil {
		return info.ModTime().UTC()
	}
	return time.Time{}
}

func idTime(id string) (time.Time, bool) {
	if !strings.HasPrefix(id, idPrefix) || len(id) < len(idPrefix)+len(idTimeLayout) {
		return time.Time{}, false
	}
	rest := id[len(idPrefix):]
	t, err := time.ParseInLocation(idTimeLayout, rest[:len(idTimeLayout)], time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	rest = rest[len(idTimeLayout):]
	if len(rest) > idNanoDigits+1 && rest[0] == '_' && rest[idNanoDigits+1] == '_' {
		if ns, err := strconv.Atoi(rest[1 : idNanoDigits+1]); err == nil {
			t = t.Add(time.Duration(ns))
		}
	}
	return t, true
}
