package session

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"document-portal/internal/apperr"
)

func TestNewIDFormat(t *testing.T) {
	id := NewID(time.Date(2025, 3, 4, 5, 6, 7, 120, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^session_20250304_050607_000000120_[0-9a-f]{8}$`), id)
	assert.NoError(t, ValidateID(id))
}

func TestListOrdersIDsMintedWithinOneSecond(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	base := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	want := make([]string, 5)
	for i := range want {
		want[i] = NewID(base.Add(time.Duration(i) * time.Millisecond))
	}
	for i := len(want) - 1; i >= 0; i-- {
		_, err := m.CreateOrReuse(want[i])
		require.NoError(t, err)
	}

	sessions, err := m.List()
	require.NoError(t, err)
	got := make([]string, 0, len(sessions))
	for _, s := range sessions {
		got = append(got, s.ID)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, base.Add(4*time.Millisecond), sessions[4].CreatedAt)
}

func TestCreateOrReuseMintsAndCreatesDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "uploads"), nil, nil)

	s, err := m.CreateOrReuse("")
	require.NoError(t, err)
	assert.DirExists(t, s.StorageRoot)
	assert.Equal(t, filepath.Join(m.Root(), s.ID), s.StorageRoot)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestCreateOrReuseIsIdempotent(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)

	first, err := m.CreateOrReuse("session_20250101_000000_abcdef12")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(first.StorageRoot, "a.txt"), []byte("keep"), 0o644))

	second, err := m.CreateOrReuse("session_20250101_000000_abcdef12")
	require.NoError(t, err)
	assert.Equal(t, first.StorageRoot, second.StorageRoot)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), second.CreatedAt)
	assert.FileExists(t, filepath.Join(second.StorageRoot, "a.txt"))
}

func TestCreateOrReuseRejectsTraversal(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)

	for _, id := range []string{"../escape", "a/b", "with space"} {
		_, err := m.CreateOrReuse(id)
		assert.ErrorIs(t, err, apperr.ErrValidation, id)
	}
}

func TestConcurrentCreateNeverCollides(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.CreateOrReuse("")
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestListOrdersOldestFirst(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var created []string
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(2-i) * time.Hour)
		m.now = func() time.Time { return tick }
		s, err := m.CreateOrReuse("")
		require.NoError(t, err)
		created = append(created, s.ID)
	}
	// stray files are ignored
	require.NoError(t, os.WriteFile(filepath.Join(m.Root(), "README"), nil, 0o644))

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{created[2], created[1], created[0]}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestClearKeepsDirectory(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	s, err := m.CreateOrReuse("")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.StorageRoot, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.StorageRoot, "nested", "x.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.StorageRoot, "y.pdf"), []byte("y"), 0o644))

	require.NoError(t, m.Clear(s.ID))

	entries, err := os.ReadDir(s.StorageRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRemoveDeletesEverything(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	s, err := m.CreateOrReuse("")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.StorageRoot, "deep", "er"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.StorageRoot, "deep", "er", "f"), []byte("f"), 0o644))

	require.NoError(t, m.Remove(s.ID))
	assert.NoDirExists(t, s.StorageRoot)

	_, found, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.False(t, found)
}
