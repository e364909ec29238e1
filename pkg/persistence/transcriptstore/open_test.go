package transcriptstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_Backends(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name     string
		settings Settings
		check    func(t *testing.T, s Store)
	}{
		{
			name:     "memory",
			settings: Settings{Backend: "memory"},
			check: func(t *testing.T, s Store) {
				require.IsType(t, &InMemoryStore{}, s)
			},
		},
		{
			name:     "file",
			settings: Settings{Backend: "FILE", Root: filepath.Join(dir, "files"), RetryAttempts: 2},
			check: func(t *testing.T, s Store) {
				fs, ok := s.(*FileStore)
				require.True(t, ok)
				require.Equal(t, filepath.Join(dir, "files"), fs.Root())
				require.Equal(t, 2, fs.retryAttempts)
			},
		},
		{
			name:     "sqlite",
			settings: Settings{Backend: "sqlite", SQLiteDB: filepath.Join(dir, "nested", "t.db")},
			check: func(t *testing.T, s Store) {
				require.IsType(t, &SQLiteStore{}, s)
				require.FileExists(t, filepath.Join(dir, "nested", "t.db"))
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, cleanup, err := Open(tc.settings)
			require.NoError(t, err)
			defer cleanup()
			tc.check(t, s)
			mustLog(t, s, msg("c1", "m1", t0, "x"))
			require.Len(t, readAll(t, s, "c1"), 1)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, cleanup, err := Open(Settings{Backend: "cassette"})
	require.Error(t, err)
	cleanup()
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.Equal(t, BackendFile, s.Backend)
	require.Equal(t, DefaultRetryAttempts, s.RetryAttempts)
	require.Equal(t, 50, s.RetryIntervalMS)
}

func TestNewSection(t *testing.T) {
	section, err := NewSection()
	require.NoError(t, err)
	require.Equal(t, SectionSlug, section.GetSlug())
}
