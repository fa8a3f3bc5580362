// Package testutils holds fixtures for tests of the Loam-backed playbook adapters.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"
	"github.com/stretchr/testify/require"
)

// SetupTestRepo creates a Loam repository in a temporary directory seeded with
// playbook files (name to content). It returns the absolute path of the
// directory and the repository, and fails the test on error.
func SetupTestRepo(t *testing.T, files map[string]string, opts ...loam.Option) (string, core.Repository) {
	t.Helper()

	absPath, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "Failed to get absolute path for temp dir")

	for name, content := range files {
		WritePlaybook(t, absPath, name, content)
	}

	repo, err := loam.Init(absPath, opts...)
	require.NoError(t, err, "Failed to init loam repo")

	return absPath, repo
}

// WritePlaybook writes one playbook document below dir, creating parent
// directories, and returns its path.
func WritePlaybook(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}
