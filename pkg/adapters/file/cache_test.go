package file

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_Contract(t *testing.T) {
	ports.RunRecoveryCacheContract(t, NewCache("/recovery", WithFs(afero.NewMemMapFs())))
}

func TestCache_ContractOnDisk(t *testing.T) {
	ports.RunRecoveryCacheContract(t, NewCache(t.TempDir()))
}

func TestCache_EmptyDirectory(t *testing.T) {
	c := NewCache("/missing", WithFs(afero.NewMemMapFs()))
	keys, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, c.Clear(domain.NewSessionKey("u", "p")))
}

func TestCache_NoTempFilesLeft(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := NewCache("/recovery", WithFs(fs))
	key := domain.NewSessionKey("ana", "onboarding")
	snap := domain.NewSnapshot(domain.NewProgress(key, ""), nil)

	require.NoError(t, c.Write(key, snap))
	require.NoError(t, c.Write(key, snap))

	var files []string
	entries, err := afero.ReadDir(fs, "/recovery/ana")
	require.NoError(t, err)
	for _, e := range entries {
		files = append(files, e.Name())
	}
	require.Len(t, files, 1)
	assert.Regexp(t, `^onboarding-[0-9a-f]{12}\.json$`, files[0])
}

func TestCache_ListSkipsCorruptSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	var logs bytes.Buffer
	c := NewCache("/recovery", WithFs(fs), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	key := domain.NewSessionKey("ana", "onboarding")
	require.NoError(t, c.Write(key, domain.NewSnapshot(domain.NewProgress(key, ""), nil)))
	require.NoError(t, afero.WriteFile(fs, "/recovery/bruno/offboarding-000000000000.json", []byte("{not json"), 0o600))

	keys, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, []domain.SessionKey{key}, keys)
	assert.Contains(t, logs.String(), "skipping unreadable snapshot")
	assert.Contains(t, logs.String(), "offboarding-000000000000.json")
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Ana":                   "ana",
		"ana.maría@example.com": "ana.mar-a-example.com",
		"ＡＢＣ":                   "abc",
		"sales/onboarding v2":   "sales-onboarding-v2",
		"../..":                 "_",
	}
	for in, want := range tests {
		assert.Equal(t, want, slug(in), in)
	}
}

func TestCache_RejectsInvalidKey(t *testing.T) {
	c := NewCache("/recovery", WithFs(afero.NewMemMapFs()))
	err := c.Write(domain.NewSessionKey("", "onboarding"), domain.RecoverySnapshot{})
	assert.Error(t, err)
}
