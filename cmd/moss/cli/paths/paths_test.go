package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRelativePath(t *testing.T) {
	t.Parallel()
	root := filepath.Join(t.TempDir(), "wt")

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative", "src/a.go", "src/a.go", false},
		{"absolute inside", filepath.Join(root, "b.txt"), "b.txt", false},
		{"cleaned", "src/../c.txt", "c.txt", false},
		{"root itself", ".", "", true},
		{"escapes", "../other/d.txt", "", true},
		{"absolute outside", filepath.Join(filepath.Dir(root), "e.txt"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ToRelativePath(root, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsInfrastructurePath(t *testing.T) {
	t.Parallel()
	for path, want := range map[string]bool{
		".moss":                  true,
		".moss/shadow/HEAD":      true,
		".git":                   true,
		".git/config":            true,
		".mossy/file":            false,
		"src/.moss":              false,
		".github/workflows/ci.y": false,
	} {
		assert.Equal(t, want, IsInfrastructurePath(path), path)
	}
}

func TestRegistryPath_EnvOverride(t *testing.T) {
	want := filepath.Join(t.TempDir(), "reg.db")
	t.Setenv(RegistryPathEnvVar, want)

	got, err := RegistryPath()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestShadowStorePath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("/wt", ".moss", "shadow"), ShadowStorePath("/wt"))
}
