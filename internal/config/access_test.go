package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPath(t *testing.T) {
	cfg := Defaults()
	cfg.Service.Name = "lab"
	cfg.Pool.Env = map[string]string{"STAGE": "ci"}

	tests := []struct {
		name    string
		path    string
		want    any
		wantErr bool
	}{
		{
			name: "root service field",
			path: "service.name",
			want: "lab",
		},
		{
			name: "integer field",
			path: "pool.engines",
			want: 4,
		},
		{
			name: "duration field",
			path: "pool.kill_grace",
			want: "5s",
		},
		{
			name: "map entry",
			path: "pool.env.STAGE",
			want: "ci",
		},
		{
			name: "empty suffix is addressable",
			path: "magics.suffix",
			want: "",
		},
		{
			name:    "invalid path",
			path:    "service.missing",
			wantErr: true,
		},
		{
			name:    "scalar traversal",
			path:    "service.name.first",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cfg.GetPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetPath(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("service:\n  name: lab\npool:\n  engines: 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	t.Run("dry run leaves file untouched", func(t *testing.T) {
		out, err := cfg.SetPath("pool.engines", "6", false)
		require.NoError(t, err)
		assert.Contains(t, string(out), "engines: 6")

		reloaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 2, reloaded.Pool.Engines)
	})

	t.Run("persist existing key", func(t *testing.T) {
		_, err := cfg.SetPath("pool.engines", "6", true)
		require.NoError(t, err)

		reloaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 6, reloaded.Pool.Engines)
		assert.Equal(t, "lab", reloaded.Service.Name)
	})

	t.Run("persist creates missing section", func(t *testing.T) {
		_, err := cfg.SetPath("execution.targets", "0:2", true)
		require.NoError(t, err)

		reloaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "0:2", reloaded.Execution.Targets)
	})

	t.Run("free-form env key", func(t *testing.T) {
		_, err := cfg.SetPath("pool.env.STAGE", "ci", true)
		require.NoError(t, err)

		reloaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "ci", reloaded.Pool.Env["STAGE"])
	})

	t.Run("invalid value rolls back", func(t *testing.T) {
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		_, err = cfg.SetPath("pool.engines", "0", true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		_, err := cfg.SetPath("pool.engnes", "3", true)
		require.Error(t, err)
	})
}

func TestSetPathRefreshesChecksums(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  engines: 2\n"), 0o644))
	_, err := GenerateChecksums(tmpDir, []string{DefaultFileName}, false)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	_, err = cfg.SetPath("pool.engines", "3", true)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, reloaded.Pool.Engines)
}

func TestSetPathWithoutSourceFile(t *testing.T) {
	_, err := Defaults().SetPath("pool.engines", "2", true)
	assert.Error(t, err)
}
