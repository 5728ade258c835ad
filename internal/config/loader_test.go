package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/pxshell/internal/render"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultFileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file keeps defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Pool.Engines != 4 {
					t.Errorf("engines = %d, want 4", cfg.Pool.Engines)
				}
				if cfg.Pool.KillGrace != 5*time.Second {
					t.Errorf("kill_grace = %v, want 5s", cfg.Pool.KillGrace)
				}
				if !cfg.History.Enabled {
					t.Error("history should be enabled by default")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  name: lab
  log_level: debug
  log_format: text
pool:
  engines: 8
  shell: /bin/bash
  work_dir: engines
  kill_grace: 2s
  env:
    STAGE: test
execution:
  targets: "0:4"
  block: false
  stream_output: false
  verbose: true
  progress_after: 0.5
  signal_on_interrupt: none
  group_outputs: engine
history:
  enabled: false
api:
  enabled: true
  listen: 127.0.0.1:9999
magics:
  suffix: lab
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "lab" || cfg.Service.LogFormat != "text" {
					t.Errorf("service not parsed: %+v", cfg.Service)
				}
				if cfg.Pool.Engines != 8 || cfg.Pool.Shell != "/bin/bash" {
					t.Errorf("pool not parsed: %+v", cfg.Pool)
				}
				if !filepath.IsAbs(cfg.Pool.WorkDir) || filepath.Base(cfg.Pool.WorkDir) != "engines" {
					t.Errorf("work_dir not anchored at config dir: %s", cfg.Pool.WorkDir)
				}
				if cfg.Pool.Env["STAGE"] != "test" {
					t.Error("pool.env not parsed")
				}
				if cfg.Magics.Suffix != "lab" {
					t.Errorf("suffix = %q", cfg.Magics.Suffix)
				}

				settings, err := cfg.ExecutionSettings()
				if err != nil {
					t.Fatalf("ExecutionSettings: %v", err)
				}
				if got := settings.Targets.Resolve([]int{0, 1, 2, 3, 4, 5}); len(got) != 4 {
					t.Errorf("targets resolve to %v", got)
				}
				if settings.Block || settings.StreamOutput || !settings.Verbose {
					t.Errorf("flags not parsed: %+v", settings)
				}
				if settings.ProgressAfter != 500*time.Millisecond {
					t.Errorf("progress_after = %v", settings.ProgressAfter)
				}
				if settings.InterruptSignal != nil {
					t.Errorf("signal should be nil for none, got %v", settings.InterruptSignal)
				}
				if settings.GroupBy != render.GroupByEngine {
					t.Errorf("group_by = %q", settings.GroupBy)
				}
			},
		},
		{
			name: "env interpolation",
			yaml: `
api:
  enabled: true
  api_key: ${PXSHELL_TEST_KEY}
`,
			env: map[string]string{"PXSHELL_TEST_KEY": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.API.APIKey != "s3cret" {
					t.Errorf("api_key = %q", cfg.API.APIKey)
				}
			},
		},
		{
			name:    "unset env var in api key",
			yaml:    "api:\n  enabled: true\n  api_key: ${PXSHELL_TEST_UNSET_KEY}\n",
			wantErr: "PXSHELL_TEST_UNSET_KEY",
		},
		{
			name:    "zero engines",
			yaml:    "pool:\n  engines: 0\n",
			wantErr: "pool.engines",
		},
		{
			name:    "bad targets",
			yaml:    "execution:\n  targets: \"__import__('os')\"\n",
			wantErr: "targets",
		},
		{
			name:    "bad signal",
			yaml:    "execution:\n  signal_on_interrupt: SIGBOGUS\n",
			wantErr: "signal",
		},
		{
			name:    "bad grouping",
			yaml:    "execution:\n  group_outputs: colour\n",
			wantErr: "group_outputs",
		},
		{
			name:    "suffix with percent",
			yaml:    "magics:\n  suffix: \"%x\"\n",
			wantErr: "magics.suffix",
		},
		{
			name:    "malformed yaml",
			yaml:    "pool: [",
			wantErr: "parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.SourcePath != path {
				t.Errorf("SourcePath = %q, want %q", cfg.SourcePath, path)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, cfg)
			}
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "pool:\n  engines: 2\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir) error = %v", err)
	}
	if cfg.Pool.Engines != 2 {
		t.Errorf("engines = %d, want 2", cfg.Pool.Engines)
	}

	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected error for directory without pxshell.yaml")
	}
}

func TestLoadVerifiesChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "pool:\n  engines: 2\n")

	if _, err := GenerateChecksums(dir, []string{DefaultFileName}, false); err != nil {
		t.Fatalf("GenerateChecksums: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() with matching checksums: %v", err)
	}

	writeConfig(t, dir, "pool:\n  engines: 3\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "verification failed") {
		t.Fatalf("expected verification failure, got %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv("PXSHELL_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.SourcePath != "" {
		t.Errorf("expected defaults, got config from %s", cfg.SourcePath)
	}

	path := writeConfig(t, t.TempDir(), "pool:\n  engines: 6\n")
	t.Setenv("PXSHELL_CONFIG", path)
	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Pool.Engines != 6 {
		t.Errorf("engines = %d, want 6 from $PXSHELL_CONFIG", cfg.Pool.Engines)
	}
}

func TestInterpolateEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "simple replacement",
			input: "path: ${PXSHELL_TEST_HOME}/data",
			env:   map[string]string{"PXSHELL_TEST_HOME": "/users/test"},
			want:  "path: /users/test/data",
		},
		{
			name:  "multiple vars",
			input: "${PXSHELL_TEST_USER}:${PXSHELL_TEST_PASS}",
			env: map[string]string{
				"PXSHELL_TEST_USER": "admin",
				"PXSHELL_TEST_PASS": "secret",
			},
			want: "admin:secret",
		},
		{
			name:  "undefined var unchanged",
			input: "key: ${PXSHELL_TEST_UNDEFINED}",
			want:  "key: ${PXSHELL_TEST_UNDEFINED}",
		},
		{
			name:  "no vars",
			input: "plain text",
			want:  "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got := interpolateEnv(tt.input)
			if got != tt.want {
				t.Errorf("interpolateEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}
