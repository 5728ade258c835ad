package doctor

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/mattjoyce/pxshell/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Pool.Engines = 2
	cfg.Pool.WorkDir = t.TempDir()
	cfg.History.Path = t.TempDir() + "/history.db"
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg)
	d.fsCheck = func(string) error { return nil }
	d.lookPath = func(file string) (string, error) { return file, nil }
	return d
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()
	r := newDoctor(validConfig(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got: %v", r.Warnings)
	}
}

func TestValidate_ShellNotExecutable(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig(t))
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	r := d.Validate()
	if r.Valid {
		t.Fatal("expected invalid")
	}
	assertHasError(t, r, "pool", "not executable")
}

func TestValidate_WorkDirIsFile(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Pool.WorkDir = cfg.History.Path
	writeFile(t, cfg.Pool.WorkDir)
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "pool", "not a directory")
}

func TestValidate_ReservedEnv(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Pool.Env = map[string]string{"PX_ENGINE_ID": "7"}
	r := newDoctor(cfg).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	assertHasWarning(t, r, "pool", "overridden")
}

func TestValidate_TargetsOutsidePool(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Execution.Targets = "0,5"
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "execution", "engine 5 does not exist")
}

func TestValidate_EmptyRange(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Execution.Targets = "4:"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "execution", "selects no engines")
}

func TestValidate_BadSelector(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Execution.Targets = "rc.ids[0]"
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "execution", "invalid targets")
}

func TestValidate_UncatchableSignal(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Execution.SignalOnInterrupt = "9"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "execution", "SIGKILL cannot be handled")
}

func TestValidate_StreamWithoutBlock(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Execution.Block = false
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "execution", "no effect on non-blocking")
}

func TestValidate_HistoryOnNetworkFS(t *testing.T) {
	t.Parallel()
	d := newDoctor(validConfig(t))
	d.fsCheck = func(string) error { return errors.New("history.path is on nfs") }
	r := d.Validate()
	assertHasError(t, r, "history", "nfs")
}

func TestValidate_HistoryDisabledSkipsFSCheck(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.History.Enabled = false
	d := newDoctor(cfg)
	d.fsCheck = func(string) error { t.Fatal("fs check should not run"); return nil }
	if r := d.Validate(); !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
}

func TestValidate_APIWithoutKeyOnPublicAddress(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "0.0.0.0:8765"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "api", "without an api_key")

	cfg.API.Listen = "127.0.0.1:8765"
	r = newDoctor(cfg).Validate()
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings on loopback, got: %v", r.Warnings)
	}
}

func TestValidate_APIBadListen(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.API.Enabled = true
	cfg.API.Listen = "8765"
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "api", "invalid listen address")
}

func TestValidate_SuffixWithPercent(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Magics.Suffix = "%2"
	r := newDoctor(cfg).Validate()
	assertHasError(t, r, "magics", "suffix")
}

func TestValidate_MissingEnvVars(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Pool.Env = map[string]string{"TOKEN": "${PXSHELL_DOCTOR_TEST_UNSET}"}
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "env_vars", "PXSHELL_DOCTOR_TEST_UNSET")
}

func TestValidate_UnknownLogLevel(t *testing.T) {
	t.Parallel()
	cfg := validConfig(t)
	cfg.Service.LogLevel = "chatty"
	r := newDoctor(cfg).Validate()
	assertHasWarning(t, r, "service", "unknown log level")
}

func TestFormatHuman(t *testing.T) {
	t.Parallel()

	out := FormatHuman(&Result{Valid: true})
	if out != "Configuration valid.\n" {
		t.Fatalf("unexpected output: %q", out)
	}

	out = FormatHuman(&Result{
		Valid:    false,
		Errors:   []Issue{{Category: "pool", Field: "pool.shell", Message: "missing"}},
		Warnings: []Issue{{Category: "api", Message: "open"}},
	})
	if !strings.Contains(out, "Configuration invalid (1 error(s), 1 warning(s))") {
		t.Fatalf("missing summary: %q", out)
	}
	if !strings.Contains(out, "ERROR [pool] pool.shell: missing") {
		t.Fatalf("missing error line: %q", out)
	}
	if !strings.Contains(out, "WARN  [api] open") {
		t.Fatalf("missing warning line: %q", out)
	}
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()
	out, err := FormatJSON(&Result{Valid: true})
	if err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}
	if !strings.Contains(out, `"valid": true`) {
		t.Fatalf("unexpected json: %s", out)
	}
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func assertHasError(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, e := range r.Errors {
		if e.Category == category && strings.Contains(e.Message, substring) {
			return
		}
	}
	t.Fatalf("expected error with category=%q containing %q, got: %v", category, substring, r.Errors)
}

func assertHasWarning(t *testing.T, r *Result, category, substring string) {
	t.Helper()
	for _, w := range r.Warnings {
		if w.Category == category && strings.Contains(w.Message, substring) {
			return
		}
	}
	t.Fatalf("expected warning with category=%q containing %q, got: %v", category, substring, r.Warnings)
}
