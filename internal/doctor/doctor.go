// Package doctor validates pxshell configuration beyond what loading enforces:
// it checks the environment the session will run in and flags risky settings.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"syscall"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg      *config.Config
	fsCheck  func(path string) error
	lookPath func(file string) (string, error)
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{
		cfg:      cfg,
		fsCheck:  storage.CheckLocalFilesystem,
		lookPath: exec.LookPath,
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateService(r)
	d.validatePool(r)
	d.validateExecution(r)
	d.validateHistory(r)
	d.validateAPI(r)
	d.validateMagics(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateService(r *Result) {
	switch strings.ToUpper(strings.TrimSpace(d.cfg.Service.LogLevel)) {
	case "", "DEBUG", "INFO", "WARN", "WARNING", "ERROR":
	default:
		d.addWarning(r, "service", "service.log_level",
			fmt.Sprintf("unknown log level %q, INFO will be used", d.cfg.Service.LogLevel))
	}
	switch strings.ToLower(d.cfg.Service.LogFormat) {
	case "", "json", "text":
	default:
		d.addWarning(r, "service", "service.log_format",
			fmt.Sprintf("unknown log format %q, json will be used", d.cfg.Service.LogFormat))
	}
}

// validatePool checks the engine shell and the pool's size.
func (d *Doctor) validatePool(r *Result) {
	p := d.cfg.Pool
	if p.Engines < 1 {
		d.addError(r, "pool", "pool.engines", "at least one engine is required")
	} else if p.Engines > 4*runtime.NumCPU() {
		d.addWarning(r, "pool", "pool.engines",
			fmt.Sprintf("%d engines on %d CPUs; commands will contend for CPU", p.Engines, runtime.NumCPU()))
	}

	if strings.TrimSpace(p.Shell) == "" {
		d.addError(r, "pool", "pool.shell", "pool.shell is required")
	} else if _, err := d.lookPath(p.Shell); err != nil {
		d.addError(r, "pool", "pool.shell", fmt.Sprintf("shell %q is not executable: %v", p.Shell, err))
	}

	if p.WorkDir == "" {
		d.addWarning(r, "pool", "pool.work_dir", "no work_dir; engines run in temporary directories")
	} else if info, err := os.Stat(p.WorkDir); err == nil && !info.IsDir() {
		d.addError(r, "pool", "pool.work_dir", fmt.Sprintf("%s exists and is not a directory", p.WorkDir))
	}

	for k := range p.Env {
		if k == "PX_ENGINE_ID" || k == "PX_ENGINE_COUNT" {
			d.addWarning(r, "pool", "pool.env."+k, "overridden by the engine pool at launch")
		}
	}
}

// validateExecution checks the dispatcher defaults against the pool.
func (d *Doctor) validateExecution(r *Result) {
	settings, err := d.cfg.ExecutionSettings()
	if err != nil {
		d.addError(r, "execution", "execution", err.Error())
		return
	}

	ids := make([]int, d.cfg.Pool.Engines)
	for i := range ids {
		ids[i] = i
	}
	resolved := settings.Targets.Resolve(ids)
	switch settings.Targets.Kind() {
	case config.SelectList:
		for _, id := range resolved {
			if id >= d.cfg.Pool.Engines {
				d.addError(r, "execution", "execution.targets",
					fmt.Sprintf("engine %d does not exist (pool has %d engines)", id, d.cfg.Pool.Engines))
			}
		}
	case config.SelectRange:
		if len(resolved) == 0 {
			d.addWarning(r, "execution", "execution.targets",
				fmt.Sprintf("range %s selects no engines", settings.Targets))
		}
	}

	if sig := settings.InterruptSignal; sig != nil {
		switch sig.Number {
		case syscall.SIGKILL, syscall.SIGSTOP:
			d.addWarning(r, "execution", "execution.signal_on_interrupt",
				fmt.Sprintf("%s cannot be handled by engine commands", sig.Name))
		case 0:
			d.addWarning(r, "execution", "execution.signal_on_interrupt",
				"signal 0 only checks engines are alive; interrupted commands keep running")
		}
	}

	if !settings.Block && settings.StreamOutput {
		d.addWarning(r, "execution", "execution.stream_output",
			"stream_output has no effect on non-blocking submissions")
	}
}

func (d *Doctor) validateHistory(r *Result) {
	h := d.cfg.History
	if !h.Enabled {
		return
	}
	if strings.TrimSpace(h.Path) == "" {
		d.addError(r, "history", "history.path", "history.path is required when history is enabled")
		return
	}
	if err := d.fsCheck(h.Path); err != nil {
		d.addError(r, "history", "history.path", err.Error())
	}
}

func (d *Doctor) validateAPI(r *Result) {
	a := d.cfg.API
	if !a.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", a.Listen, err))
		return
	}
	if a.APIKey == "" && !isLoopback(host) {
		d.addWarning(r, "api", "api.api_key",
			fmt.Sprintf("API listens on %s without an api_key", a.Listen))
	}
}

func (d *Doctor) validateMagics(r *Result) {
	if strings.ContainsAny(d.cfg.Magics.Suffix, " \t%") {
		d.addError(r, "magics", "magics.suffix", "suffix must not contain whitespace or %")
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved after loading.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	check := func(field, value string) {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	for k, v := range d.cfg.Pool.Env {
		check("pool.env."+k, v)
	}
	check("api.api_key", d.cfg.API.APIKey)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
