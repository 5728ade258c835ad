package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pxshell/internal/render"
)

// DefaultFileName is looked up inside a config directory.
const DefaultFileName = "pxshell.yaml"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory containing pxshell.yaml.
// Values not present in the file keep their Defaults().
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFileName)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFileName, absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}
	return parseFile(absPath)
}

// parseFile reads, interpolates and validates one config file without integrity checks.
func parseFile(absPath string) (*Config, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SourcePath = absPath
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configPath when given, otherwise the first discovered config file,
// otherwise Defaults().
func LoadOrDefault(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	if found, ok := Discover(); ok {
		return Load(found)
	}
	return Defaults(), nil
}

// Discover returns the first existing config file from $PXSHELL_CONFIG, ./pxshell.yaml
// and ~/.config/pxshell/pxshell.yaml.
func Discover() (string, bool) {
	candidates := []string{}
	if env := strings.TrimSpace(os.Getenv("PXSHELL_CONFIG")); env != "" {
		candidates = append(candidates, env)
	}
	candidates = append(candidates, DefaultFileName)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "pxshell", DefaultFileName))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, true
		}
	}
	return "", false
}

// resolvePaths anchors relative data paths at the config file's directory.
func (c *Config) resolvePaths(baseDir string) {
	if c.Pool.WorkDir != "" && !filepath.IsAbs(c.Pool.WorkDir) {
		c.Pool.WorkDir = filepath.Join(baseDir, c.Pool.WorkDir)
	}
	if c.History.Path != "" && !filepath.IsAbs(c.History.Path) {
		c.History.Path = filepath.Join(baseDir, c.History.Path)
	}
}

// interpolateEnv replaces ${VAR} with environment values. Unset variables stay in place
// so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// verifyConfigHash checks path against a .checksums manifest in its directory.
// A missing manifest skips verification.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		return nil
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: pxshell config hash --config %s", basename, dir, path)
	}
	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"If you edited this file intentionally, run: pxshell config hash --config %s", path, err, path)
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Pool.Engines < 1 {
		return fmt.Errorf("pool.engines must be at least 1")
	}
	if cfg.Pool.Engines > 1024 {
		return fmt.Errorf("pool.engines must be at most 1024")
	}
	if strings.TrimSpace(cfg.Pool.Shell) == "" {
		return fmt.Errorf("pool.shell is required")
	}
	if cfg.Pool.KillGrace < 0 {
		return fmt.Errorf("pool.kill_grace must not be negative")
	}
	for k, v := range cfg.Pool.Env {
		if m := envVarPattern.FindStringSubmatch(v); len(m) > 1 {
			return fmt.Errorf("pool.env.%s: environment variable ${%s} is not set", k, m[1])
		}
	}

	if _, err := cfg.ExecutionSettings(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	if _, err := render.ParseGroupBy(cfg.Execution.GroupOutputs); err != nil {
		return fmt.Errorf("execution.group_outputs: %w", err)
	}

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	if cfg.API.Enabled {
		if strings.TrimSpace(cfg.API.Listen) == "" {
			return fmt.Errorf("api.listen is required when api is enabled")
		}
		if m := envVarPattern.FindStringSubmatch(cfg.API.APIKey); len(m) > 1 {
			return fmt.Errorf("api.api_key: environment variable ${%s} is not set", m[1])
		}
	}

	if strings.ContainsAny(cfg.Magics.Suffix, " \t%") {
		return fmt.Errorf("magics.suffix must not contain whitespace or %%")
	}
	return nil
}
