package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GetPath retrieves a value from the configuration using a dot-notation path
// such as "pool.engines" or "execution.targets". An empty path returns the whole tree.
func (c *Config) GetPath(path string) (any, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return getValue(m, path)
}

func getValue(m map[string]any, path string) (any, error) {
	parts := strings.Split(path, ".")
	var current any = m

	for _, part := range parts {
		if part == "" {
			continue
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q breaks at %q (not a map)", path, part)
		}

		val, exists := m[part]
		if !exists {
			return nil, fmt.Errorf("path %q: key %q not found", path, part)
		}
		current = val
	}

	return current, nil
}

func findNode(node *yaml.Node, path string, create bool) (*yaml.Node, error) {
	parts := strings.Split(path, ".")
	current := node

	for _, part := range parts {
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%q is not a mapping", part)
		}

		found := false
		for i := 0; i < len(current.Content); i += 2 {
			keyNode := current.Content[i]
			if keyNode.Value == part {
				current = current.Content[i+1]
				found = true
				break
			}
		}

		if !found {
			if !create {
				return nil, fmt.Errorf("key %q not found", part)
			}
			keyNode := &yaml.Node{
				Kind:  yaml.ScalarNode,
				Tag:   "!!str",
				Value: part,
			}
			// overwritten by the scalar when this is the last part
			valueNode := &yaml.Node{
				Kind: yaml.MappingNode,
				Tag:  "!!map",
			}
			current.Content = append(current.Content, keyNode, valueNode)
			current = valueNode
		}
	}

	return current, nil
}

// SetPath sets the scalar at path in the file the config was loaded from. The
// in-memory Config is not touched. With persist false the edited document is
// returned without writing. A persisted edit is reloaded and rolled back when
// the result does not load.
func (c *Config) SetPath(path, value string, persist bool) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	if c.SourcePath == "" {
		return nil, fmt.Errorf("no configuration file loaded (running on defaults)")
	}
	// pool.env is free-form; everything else must already exist
	if !strings.HasPrefix(path, "pool.env.") {
		if _, err := c.GetPath(path); err != nil {
			return nil, fmt.Errorf("unknown setting: %w", err)
		}
	}

	original, err := os.ReadFile(c.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(original, &root); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		// empty file: start a fresh mapping
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}

	target, err := findNode(root.Content[0], path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to navigate/create path %q: %w", path, err)
	}

	target.Kind = yaml.ScalarNode
	target.Value = value
	target.Tag = guessTag(value)
	target.Content = nil

	candidate, err := yaml.Marshal(&root)
	if err != nil {
		return nil, err
	}
	if !persist {
		return candidate, nil
	}

	return candidate, c.persistWithValidation(original, candidate)
}

func guessTag(v string) string {
	if v == "true" || v == "false" {
		return "!!bool"
	}
	isDigit := true
	for i, c := range v {
		if i == 0 && c == '-' {
			continue
		}
		if c < '0' || c > '9' {
			isDigit = false
			break
		}
	}
	if isDigit && v != "" && v != "-" {
		return "!!int"
	}
	return "!!str"
}

func (c *Config) persistWithValidation(original, candidate []byte) error {
	mode := os.FileMode(0644)
	if info, statErr := os.Stat(c.SourcePath); statErr == nil {
		mode = info.Mode().Perm()
	}

	if err := os.WriteFile(c.SourcePath, candidate, mode); err != nil {
		return fmt.Errorf("failed to persist config change: %w", err)
	}

	if _, err := parseFile(c.SourcePath); err != nil {
		restoreErr := os.WriteFile(c.SourcePath, original, mode)
		if restoreErr != nil {
			return fmt.Errorf("validation failed (%v) and rollback failed (%v)", err, restoreErr)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	return c.relock()
}

// relock regenerates the directory's .checksums when it already covers the edited file.
func (c *Config) relock() error {
	dir := filepath.Dir(c.SourcePath)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		return nil
	}
	if _, ok := manifest.Hashes[filepath.Base(c.SourcePath)]; !ok {
		return nil
	}
	files := make([]string, 0, len(manifest.Hashes))
	for name := range manifest.Hashes {
		files = append(files, name)
	}
	sort.Strings(files)
	if _, err := GenerateChecksums(dir, files, false); err != nil {
		return fmt.Errorf("config saved but checksums not refreshed: %w", err)
	}
	return nil
}
