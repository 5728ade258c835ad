package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const dirPrefix = "engine-"

// fsWorkspaceManager manages per-engine directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
}

var _ Manager = (*fsWorkspaceManager)(nil)

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	return &fsWorkspaceManager{
		baseDir: filepath.Clean(trimmed),
	}, nil
}

// Ensure creates the workspace directory for engine if needed.
func (m *fsWorkspaceManager) Ensure(ctx context.Context, engine int) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(engine)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for engine %d: %w", engine, err)
	}

	return Workspace{Engine: engine, Dir: path}, nil
}

// Open returns metadata for an existing workspace directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, engine int) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(engine)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for engine %d: %w", engine, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for engine %d is not a directory", engine)
	}

	return Workspace{Engine: engine, Dir: path}, nil
}

// Prune removes engine directories whose id is >= keep. Unrelated entries are left alone.
func (m *fsWorkspaceManager) Prune(ctx context.Context, keep int) (PruneReport, error) {
	if err := ctx.Err(); err != nil {
		return PruneReport{}, err
	}
	if keep < 0 {
		return PruneReport{}, fmt.Errorf("keep must not be negative")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return PruneReport{}, nil
	}
	if err != nil {
		return PruneReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	report := PruneReport{}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), dirPrefix))
		if err != nil || id < keep {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove workspace %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(engine int) (string, error) {
	if engine < 0 {
		return "", fmt.Errorf("engine id %d is negative", engine)
	}
	return filepath.Join(m.baseDir, dirPrefix+strconv.Itoa(engine)), nil
}
