package workspace

import "context"

// Workspace is the working directory of one engine. Engines start every command there,
// so files written by one command are visible to the next on the same engine.
type Workspace struct {
	Engine int
	Dir    string
}

// PruneReport summarizes a prune run.
type PruneReport struct {
	DeletedDirs int
}

// Manager governs per-engine working directories.
type Manager interface {
	// Ensure creates the workspace for engine if missing and returns it.
	Ensure(ctx context.Context, engine int) (Workspace, error)

	// Open resolves an existing workspace for engine.
	Open(ctx context.Context, engine int) (Workspace, error)

	// Prune removes workspaces of engines with id >= keep, left behind by a larger pool.
	Prune(ctx context.Context, keep int) (PruneReport, error)
}
