// Package inspect renders a recorded submission together with the engine
// workspaces it ran in.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/history"
	"github.com/mattjoyce/pxshell/internal/workspace"
)

// EntryGetter loads one submission from the log.
type EntryGetter interface {
	Get(ctx context.Context, id string) (*history.Entry, error)
}

// Report is the structured JSON representation of a submission report.
type Report struct {
	SubmissionID  string       `json:"submission_id"`
	Command       string       `json:"command"`
	CommandDigest string       `json:"command_digest"`
	Status        string       `json:"status"`
	Blocking      bool         `json:"blocking"`
	Error         string       `json:"error,omitempty"`
	SubmittedAt   time.Time    `json:"submitted_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	Duration      string       `json:"duration,omitempty"`
	Engines       []EngineStep `json:"engines"`
}

// EngineStep is one target engine of the submission.
type EngineStep struct {
	Engine        int      `json:"engine"`
	WorkspacePath string   `json:"workspace_path,omitempty"`
	Artifacts     []string `json:"artifacts,omitempty"`
}

// BuildReport renders a terminal-friendly report for a submission.
func BuildReport(ctx context.Context, store EntryGetter, ws workspace.Manager, id string) (string, error) {
	report, err := gatherReportData(ctx, store, ws, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Submission Report\n")
	fmt.Fprintf(&out, "ID          : %s\n", report.SubmissionID)
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Targets     : %s\n", targetsLabel(report))
	fmt.Fprintf(&out, "Blocking    : %t\n", report.Blocking)
	fmt.Fprintf(&out, "Digest      : %s\n", renderUnset(shortDigest(report.CommandDigest), "<none>"))
	fmt.Fprintf(&out, "Submitted   : %s\n", report.SubmittedAt.Local().Format(time.RFC3339))
	if report.CompletedAt != nil {
		fmt.Fprintf(&out, "Completed   : %s (%s)\n", report.CompletedAt.Local().Format(time.RFC3339), report.Duration)
	} else {
		fmt.Fprintf(&out, "Completed   : <pending>\n")
	}
	if report.Error != "" {
		fmt.Fprintf(&out, "Error       :\n")
		for _, line := range strings.Split(strings.TrimRight(report.Error, "\n"), "\n") {
			fmt.Fprintf(&out, "  %s\n", line)
		}
	}
	fmt.Fprintf(&out, "Command     :\n")
	for _, line := range strings.Split(strings.TrimRight(report.Command, "\n"), "\n") {
		fmt.Fprintf(&out, "  %s\n", line)
	}
	fmt.Fprintf(&out, "\n")

	for _, step := range report.Engines {
		fmt.Fprintf(&out, "[engine %d]\n", step.Engine)
		fmt.Fprintf(&out, "    workspace  : %s\n", renderUnset(step.WorkspacePath, "<missing>"))
		if len(step.Artifacts) == 0 {
			fmt.Fprintf(&out, "    artifacts  : <none>\n")
		} else {
			fmt.Fprintf(&out, "    artifacts  :\n")
			for _, artifact := range step.Artifacts {
				fmt.Fprintf(&out, "      - %s\n", artifact)
			}
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable report.
func BuildJSONReport(ctx context.Context, store EntryGetter, ws workspace.Manager, id string) (string, error) {
	report, err := gatherReportData(ctx, store, ws, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store EntryGetter, ws workspace.Manager, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("submission id is required")
	}

	entry, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SubmissionID:  entry.ID,
		Command:       entry.Command,
		CommandDigest: entry.CommandDigest,
		Status:        string(entry.Status),
		Blocking:      entry.Blocking,
		SubmittedAt:   entry.SubmittedAt,
		CompletedAt:   entry.CompletedAt,
		Engines:       make([]EngineStep, 0, len(entry.Targets)),
	}
	if entry.Error != nil {
		report.Error = *entry.Error
	}
	if entry.CompletedAt != nil {
		report.Duration = entry.CompletedAt.Sub(entry.SubmittedAt).Round(time.Millisecond).String()
	}

	for _, engine := range entry.Targets {
		step := EngineStep{Engine: engine}
		if ws != nil {
			if w, err := ws.Open(ctx, engine); err == nil {
				step.WorkspacePath = w.Dir
				step.Artifacts, _ = listArtifacts(w.Dir)
			}
		}
		report.Engines = append(report.Engines, step)
	}

	return report, nil
}

func targetsLabel(r *Report) string {
	ids := make([]int, len(r.Engines))
	for i, e := range r.Engines {
		ids[i] = e.Engine
	}
	return config.AbbreviateIDs(ids)
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	return d
}

func listArtifacts(workspaceDir string) ([]string, error) {
	if _, err := os.Stat(workspaceDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	artifacts := make([]string, 0)
	err := filepath.WalkDir(workspaceDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == workspaceDir || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(artifacts)
	return artifacts, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
