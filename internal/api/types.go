package api

import (
	"time"

	"github.com/mattjoyce/pxshell/internal/pool"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Engines       int    `json:"engines"`
	EnginesBusy   int    `json:"engines_busy"`
}

// ConfigResponse is returned by GET /config.
type ConfigResponse struct {
	Targets              string  `json:"targets"`
	Block                bool    `json:"block"`
	StreamOutput         bool    `json:"stream_output"`
	Verbose              bool    `json:"verbose"`
	ProgressAfterSeconds float64 `json:"progress_after_seconds"`
	SignalOnInterrupt    string  `json:"signal_on_interrupt"`
	GroupOutputs         string  `json:"group_outputs"`
}

// EnginesResponse is returned by GET /engines.
type EnginesResponse struct {
	Engines []pool.EngineStatus `json:"engines"`
}

// EngineResult is one engine's output inside a ResultResponse.
type EngineResult struct {
	Engine   int    `json:"engine"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// ResultResponse is returned by GET /results/last. Results is present once the
// submission has finished.
type ResultResponse struct {
	ID          string         `json:"id"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Targets     []int          `json:"targets"`
	Done        bool           `json:"done"`
	OutputReady bool           `json:"output_ready"`
	Results     []EngineResult `json:"results,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// HistoryEntry is one row of GET /history.
type HistoryEntry struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Digest      string     `json:"command_digest"`
	Targets     []int      `json:"targets"`
	Blocking    bool       `json:"blocking"`
	Status      string     `json:"status"`
	Error       *string    `json:"error,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Submissions []HistoryEntry `json:"submissions"`
}
