package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/history"
	"github.com/mattjoyce/pxshell/internal/inspect"
	"github.com/mattjoyce/pxshell/internal/storage"
	"github.com/mattjoyce/pxshell/internal/workspace"
)

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		return runHistoryList(nil)
	}
	if isHelpToken(args[0]) {
		printHistoryNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printHistoryListHelp()
			return 0
		}
		return runHistoryList(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printHistoryShowHelp()
			return 0
		}
		return runHistoryShow(actionArgs)
	default:
		if strings.HasPrefix(action, "-") {
			return runHistoryList(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func printHistoryNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pxshell history <action> [flags]")
	fmt.Fprintln(w, "Actions: list, show")
}

func printHistoryListHelp() {
	fmt.Println("Usage: pxshell history list [--config PATH] [--limit N] [--json]")
	fmt.Println("Show recorded submissions, newest first.")
}

func printHistoryShowHelp() {
	fmt.Println("Usage: pxshell history show <id> [--config PATH] [--json]")
	fmt.Println("Show one submission with its engine workspaces and their files.")
}

// openHistory opens the submission log named by the configuration.
func openHistory(ctx context.Context, configPath string) (*config.Config, *history.Store, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.History.Enabled {
		return nil, nil, nil, fmt.Errorf("submission history is disabled (history.enabled: false)")
	}
	if _, err := os.Stat(cfg.History.Path); err != nil {
		return nil, nil, nil, fmt.Errorf("no submission history at %s", cfg.History.Path)
	}

	db, err := storage.OpenSQLite(ctx, cfg.History.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return cfg, history.New(db), func() { _ = db.Close() }, nil
}

func runHistoryList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of submissions")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	_, store, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeDB()

	entries, err := store.List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list history: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []history.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No submissions recorded.")
		return 0
	}

	fmt.Printf("%-36s  %-11s  %-16s  %-14s  %s\n", "ID", "STATUS", "TARGETS", "SUBMITTED", "COMMAND")
	for _, e := range entries {
		fmt.Printf("%-36s  %-11s  %-16s  %-14s  %s\n",
			e.ID,
			e.Status,
			config.AbbreviateIDs(e.Targets),
			humanize.Time(e.SubmittedAt),
			firstLine(e.Command, 60),
		)
	}
	return 0
}

func runHistoryShow(args []string) int {
	flagArgs, positionals := splitPositionals(args, map[string]bool{"config": true})

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pxshell history show <id> [--config PATH] [--json]")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, store, closeDB, err := openHistory(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer closeDB()

	ws, err := workspace.NewFSManager(cfg.Pool.WorkDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Workspace error: %v\n", err)
		return 1
	}

	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, store, ws, positionals[0])
		report += "\n"
	} else {
		report, err = inspect.BuildReport(ctx, store, ws, positionals[0])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

// firstLine returns the first line of s cut to width runes, marking elisions.
func firstLine(s string, width int) string {
	line, rest, multi := strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(line)
	if len(r) > width {
		return string(r[:width-3]) + "..."
	}
	if multi && rest != "" {
		return line + " ..."
	}
	return line
}
