package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/dispatch"
	"github.com/mattjoyce/pxshell/internal/log"
	"github.com/mattjoyce/pxshell/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// exitInterrupted is the shell convention for a command ended by SIGINT.
const exitInterrupted = 130

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		return runShell(nil)
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "shell":
		if hasHelpFlag(args) {
			printShellHelp()
			return 0
		}
		return runShell(args)
	case "exec":
		if hasHelpFlag(args) {
			printExecHelp()
			return 0
		}
		return runExec(args)
	case "config":
		return runConfigNoun(args)
	case "history":
		return runHistoryNoun(args)
	case "monitor":
		if hasHelpFlag(args) {
			printMonitorHelp()
			return 0
		}
		return runMonitor(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: pxshell version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("pxshell %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalizedBuildTime, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalizedBuildTime
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`pxshell - interactive shell that runs commands across a pool of engines

Usage:
  pxshell [command] [flags]

Session Commands:
  shell             Start an interactive session (default)
  exec <command>    Run one command on the engines and exit

Config Commands:
  config check      Validate syntax, policy, and environment
  config lock       Write integrity hashes for the config file
  config show       Show the resolved configuration
  config get <path> Read one resolved value
  config set k=v    Change one value in the config file

History Commands:
  history list      Show recorded submissions
  history show <id> Show one submission with its engine workspaces

Monitoring:
  monitor           Live dashboard of a session with the status API enabled

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Inside a session:
  %px <cmd>         Run <cmd> on the target engines
  %%px [flags]      Run the following lines (up to an empty line) as one cell
  %pxconfig [flags] Change the session defaults (no flags prints them)
  %pxresult         Show the most recent result again
  %autopx           Toggle sending every line to the engines

Use 'pxshell <command> --help' for command-specific flags.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printShellHelp() {
	fmt.Println("Usage: pxshell shell [--config PATH] [--engines N] [--api]")
	fmt.Println("Start an interactive session. Reads cells from stdin until EOF, exit or quit.")
}

func printExecHelp() {
	fmt.Println("Usage: pxshell exec [--config PATH] [--engines N] [--targets SEL] [--group-by type|engine|order] <command>")
	fmt.Println("Run one command on the target engines, print the grouped outputs and exit.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Every engine succeeded")
	fmt.Println("  1  Submission failed or an engine failed")
	fmt.Println("  130  Interrupted; the configured signal was sent to the engines")
}

func printMonitorHelp() {
	fmt.Println("Usage: pxshell monitor [--api-url URL] [--api-key KEY]")
	fmt.Println("Launch the real-time TUI dashboard against a session's status API.")
}

// loadSessionConfig loads the configuration and applies CLI overrides and logging.
func loadSessionConfig(configPath string, engines int) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if engines > 0 {
		cfg.Pool.Engines = engines
	}
	log.SetupWithWriter(cfg.Service.LogLevel, cfg.Service.LogFormat, os.Stderr)
	return cfg, nil
}

func runShell(args []string) int {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	engines := fs.Int("engines", 0, "Override pool.engines")
	withAPI := fs.Bool("api", false, "Serve the status API even if api.enabled is false")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadSessionConfig(*configPath, *engines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := startRuntime(ctx, cfg, runtimeOptions{
		In:               os.Stdin,
		Out:              os.Stdout,
		ErrOut:           os.Stderr,
		Prompt:           interactive,
		HandleInterrupts: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start session: %v\n", err)
		return 1
	}
	defer rt.Close()

	if cfg.API.Enabled || *withAPI {
		srv := rt.apiServer()
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				rt.logger.Error("status API stopped", "error", err)
			}
		}()
	}

	if interactive {
		fmt.Printf("pxshell %s: %d engine(s), magics %%px%s %%%%px%s %%pxconfig%s %%pxresult%s %%autopx%s\n",
			currentVersionInfo().Version, cfg.Pool.Engines,
			cfg.Magics.Suffix, cfg.Magics.Suffix, cfg.Magics.Suffix, cfg.Magics.Suffix, cfg.Magics.Suffix)
	}

	if err := rt.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Session ended: %v\n", err)
		return 1
	}
	return 0
}

func runExec(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	engines := fs.Int("engines", 0, "Override pool.engines")
	targets := fs.String("targets", "", "Target selector (all, 0,2 or start:stop[:step])")
	groupBy := fs.String("group-by", "", "Output grouping (type, engine, order)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	command := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if command == "" {
		fmt.Fprintln(os.Stderr, "Usage: pxshell exec [flags] <command>")
		return 1
	}

	cfg, err := loadSessionConfig(*configPath, *engines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	var opts dispatch.Options
	if *targets != "" {
		sel, err := config.ParseSelector(*targets)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		opts.Targets = &sel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rt, err := startRuntime(ctx, cfg, runtimeOptions{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start engines: %v\n", err)
		return 1
	}
	defer rt.Close()

	if *groupBy != "" {
		if err := rt.execCfg.Update(config.ConfigUpdate{GroupBy: groupBy}); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	_, err = rt.disp.SubmitAndWait(ctx, command, opts)
	if err != nil {
		rt.session.ReportError(err)
	}
	if ctx.Err() != nil {
		return exitInterrupted
	}
	if err != nil {
		return 1
	}
	return 0
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://"+config.Defaults().API.Listen, "Session status API URL")
	apiKey := fs.String("api-key", os.Getenv("PXSHELL_API_KEY"), "API bearer token, if the session requires one")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := tui.NewMonitor(*apiURL, *apiKey)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
