package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/pxshell/internal/config"
	"github.com/mattjoyce/pxshell/internal/doctor"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock", "hash":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	case "get":
		if hasHelpFlag(actionArgs) {
			printConfigGetHelp()
			return 0
		}
		return runConfigGet(actionArgs)
	case "set":
		if hasHelpFlag(actionArgs) {
			printConfigSetHelp()
			return 0
		}
		return runConfigSet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: pxshell config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, show, get, set")
}

func printConfigLockHelp() {
	fmt.Println("Usage: pxshell config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize the current config file by writing its BLAKE3 hash to .checksums.")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: pxshell config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, policy, and environment.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  Invalid or failed to load")
	fmt.Println("  2  Valid with warnings (--strict only)")
}

func printConfigShowHelp() {
	fmt.Println("Usage: pxshell config show [path] [--config PATH] [--json]")
	fmt.Println("Show the full resolved configuration or the node at path.")
}

func printConfigGetHelp() {
	fmt.Println("Usage: pxshell config get <path> [--config PATH] [--json]")
	fmt.Println("Read a single value from the resolved configuration, e.g. pool.engines.")
}

func printConfigSetHelp() {
	fmt.Println("Usage: pxshell config set <path>=<value> [--config PATH] [--dry-run | --apply]")
	fmt.Println("Set a value in the config file. --apply validates and rolls back on failure.")
}

// splitPositionals separates positional arguments from flags so that flags may
// follow them, e.g. "config get pool.engines --json".
func splitPositionals(args []string, takesValue map[string]bool) (flags, positionals []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}
		flags = append(flags, arg)
		name := strings.TrimLeft(arg, "-")
		if takesValue[name] && !strings.Contains(arg, "=") && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return flags, positionals
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if jsonOut {
		format = "json"
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		if cfg.SourcePath != "" {
			fmt.Printf("Config: %s\n", cfg.SourcePath)
		} else {
			fmt.Println("Config: <defaults>")
		}
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var configPath string
	var verbose, verboseShort, dryRun bool

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")
	fs.BoolVar(&dryRun, "dry-run", false, "Dry run")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	isVerbose := verbose || verboseShort

	target, err := resolveConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	dir := filepath.Dir(target)
	report, err := config.GenerateChecksums(dir, []string{filepath.Base(target)}, dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config in %s: %v\n", dir, err)
		return 1
	}

	if isVerbose {
		for _, file := range report.Files {
			if file.Exists {
				fmt.Printf("  HASH %s: %s\n", file.Filename, file.Hash)
				continue
			}
			fmt.Printf("  SKIP %s: not found\n", file.Filename)
		}
	}
	if dryRun {
		fmt.Printf("Dry run completed (not written): %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("Successfully locked configuration: %s\n", report.ChecksumPath)
	}
	return 0
}

// resolveConfigFile returns the config file an editing command operates on.
// Unlike sessions, editing commands never fall back to defaults.
func resolveConfigFile(configPath string) (string, error) {
	if configPath == "" {
		found, ok := config.Discover()
		if !ok {
			return "", fmt.Errorf("no config file found (use --config or $PXSHELL_CONFIG)")
		}
		configPath = found
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s", abs)
	}
	if info.IsDir() {
		abs = filepath.Join(abs, config.DefaultFileName)
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("directory provided but %s not found: %s", config.DefaultFileName, abs)
		}
	}
	return abs, nil
}

func runConfigShow(args []string) int {
	flagArgs, positionals := splitPositionals(args, map[string]bool{"config": true})

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	path := ""
	if len(positionals) > 0 {
		path = positionals[0]
	}
	result, err := cfg.GetPath(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return printValue(result, *jsonOut, true)
}

func runConfigGet(args []string) int {
	flagArgs, positionals := splitPositionals(args, map[string]bool{"config": true})

	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: pxshell config get <path> [--json]")
		return 1
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(positionals[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return printValue(val, *jsonOut, false)
}

func printValue(val any, jsonOut, asYAML bool) int {
	switch {
	case jsonOut:
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	case asYAML:
		data, err := yaml.Marshal(val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
	default:
		if _, isMap := val.(map[string]any); isMap {
			return printValue(val, false, true)
		}
		fmt.Printf("%v\n", val)
	}
	return 0
}

func runConfigSet(args []string) int {
	flagArgs, positionals := splitPositionals(args, map[string]bool{"config": true})

	var configPath string
	var dryRun, apply bool
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&dryRun, "dry-run", false, "Preview changes")
	fs.BoolVar(&apply, "apply", false, "Apply changes")
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if len(positionals) != 1 || !strings.Contains(positionals[0], "=") {
		fmt.Fprintln(os.Stderr, "Usage: pxshell config set <path>=<value> [--dry-run | --apply]")
		return 1
	}
	if dryRun == apply {
		fmt.Fprintln(os.Stderr, "Error: exactly one of --dry-run or --apply must be specified for 'config set'.")
		return 1
	}

	path, value, _ := strings.Cut(positionals[0], "=")

	target, err := resolveConfigFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	cfg, err := config.Load(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if dryRun {
		out, err := cfg.SetPath(path, value, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Dry-run failed: %v\n", err)
			return 1
		}
		fmt.Printf("Dry-run: would set %q to %q in %s\n", path, value, target)
		fmt.Print(string(out))
		return 0
	}

	if _, err := cfg.SetPath(path, value, true); err != nil {
		fmt.Fprintf(os.Stderr, "Apply failed: %v\n", err)
		return 1
	}
	fmt.Printf("Successfully set %q to %q\n", path, value)
	return 0
}
