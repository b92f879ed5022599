package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mrlokans/sitesync/internal/cli"
	"github.com/mrlokans/sitesync/internal/config"
	"github.com/mrlokans/sitesync/internal/entrypoint"
)

// Version information - set at build time via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
)

type command interface {
	ParseFlags(args []string) error
	Run() error
}

func main() {
	// A missing .env is fine; the environment wins over its values.
	_ = godotenv.Load()

	// If no arguments or "serve" command, run the HTTP server
	if len(os.Args) < 2 || os.Args[1] == "serve" {
		cfg := config.NewConfig()
		entrypoint.Run(cfg, Version)
		return
	}

	name := os.Args[1]
	args := os.Args[2:]

	var cmd command
	switch name {
	case "process-queue":
		cmd = cli.NewProcessQueueCommand(nil, nil)
	case "retry-failed":
		cmd = cli.NewRetryFailedCommand(nil, nil)
	case "resync":
		cmd = cli.NewResyncCommand(nil, nil)
	case "site-add":
		cmd = cli.NewSiteAddCommand(nil, nil)
	case "site-list":
		cmd = cli.NewSiteListCommand(nil, nil)
	case "site-ping":
		cmd = cli.NewSitePingCommand(nil, nil)
	case "conflicts":
		cmd = cli.NewConflictsCommand(nil, nil)
	case "version":
		fmt.Printf("sitesync %s (%s)\n", Version, Commit)
		return
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
		printUsage()
		os.Exit(1)
	}

	if err := cmd.ParseFlags(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve          Start the HTTP server (default if no command given)\n")
	fmt.Fprintf(os.Stderr, "  process-queue  Push ready outbound changes once and exit\n")
	fmt.Fprintf(os.Stderr, "  retry-failed   Reset failed queue items to pending\n")
	fmt.Fprintf(os.Stderr, "  resync         Queue every local record for every eligible site\n")
	fmt.Fprintf(os.Stderr, "  site-add       Register a remote site\n")
	fmt.Fprintf(os.Stderr, "  site-list      List registered remote sites\n")
	fmt.Fprintf(os.Stderr, "  site-ping      Check connectivity and credentials of remote sites\n")
	fmt.Fprintf(os.Stderr, "  conflicts      List or resolve sync conflicts\n")
	fmt.Fprintf(os.Stderr, "  version        Print the build version\n")
	fmt.Fprintf(os.Stderr, "\nUse '%s <command> -h' for help on a specific command.\n", os.Args[0])
}
