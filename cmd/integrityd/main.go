package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable so tests can dispatch without binding a port.
var startServer = runServe

// Run is the testable entrypoint.
func Run(args []string, stdout, stderr io.Writer) int {
	ctx := context.Background()
	if len(args) < 2 {
		return startServer(ctx, nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(ctx, args[2:], stdout, stderr)
	case "stats":
		return runStatsCmd(ctx, args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(ctx, args[2:], stdout, stderr)
	case "archive":
		return runArchiveCmd(ctx, args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(ctx, args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "integrityd %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return startServer(ctx, args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "integrityd %s: economic integrity control plane\n\n", version)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  integrityd <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	printCommand(w, "serve", "Run the admin API server (default)")
	printCommand(w, "stats", "Print audit and kill switch statistics as JSON")
	printCommand(w, "verify", "Verify the audit chain, or an exported bundle (--bundle)")
	printCommand(w, "archive", "Archive an evidence bundle (--from, --to, --type)")
	printCommand(w, "token", "Mint an admin API token (--subject, --roles, --ttl)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
