// Package app implements the dokq command line interface.
package app

import (
	"fmt"
	"os"
)

var (
	version   = "0.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func Main(args []string) int {
	if len(args) < 2 {
		printHelp()
		return 2
	}

	switch args[1] {
	case "enqueue":
		return enqueueCmd(args[2:])
	case "claim":
		return claimCmd(args[2:])
	case "ack":
		return ackCmd(args[2:])
	case "purge":
		return purgeCmd(args[2:])
	case "count":
		return countCmd(args[2:])
	case "stats":
		return statsCmd(args[2:])
	case "watch":
		return watchCmd(args[2:])
	case "version":
		return versionCmd(args[2:])
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[1])
		printHelp()
		return 2
	}
}

func printHelp() {
	fmt.Fprintln(os.Stdout, "dokq")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "Usage:")
	fmt.Fprintln(os.Stdout, "  dokq enqueue [--queue default] [--delay 0s] [--at RFC3339] [--attempts 5] [<json-payload>]")
	fmt.Fprintln(os.Stdout, "  dokq claim [--queue default] [--lease 5m]")
	fmt.Fprintln(os.Stdout, "  dokq ack [--queue default] <item-id>")
	fmt.Fprintln(os.Stdout, "  dokq purge [--queue default]")
	fmt.Fprintln(os.Stdout, "  dokq count [--queue default]")
	fmt.Fprintln(os.Stdout, "  dokq stats [--queue default]")
	fmt.Fprintln(os.Stdout, "  dokq watch [--queue default] [--workers 4] [--poll-interval 1s]")
	fmt.Fprintln(os.Stdout, "  dokq version [--json]")
	fmt.Fprintln(os.Stdout, "")
	fmt.Fprintln(os.Stdout, "The store backend is configured through DOKQ_* environment variables")
	fmt.Fprintln(os.Stdout, "(DOKQ_DRIVER=sqlite|postgres, DOKQ_SQLITE_PATH, DOKQ_POSTGRES_DSN).")
}
