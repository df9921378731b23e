package app

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
)

// buildDetails describes the running binary. Fields come from the ldflags
// vars when set, otherwise from the build info stamped by the toolchain.
type buildDetails struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Module    string `json:"module,omitempty"`
}

func currentBuild() buildDetails {
	d := buildDetails{
		Version:   strings.TrimSpace(version),
		Commit:    strings.TrimSpace(commit),
		BuildDate: strings.TrimSpace(buildDate),
		GoVersion: runtime.Version(),
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return d
	}
	d.Module = info.Main.Path
	if d.Version == "0.0.0-dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		d.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if d.Commit == "unknown" {
				d.Commit = s.Value
			}
		case "vcs.time":
			if d.BuildDate == "unknown" {
				d.BuildDate = s.Value
			}
		}
	}
	return d
}

func versionCmd(args []string) int {
	return runVersionCmd(args, os.Stdout, os.Stderr)
}

func runVersionCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	jsonOutput := fs.Bool("json", false, "")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "version: %v\n", err)
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "version: unexpected positional arguments")
		return 2
	}

	b := currentBuild()

	if *jsonOutput {
		if err := json.NewEncoder(stdout).Encode(b); err != nil {
			fmt.Fprintf(stderr, "version: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "dokq %s (commit %s, built %s, %s)\n",
		b.Version, b.Commit, b.BuildDate, b.GoVersion)
	return 0
}
