// Command cloudforge cleans, thins and segments architectural point cloud
// scans, and manages the presets and run history that go with them.
package main

import (
	"fmt"
	"os"

	"github.com/banshee-data/cloudforge/internal/version"
)

type command struct {
	name    string
	summary string
	run     func(args []string) int
}

var commands = []command{
	{"process", "run the processing pipeline on one or more scans", runProcess},
	{"info", "print point count, channels and bounds of scans", runInfo},
	{"presets", "list scanner presets", runPresets},
	{"create-preset", "create a scanner preset from a template or noise level", runCreatePreset},
	{"validate-config", "check processing config files", runValidateConfig},
	{"runs", "list, show, report on or delete stored runs", runRuns},
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `USAGE:
    cloudforge <command> [options] [args]

COMMANDS:
`)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "    %-16s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, `
Run "cloudforge <command> -h" for command options.
`)
}

func main() {
	os.Exit(dispatch(os.Args[1:]))
}

func dispatch(args []string) int {
	if len(args) < 1 {
		printUsage()
		return 2
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		printUsage()
		return 0
	case "-v", "-version", "--version", "version":
		fmt.Println(version.String())
		return 0
	}
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(args[1:])
		}
	}
	fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
	printUsage()
	return 2
}
