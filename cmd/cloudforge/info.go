package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/cloudforge/internal/cloud"
	"github.com/banshee-data/cloudforge/internal/config"
	"github.com/banshee-data/cloudforge/internal/pcio"
	"github.com/banshee-data/cloudforge/internal/pipeline"
)

type cloudInfo struct {
	Path           string          `json:"path"`
	Points         int             `json:"points"`
	Channels       cloud.Channels  `json:"channels"`
	Min            [3]float64      `json:"min"`
	Max            [3]float64      `json:"max"`
	EstimatedBytes int64           `json:"estimated_bytes"`
	Suggested      json.RawMessage `json:"suggested_config,omitempty"`
}

func runInfo(args []string) int {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "output as JSON")
	scanner := fs.String("scanner", "", "print a configuration suggested for this scanner and scan size")
	logLevel := addLogFlag(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    cloudforge info [options] <input>...

OPTIONS:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	level, err := parseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	configureLogging(level, os.Stderr)

	inputs, err := expandInputs(fs.Args())
	if err != nil || len(inputs) == 0 {
		if err == nil {
			err = fmt.Errorf("no input files")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	status := 0
	for _, in := range inputs {
		c, err := pcio.Loader{}.Load(context.Background(), in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			status = 1
			continue
		}
		info := describe(in, c)
		var suggested *config.ProcessingConfig
		if *scanner != "" {
			suggested = config.AdaptiveConfig(*scanner, c.Len(), c.Channels().Intensity)
		}

		if *jsonOutput {
			if suggested != nil {
				info.Suggested, _ = json.Marshal(suggested)
			}
			data, _ := json.MarshalIndent(info, "", "  ")
			fmt.Println(string(data))
			continue
		}
		printInfo(info)
		if suggested != nil {
			data, err := yaml.Marshal(suggested)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				status = 1
				continue
			}
			fmt.Printf("\nSuggested configuration for %s:\n%s", *scanner, data)
		}
	}
	return status
}

func describe(path string, c *cloud.PointCloud) cloudInfo {
	info := cloudInfo{
		Path:           path,
		Points:         c.Len(),
		Channels:       c.Channels(),
		EstimatedBytes: pipeline.EstimateBytes(c.Len()),
	}
	if b := c.Bounds(); !b.Empty() {
		info.Min = [3]float64{b.Min.X, b.Min.Y, b.Min.Z}
		info.Max = [3]float64{b.Max.X, b.Max.Y, b.Max.Z}
	}
	return info
}

func printInfo(info cloudInfo) {
	fmt.Println(info.Path)
	fmt.Printf("  Points:    %d\n", info.Points)
	fmt.Printf("  Channels:  color=%t intensity=%t normal=%t source=%t\n",
		info.Channels.Color, info.Channels.Intensity, info.Channels.Normal, info.Channels.Source)
	if info.Points > 0 {
		fmt.Printf("  Min:       %.3f %.3f %.3f\n", info.Min[0], info.Min[1], info.Min[2])
		fmt.Printf("  Max:       %.3f %.3f %.3f\n", info.Max[0], info.Max[1], info.Max[2])
		fmt.Printf("  Size:      %.3f x %.3f x %.3f m\n",
			info.Max[0]-info.Min[0], info.Max[1]-info.Min[1], info.Max[2]-info.Min[2])
	}
	fmt.Printf("  Memory:    ~%.1f MiB working set\n", float64(info.EstimatedBytes)/(1<<20))
}
