// Command mftindex is the NTFS filename search service: it scans
// attached drives' USN journals into on-disk indexes, serves ranked
// queries over them, and tails incremental changes in the background
// (§6 "External interfaces").
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/mftindex/internal/config"
	"github.com/standardbeagle/mftindex/internal/debug"
	"github.com/standardbeagle/mftindex/internal/version"
)

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".mftindex.kdl"
	}
	return filepath.Join(dir, "mftindex", "config.kdl")
}

func defaultIndexDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "mftindex-data"
	}
	return filepath.Join(dir, "mftindex")
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadKDL(c.String("config"))
	if err != nil {
		return nil, err
	}
	if cfg.IndexDir == "" {
		cfg.IndexDir = defaultIndexDir()
	}
	if root := c.String("output"); root != "" {
		cfg.IndexDir = root
	}
	if drives := c.StringSlice("drives"); len(drives) > 0 {
		cfg.Drives.Include = drives
	}
	return cfg, nil
}

func main() {
	app := &cli.App{
		Name:    "mftindex",
		Usage:   "NTFS filename search index service",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   defaultConfigPath(),
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Index directory (overrides config)",
			},
			&cli.StringSliceFlag{
				Name:  "drives",
				Usage: "Comma-separated drive letters to restrict to (default: auto-detect)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose debug logging to a temp file",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				if path, err := debug.InitDebugLogFile(); err == nil {
					fmt.Fprintf(os.Stderr, "debug log: %s\n", path)
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			scanCommand,
			serviceCommand,
			searchCommand,
			statusCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mftindex: %v\n", err)
		os.Exit(1)
	}
}
