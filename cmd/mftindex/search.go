package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/mftindex/internal/indexquery"
	"github.com/standardbeagle/mftindex/internal/orchestrator"
	"github.com/standardbeagle/mftindex/internal/queryservice"
)

var searchCommand = &cli.Command{
	Name:      "search",
	Usage:     "Query the index for a filename substring",
	ArgsUsage: "<query>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Usage: "Maximum number of results",
			Value: 50,
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("usage: mftindex search <query>", 1)
		}
		query := c.Args().First()

		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		candidates, err := orchestrator.EnumerateDrives()
		if err != nil {
			return fmt.Errorf("enumerating drives: %w", err)
		}
		candidates = orchestrator.FilterDrives(candidates, cfg.Drives)
		if len(candidates) == 0 {
			return cli.Exit("no eligible drives found", 3)
		}

		registry := queryservice.NewRegistry(func(drive string) (*indexquery.Index, error) {
			return indexquery.Open(cfg.IndexDir, drive)
		})
		defer registry.CloseAll()

		svc := queryservice.New(registry, cfg.Query)
		drives := make([]string, len(candidates))
		for i, cand := range candidates {
			drives[i] = cand.Drive
		}

		hits, err := svc.Search(context.Background(), drives, query, c.Int("limit"), svc.NextSequence(), nil)
		if err != nil {
			return err
		}
		for _, h := range hits {
			fmt.Printf("%-6.1f %s\n", h.Score, h.Path)
		}
		return nil
	},
}
