package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/mftindex/internal/orchestrator"
)

var scanCommand = &cli.Command{
	Name:  "scan",
	Usage: "Run a one-shot full scan of every eligible drive",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		o := orchestrator.New(cfg.IndexDir, *cfg, nil)
		release, err := o.AcquireLock()
		if err != nil {
			return fmt.Errorf("another mftindex service already owns %s: %w", cfg.IndexDir, err)
		}
		defer release()

		candidates, err := orchestrator.EnumerateDrives()
		if err != nil {
			return fmt.Errorf("enumerating drives: %w", err)
		}
		candidates = orchestrator.FilterDrives(candidates, cfg.Drives)
		if len(candidates) == 0 {
			return cli.Exit("no eligible drives found", 3)
		}

		statuses := o.ScanAll(context.Background(), candidates)

		var failures int
		for _, st := range statuses {
			if st.Err != nil {
				failures++
				fmt.Printf("%s: FAILED: %v\n", st.Drive, st.Err)
				continue
			}
			fmt.Printf("%s: %d records, USN %d\n", st.Drive, st.RecordCount, st.LastUSN)
		}
		if failures == len(statuses) {
			return cli.Exit("every drive failed to scan", 4)
		}
		return nil
	},
}
