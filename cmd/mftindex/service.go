package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/mftindex/internal/debug"
	"github.com/standardbeagle/mftindex/internal/indexfmt"
	"github.com/standardbeagle/mftindex/internal/indexquery"
	"github.com/standardbeagle/mftindex/internal/monitor"
	"github.com/standardbeagle/mftindex/internal/orchestrator"
	"github.com/standardbeagle/mftindex/internal/volume"
)

// Exit codes from §6 "Service process CLI".
const (
	exitOK                   = 0
	exitPrivilegeFailure     = 2
	exitNoEligibleDrives     = 3
	exitUnrecoverableFailure = 4
)

var serviceCommand = &cli.Command{
	Name:  "service",
	Usage: "Run as the long-lived scan+monitor service (spawned by the UI process)",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:     "mft-service",
			Usage:    "Required flag confirming service mode",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "ui-pid",
			Usage: "Parent UI process PID to watch; exit when it disappears",
		},
		&cli.BoolFlag{
			Name:  "scan-only",
			Usage: "Do not start the monitor after scan completes",
		},
		&cli.BoolFlag{
			Name:  "skip-scan",
			Usage: "Start the monitor immediately, trusting whatever .meta contains",
		},
	},
	Action: runService,
}

func runService(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitPrivilegeFailure)
	}
	uiPID := c.Int("ui-pid")

	o := orchestrator.New(cfg.IndexDir, *cfg, nil)
	release, err := o.AcquireLock()
	if err != nil {
		debug.LogOrchestrator("service: lock held: %v", err)
		return cli.Exit(err, exitPrivilegeFailure)
	}
	defer release()

	candidates, err := orchestrator.EnumerateDrives()
	if err != nil {
		return cli.Exit(err, exitPrivilegeFailure)
	}
	candidates = orchestrator.FilterDrives(candidates, cfg.Drives)
	if len(candidates) == 0 {
		return cli.Exit("no eligible drives found", exitNoEligibleDrives)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if !c.Bool("skip-scan") {
		statuses := o.ScanAll(ctx, candidates)
		var ok int
		for _, st := range statuses {
			if st.Err != nil {
				debug.LogOrchestrator("drive %s: scan failed: %v", st.Drive, st.Err)
				continue
			}
			ok++
		}
		if ok == 0 {
			return cli.Exit("every drive failed to scan", exitUnrecoverableFailure)
		}
	}

	for _, cand := range candidates {
		artifacts := indexfmt.ArtifactsFor(cfg.IndexDir, cand.Drive)
		if err := indexfmt.WriteReady(artifacts.Ready, os.Getpid()); err != nil {
			debug.LogOrchestrator("drive %s: writing .ready: %v", cand.Drive, err)
		}
	}

	if c.Bool("scan-only") {
		return nil
	}

	var wg sync.WaitGroup
	for _, cand := range candidates {
		cand := cand
		idx, err := indexquery.Open(cfg.IndexDir, cand.Drive)
		if err != nil {
			debug.LogOrchestrator("drive %s: cannot open index for monitoring: %v", cand.Drive, err)
			continue
		}
		reader, err := volume.Open(cand.Drive)
		if err != nil {
			debug.LogOrchestrator("drive %s: cannot open volume for monitoring: %v", cand.Drive, err)
			idx.Close()
			continue
		}

		delta := indexquery.NewDelta()
		m := monitor.New(cand.Drive, reader, idx, delta, cfg.Monitor, uiPID, func(ctx context.Context, drive string, delta *indexquery.Delta) (*indexquery.Index, error) {
			// A full compaction rebuilds via the same scan pipeline
			// the Orchestrator uses for the initial scan; driven
			// from here so the Monitor never touches .fst/.dat
			// directly (§4.E "Compaction").
			o.ScanAll(ctx, []orchestrator.Candidate{{Drive: drive, Kind: cand.Kind}})
			return indexquery.Open(cfg.IndexDir, drive)
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			defer idx.Close()
			if err := m.Run(ctx); err != nil {
				debug.LogOrchestrator("drive %s: monitor stopped: %v", cand.Drive, err)
			}
		}()
	}
	wg.Wait()
	return nil
}
