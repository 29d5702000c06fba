package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/internal/pipeline"
)

// Exit codes.
const (
	exitFatal   = 1
	exitPartial = 2
)

func main() {
	app := &cli.App{
		Name:  "tfindex",
		Usage: "build a TF-scored inverted index from raw term-count shards",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"TFI_CONFIG"},
			},
			&cli.IntFlag{
				Name:  "max-concurrency",
				Usage: "override pipeline.maxConcurrency",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "exit non-zero when any item in any stage failed",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "download, transform and upload",
				Action: phaseAction(pipeline.AllPhases...),
			},
			{
				Name:   "download",
				Usage:  "fetch raw shards from the source bucket into the input directory",
				Action: phaseAction(pipeline.PhaseDownload),
			},
			{
				Name:   "transform",
				Usage:  "build postings files from the input directory (no network)",
				Action: phaseAction(pipeline.PhaseTransform),
			},
			{
				Name:  "upload",
				Usage: "upload postings files to the destination bucket",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reset-ledger",
						Usage: "forget recorded uploads for the destination bucket first",
					},
				},
				Action: phaseAction(pipeline.PhaseUpload),
			},
			{
				Name:      "report",
				Usage:     "print a saved run report",
				ArgsUsage: "<run-id>",
				Action:    reportAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(exitErr.ExitCode())
		}
		slog.Error("tfindex failed", "error", err)
		os.Exit(exitFatal)
	}
}

func phaseAction(phases ...string) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		env, err := setup(ctx, c, phases)
		if err != nil {
			return err
		}
		defer env.Close()

		if c.Bool("reset-ledger") && env.ledger != nil {
			if _, err := env.ledger.Reset(ctx, env.cfg.Pipeline.DestBucket); err != nil {
				return err
			}
		}

		p := pipeline.New(env.cfg.Pipeline, env.deps())
		rep, err := p.Run(ctx, phases...)
		if err != nil {
			return err
		}
		if c.Bool("strict") && rep.Failed() > 0 {
			return cli.Exit(fmt.Sprintf("run %s finished with %d failed items", rep.RunID, rep.Failed()), exitPartial)
		}
		return nil
	}
}

func reportAction(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return cli.Exit("report: missing <run-id>", exitFatal)
	}
	ctx := context.Background()
	env, err := setup(ctx, c, nil)
	if err != nil {
		return err
	}
	defer env.Close()
	if env.reports == nil {
		return cli.Exit("report: report.driver is none", exitFatal)
	}

	rep, err := env.reports.Load(ctx, runID)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "run %s  status=%s  %s -> %s\n", rep.RunID, rep.Status(), rep.SourceBucket, rep.DestBucket)
	fmt.Fprintf(w, "started %s  finished %s  warnings=%d  terms=%d\n",
		rep.StartedAt.Format(time.RFC3339), rep.FinishedAt.Format(time.RFC3339),
		rep.Warnings, rep.TermsWritten)
	if rep.Error != "" {
		fmt.Fprintf(w, "error: %s\n", rep.Error)
	}
	for _, s := range rep.Stages {
		fmt.Fprintln(w, s.String())
		for _, item := range s.FailedItems {
			fmt.Fprintf(w, "  failed: %s\n", item)
		}
	}
	return nil
}
