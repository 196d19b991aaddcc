// Sentinel - Behavioral risk scoring for account activity.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command pipeline runs the offline flow over CSV files: generate a
// synthetic event dataset, train a model artifact, and score events
// into an insights CSV. No server required.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/opensource-finance/sentinel/internal/artifact"
	"github.com/opensource-finance/sentinel/internal/dataset"
	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/engine"
	"github.com/opensource-finance/sentinel/internal/policy"
	"github.com/opensource-finance/sentinel/internal/synth"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "synth":
		err = runSynth(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:], logger)
	case "score":
		err = runScore(os.Args[2:], logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("pipeline failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: pipeline <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  synth  - Generate a synthetic event CSV")
	fmt.Fprintln(os.Stderr, "  train  - Train a model artifact from an event CSV")
	fmt.Fprintln(os.Stderr, "  score  - Score an event CSV into an insights CSV")
}

func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	out := fs.String("out", "data/events.csv", "Output CSV of events")
	days := fs.Int("days", 7, "Days of activity to generate")
	users := fs.Int("users", 100, "Number of users")
	seed := fs.Int64("seed", 7, "Random seed")
	fs.Parse(args)

	opts := synth.DefaultOptions()
	opts.Days = *days
	opts.Users = *users
	opts.Seed = *seed
	events := synth.Generate(opts)

	if err := dataset.WriteEventsFile(*out, events); err != nil {
		return err
	}
	fmt.Println("Wrote", len(events), "events to", *out)
	return nil
}

func runTrain(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	in := fs.String("in", "", "Input CSV of events (required)")
	modelDir := fs.String("model_dir", "models", "Artifact output directory")
	policyPath := fs.String("policy", "", "Optional YAML policy file")
	trees := fs.Int("trees", 250, "Isolation forest size")
	seed := fs.Int64("seed", 13, "Training seed")
	contamination := fs.Float64("contamination", 0.02, "Expected anomaly fraction")
	fs.Parse(args)

	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	events, err := dataset.ReadEventsFile(*in)
	if err != nil {
		return err
	}

	eng, err := newEngine(*policyPath, domain.ModelConfig{
		Trees:         *trees,
		SubsampleSize: 256,
		Seed:          *seed,
		Contamination: *contamination,
	}, logger)
	if err != nil {
		return err
	}

	m, report, err := eng.Train(context.Background(), events, domain.SkipRecord)
	if err != nil {
		return err
	}

	store, err := artifact.NewFileStore(*modelDir)
	if err != nil {
		return err
	}
	if err := store.Save(m); err != nil {
		return err
	}
	fmt.Println("Saved model to", *modelDir,
		"rows:", report.Rows,
		"skipped:", len(report.Skipped),
		"expected anomalies:", report.ExpectedAnomalies)
	return nil
}

func runScore(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	in := fs.String("in", "", "Input CSV of events (required)")
	modelDir := fs.String("model_dir", "models", "Artifact directory")
	out := fs.String("out", "data/insights.csv", "Output CSV of insights")
	limit := fs.Int("limit", 1000, "Max insights to write, highest risk first")
	policyPath := fs.String("policy", "", "Optional YAML policy file")
	fs.Parse(args)

	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	events, err := dataset.ReadEventsFile(*in)
	if err != nil {
		return err
	}

	store, err := artifact.NewFileStore(*modelDir)
	if err != nil {
		return err
	}
	m, err := store.Load()
	if err != nil {
		return err
	}

	eng, err := newEngine(*policyPath, domain.ModelConfig{}, logger)
	if err != nil {
		return err
	}

	res, err := eng.Score(context.Background(), m, events, domain.SkipRecord)
	if err != nil {
		return err
	}

	if err := dataset.WriteInsightsFile(*out, res.Scored, *limit); err != nil {
		return err
	}
	fmt.Println("Wrote insights to", *out, "scored:", len(res.Scored), "skipped:", len(res.Skipped))
	return nil
}

func newEngine(policyPath string, cfg domain.ModelConfig, logger *slog.Logger) (*engine.Engine, error) {
	pol := domain.DefaultPolicy()
	if policyPath != "" {
		var err error
		pol, err = policy.LoadFile(policyPath)
		if err != nil {
			return nil, err
		}
	}
	return engine.New(pol, cfg, logger)
}
