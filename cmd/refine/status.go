package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/basket/go-refine/internal/config"
	"github.com/basket/go-refine/internal/persistence"
)

type statusOptions struct {
	CycleID string
	Limit   int
	JSON    bool
}

func parseStatusArgs(args []string) (statusOptions, error) {
	var opts statusOptions
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.CycleID, "cycle", "", "show the journal of one cycle")
	fs.IntVar(&opts.Limit, "limit", 20, "number of cycles to list")
	fs.BoolVar(&opts.JSON, "json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return opts, fmt.Errorf("usage: refine status [-cycle <id>] [-limit N] [-json]: %w", err)
	}
	if fs.NArg() > 0 {
		return opts, errors.New("usage: refine status [-cycle <id>] [-limit N] [-json]")
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	return opts, nil
}

func runStatusCommand(ctx context.Context, args []string) int {
	opts, err := parseStatusArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return exitError
	}
	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		return exitError
	}
	defer store.Close()

	if opts.CycleID != "" {
		err = printCycle(ctx, os.Stdout, store, opts)
	} else {
		err = printCycles(ctx, os.Stdout, store, opts)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitError
	}
	return exitOK
}

func printCycles(ctx context.Context, w io.Writer, store *persistence.Store, opts statusOptions) error {
	cps, err := store.ListCycleCheckpoints(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if opts.JSON {
		return writeJSON(w, cps)
	}
	if len(cps) == 0 {
		fmt.Fprintln(w, "no feedback cycles recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tROLE\tSTATUS\tROUNDS\tUPDATED")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n",
			cp.CycleID, cp.Role, cp.Status, cp.Repetition, cp.Threshold, cp.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

type cycleReport struct {
	Checkpoint persistence.CycleCheckpoint `json:"checkpoint"`
	Stitches   []stitchLine                `json:"stitches"`
}

type stitchLine struct {
	Seq       int64     `json:"seq"`
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Form      string    `json:"form"`
	CreatedAt time.Time `json:"created_at"`
}

func printCycle(ctx context.Context, w io.Writer, store *persistence.Store, opts statusOptions) error {
	cp, err := store.LoadCycleCheckpoint(ctx, opts.CycleID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no cycle %q", opts.CycleID)
	}
	if err != nil {
		return err
	}
	entries, err := store.ListStitches(ctx, cp.RunID, cp.Role)
	if err != nil {
		return err
	}
	report := cycleReport{Checkpoint: *cp}
	for _, e := range entries {
		if e.CycleID != cp.CycleID {
			continue
		}
		report.Stitches = append(report.Stitches, stitchLine{
			Seq:       e.Seq,
			ID:        e.Stitch.ID,
			Slug:      e.Stitch.Slug,
			Form:      string(e.Stitch.Form),
			CreatedAt: e.Stitch.CreatedAt,
		})
	}
	if opts.JSON {
		return writeJSON(w, report)
	}

	fmt.Fprintf(w, "cycle %s (run %s, role %s)\n", cp.CycleID, cp.RunID, cp.Role)
	fmt.Fprintf(w, "status %s after %d/%d rounds; feedback %s\n", cp.Status, cp.Repetition, cp.Threshold, cp.FeedbackRef)
	if cp.LastError != "" {
		fmt.Fprintf(w, "last error: %s\n", cp.LastError)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTEP\tFORM\tAT")
	for _, s := range report.Stitches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Seq, s.Slug, s.Form, s.CreatedAt.Local().Format(time.TimeOnly))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
