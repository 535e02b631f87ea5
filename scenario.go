package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"grimoire/deduction"
)

// runScenario analyzes a YAML scenario file and prints the probability table
// in seating order.
func runScenario(w io.Writer, path string, eng *deduction.Engine) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	in, err := deduction.LoadInput(f)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()
	start := time.Now()
	res, err := eng.Analyze(ctx, in)
	if err != nil && !errors.Is(err, deduction.ErrTooManyWorlds) {
		return fmt.Errorf("analyze %s: %w", path, err)
	}

	fmt.Fprintf(w, "%s: %s, %d worlds (%v)\n\n", path, res.Status, res.Worlds, time.Since(start).Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "player\tevil %\tdemon %\t")
	for _, p := range in.Players {
		marker := ""
		if p == in.POV {
			marker = " (pov)"
		}
		fmt.Fprintf(tw, "%s%s\t%.1f\t%.1f\t\n", p, marker, res.Evil[p], res.Demon[p])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, m := range res.Malformed {
		fmt.Fprintf(w, "ignored claim of %s (%s): %s\n", m.Player, m.Role, m.Reason)
	}
	return nil
}
