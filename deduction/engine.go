// Package deduction infers hidden roles in a social-deduction game. It
// enumerates every world consistent with the public claims and recorded
// deaths, weighs the survivors and reports per-player probabilities.
package deduction

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxWorlds bounds the worlds held at once during an analysis.
const DefaultMaxWorlds = 1_000_000

type Config struct {
	Catalog             *Catalog
	MaxWorlds           int
	Workers             int
	ExpandOpenSeats     bool
	SuccessionThreshold int
	Debugf              func(format string, args ...any)
}

// Engine runs analyses. It holds no per-analysis state and is safe for
// concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.Catalog == nil {
		cfg.Catalog = TroubleBrewing()
	}
	if cfg.MaxWorlds <= 0 {
		cfg.MaxWorlds = DefaultMaxWorlds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.SuccessionThreshold <= 0 {
		cfg.SuccessionThreshold = DefaultSuccessionThreshold
	}
	if cfg.Debugf == nil {
		cfg.Debugf = func(string, ...any) {}
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Catalog() *Catalog { return e.cfg.Catalog }

// Analyze runs one analysis with the default configuration.
func Analyze(ctx context.Context, in Input) (*Result, error) {
	return NewEngine(Config{}).Analyze(ctx, in)
}

// Analyze computes the probabilities for in. Roster and quota problems are
// returned as errors. When the candidate worlds outgrow MaxWorlds the
// result has StatusInconclusive and the error is ErrTooManyWorlds.
func (e *Engine) Analyze(ctx context.Context, in Input) (*Result, error) {
	t, err := newTable(e.cfg.Catalog, in, e.cfg.SuccessionThreshold)
	if err != nil {
		return nil, err
	}
	for _, m := range t.malformed {
		e.cfg.Debugf("deduction: skipping claim by %s: %s", m.Player, m.Reason)
	}

	worlds, err := e.enumerate(ctx, t)
	if err != nil {
		if errors.Is(err, ErrTooManyWorlds) {
			e.cfg.Debugf("deduction: gave up above %d worlds", e.cfg.MaxWorlds)
			return t.emptyResult(StatusInconclusive), err
		}
		return nil, err
	}
	res := t.aggregate(worlds)
	e.cfg.Debugf("deduction: %s with %d worlds", res.Status, res.Worlds)
	return res, nil
}

// enumerate runs every evil seat set through the pipeline, one errgroup
// task per set, and merges the survivors in set order.
func (e *Engine) enumerate(ctx context.Context, t *table) ([]*World, error) {
	sets := slices.Collect(t.evilSeatSets())
	results := make([][]*World, len(sets))
	survivors := make([]atomic.Int64, t.nights+1)
	var generated atomic.Int64
	b := &budget{max: int64(e.cfg.MaxWorlds)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, seats := range sets {
		g.Go(func() error {
			var worlds []*World
			for w := range t.initial(seats) {
				if err := b.grow(1); err != nil {
					return err
				}
				worlds = append(worlds, w)
			}
			generated.Add(int64(len(worlds)))
			worlds, err := t.run(gctx, worlds, b, survivors)
			if err != nil {
				return err
			}
			if e.cfg.ExpandOpenSeats {
				var concrete []*World
				for _, w := range worlds {
					ws, err := t.concretize(w, b)
					if err != nil {
						return err
					}
					concrete = append(concrete, ws...)
				}
				worlds = concrete
			}
			results[i] = worlds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.cfg.Debugf("deduction: %d evil seat sets, %d initial worlds", len(sets), generated.Load())
	for night := 1; night <= t.nights; night++ {
		e.cfg.Debugf("deduction: night %d: %d worlds survive", night, survivors[night].Load())
	}
	return dedupe(slices.Concat(results...)), nil
}
