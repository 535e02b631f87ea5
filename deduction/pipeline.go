package deduction

import (
	"context"
	"sync/atomic"
)

type outcome uint8

const (
	keep outcome = iota
	reject
	fork
)

// verdict is a validator's answer for one world.
type verdict struct {
	outcome outcome
	worlds  []*World
}

func kept() verdict     { return verdict{outcome: keep} }
func rejected() verdict { return verdict{outcome: reject} }

// forked returns the derived worlds; forking into nothing is a rejection.
func forked(ws ...*World) verdict {
	if len(ws) == 0 {
		return rejected()
	}
	return verdict{outcome: fork, worlds: ws}
}

// validator checks one fact of a trusted claim against a world.
type validator interface {
	Validate(p *pass, w *World, c *Claim, f Fact) verdict
}

// untrustedValidator is implemented by validators whose facts also
// constrain worlds in which the claimer is lying or drunk.
type untrustedValidator interface {
	ValidateUntrusted(p *pass, w *World, c *Claim, f Fact) verdict
}

var validators = map[ClaimKind]validator{
	KindPairReveal:    pairReveal{},
	KindRetrospective: retrospective{},
	KindAdjacency:     adjacency{},
	KindPairCount:     pairCount{},
	KindDemonPing:     demonPing{},
	KindProtected:     protected{},
	KindNomination:    nomination{},
	KindShot:          shot{},
}

// Night checks run before the night's deaths resolve; day checks run after
// them and before the day's deaths resolve.
var (
	nightOrder = []ClaimKind{KindPairReveal, KindRetrospective, KindAdjacency, KindPairCount, KindDemonPing, KindProtected}
	dayOrder   = []ClaimKind{KindNomination, KindShot}
)

// budget caps the number of worlds alive across all workers.
type budget struct {
	max  int64
	live atomic.Int64
}

func (b *budget) grow(n int) error {
	if b.live.Add(int64(n)) > b.max {
		return ErrTooManyWorlds
	}
	return nil
}

// run takes one batch of worlds through every night.
func (t *table) run(ctx context.Context, worlds []*World, b *budget, survivors []atomic.Int64) ([]*World, error) {
	for night := 1; night <= t.nights; night++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := &pass{table: t, night: night}
		var err error
		if worlds, err = p.check(worlds, nightOrder, b); err != nil || len(worlds) == 0 {
			return nil, err
		}
		worlds = p.succeed(worlds, false)
		if worlds, err = p.check(worlds, dayOrder, b); err != nil || len(worlds) == 0 {
			return nil, err
		}
		worlds = p.succeed(worlds, true)
		if night < len(survivors) {
			survivors[night].Add(int64(len(worlds)))
		}
	}
	return worlds, nil
}

// check applies every claim of the given kinds, in seat order, to worlds.
func (p *pass) check(worlds []*World, kinds []ClaimKind, b *budget) ([]*World, error) {
	for _, kind := range kinds {
		v := validators[kind]
		for _, c := range p.byKind[kind] {
			for _, f := range c.factsAt(p.night) {
				next := p.apply(v, worlds, c, f)
				if err := b.grow(len(next) - len(worlds)); err != nil {
					return nil, err
				}
				worlds = next
				if len(worlds) == 0 {
					return nil, nil
				}
			}
		}
	}
	return worlds, nil
}

func (p *pass) apply(v validator, worlds []*World, c *Claim, f Fact) []*World {
	next := make([]*World, 0, len(worlds))
	for _, w := range worlds {
		var vd verdict
		switch {
		case p.trusted(w, c):
			vd = v.Validate(p, w, c, f)
		default:
			uv, ok := v.(untrustedValidator)
			if !ok {
				next = append(next, w)
				continue
			}
			vd = uv.ValidateUntrusted(p, w, c, f)
		}
		switch vd.outcome {
		case keep:
			next = append(next, w)
		case fork:
			next = append(next, vd.worlds...)
		}
	}
	return next
}
