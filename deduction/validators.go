package deduction

import "math"

// reading is one way a world answers a check, with n counting the seats
// that registered positively.
type reading struct {
	w *World
	n int
}

// option is one way a seat can show a role to an identity check.
type option struct {
	seat     int
	pin      RoleID
	disguise bool
}

func (o option) plain() bool { return o.pin == NoRole && !o.disguise }

// identityOptions lists how seat can show role: by holding it, by being
// pinned to it, or through a disguise role.
func (p *pass) identityOptions(w *World, seat int, role RoleID) []option {
	if w.Open(seat) {
		var out []option
		if w.Set(seat).Has(role) {
			out = append(out, option{seat: seat, pin: role})
		}
		for _, d := range (w.Set(seat) & p.cat.With(CapDisguise)).IDs() {
			if d != role && p.cat.RegistersAs(d, role) {
				out = append(out, option{seat: seat, pin: d, disguise: true})
			}
		}
		return out
	}
	if shown, _ := p.shownRole(w, seat); shown == role {
		return []option{{seat: seat, pin: NoRole}}
	}
	if id, _ := w.Role(seat); p.cat.RegistersAs(id, role) {
		return []option{{seat: seat, pin: NoRole, disguise: true}}
	}
	return nil
}

// realize turns identity options into worlds. Disguise branches split their
// weight among the disguise options.
func (p *pass) realize(w *World, opts []option, as RoleID) []*World {
	disguises := 0
	for _, o := range opts {
		if o.disguise {
			disguises++
		}
	}
	out := make([]*World, 0, len(opts))
	for _, o := range opts {
		nw := w
		if o.pin != NoRole {
			var ok bool
			if nw, ok = p.pinned(w, o.seat, o.pin); !ok {
				continue
			}
		}
		if o.disguise {
			nw = p.disguise(nw, o.seat, as, disguises)
		}
		out = append(out, nw)
	}
	return out
}

// evilReadings lists how seat can register to an alignment check.
func (p *pass) evilReadings(r reading, seat int) []reading {
	if id, ok := r.w.Role(seat); ok {
		role := p.cat.Role(id)
		switch {
		case role.Has(CapAmbiguous):
			return []reading{
				{w: p.register(r.w, seat, true), n: r.n + 1},
				{w: p.register(r.w, seat, false), n: r.n},
			}
		case role.Category.Evil():
			return []reading{{w: r.w, n: r.n + 1}}
		}
		return []reading{r}
	}
	out := []reading{r}
	for _, id := range p.ambiguousIn(r.w, seat) {
		if nw, ok := p.pinned(r.w, seat, id); ok {
			out = append(out, reading{w: p.register(nw, seat, true), n: r.n + 1})
		}
	}
	return out
}

// demonReadings lists how seat can register to a demon check. The
// misdirection target only fools checks that are subject to it.
func (p *pass) demonReadings(r reading, seat int, misdirected bool) []reading {
	if seat == r.w.Demon() || (misdirected && seat == r.w.herring) {
		return []reading{{w: r.w, n: r.n + 1}}
	}
	if id, ok := r.w.Role(seat); ok {
		role := p.cat.Role(id)
		if role.Has(CapAmbiguous) && !role.Category.Evil() {
			return []reading{
				{w: p.register(r.w, seat, true), n: r.n + 1},
				{w: p.register(r.w, seat, false), n: r.n},
			}
		}
		return []reading{r}
	}
	out := []reading{r}
	for _, id := range p.ambiguousIn(r.w, seat) {
		if p.cat.Role(id).Category.Evil() {
			continue
		}
		if nw, ok := p.pinned(r.w, seat, id); ok {
			out = append(out, reading{w: p.register(nw, seat, true), n: r.n + 1})
		}
	}
	return out
}

func expand(start *World, seats []int, step func(reading, int) []reading) []reading {
	readings := []reading{{w: start}}
	for _, s := range seats {
		var next []reading
		for _, r := range readings {
			next = append(next, step(r, s)...)
		}
		readings = next
	}
	return readings
}

// settleReadings keeps w when its own reading matches. Otherwise every
// reading that matches only through a branch survives next to the
// fallbacks, which are offered whether or not such a reading exists.
func (p *pass) settleReadings(w *World, readings []reading, match func(reading) bool, fallbacks func() []*World) verdict {
	var out []*World
	for _, r := range readings {
		if !match(r) {
			continue
		}
		if r.w == w {
			return kept()
		}
		out = append(out, r.w)
	}
	if fallbacks != nil {
		out = append(out, fallbacks()...)
	}
	return forked(out...)
}

// corruption is the fallback of every check the claimer's own corruption
// could explain.
func (p *pass) corruption(w *World, c *Claim) func() []*World {
	return func() []*World {
		if cw, ok := p.corrupt(w, c.Seat); ok {
			return []*World{cw}
		}
		return nil
	}
}

// registersCategory reports whether a holder of id can pass for some role
// of category cat.
func (p *pass) registersCategory(id RoleID, cat Category) bool {
	r := p.cat.Role(id)
	if r.Category == cat {
		return true
	}
	return r.Has(CapDisguise) && r.Category.Evil() != cat.Evil()
}

// pairReveal: "one of these two players is role R", or "none in play".
type pairReveal struct{}

func (pairReveal) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	if p.poisoned(w, c.Seat) {
		return kept()
	}
	if f.Role == NoRole {
		return noneInPlay(p, w, c)
	}
	var opts []option
	if p.cat.Role(f.Role).Category == p.cat.Role(c.Role).Reveals {
		for _, s := range f.Seats {
			if s == c.Seat {
				continue
			}
			o := p.identityOptions(w, s, f.Role)
			for _, x := range o {
				if x.plain() {
					return kept()
				}
			}
			opts = append(opts, o...)
		}
	}
	out := p.realize(w, opts, f.Role)
	if cw, ok := p.corrupt(w, c.Seat); ok {
		out = append(out, cw)
	}
	return forked(out...)
}

func noneInPlay(p *pass, w *World, c *Claim) verdict {
	outs := p.cat.Category(Outsider)
	nw, ok := w, true
	for s := range w.seats {
		if nw.Open(s) {
			if nw, ok = nw.narrow(s, ^outs); !ok {
				break
			}
			continue
		}
		if id, _ := nw.Role(s); outs.Has(id) {
			ok = false
			break
		}
	}
	if ok {
		nw, ok = p.settle(nw)
	}
	switch {
	case ok && nw == w:
		return kept()
	case ok:
		return forked(nw.branch(Tag{Kind: TagPin, Night: p.night, Seat: c.Seat, Role: NoRole, Alternatives: 1}))
	}
	if cw, ok := p.corrupt(w, c.Seat); ok {
		return forked(cw)
	}
	return rejected()
}

// retrospective: "that player's role was R".
type retrospective struct{}

func (retrospective) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	if p.poisoned(w, c.Seat) {
		return kept()
	}
	opts := p.identityOptions(w, f.Target, f.Role)
	for _, o := range opts {
		if o.plain() {
			return kept()
		}
	}
	out := p.realize(w, opts, f.Role)
	if cw, ok := p.corrupt(w, c.Seat); ok {
		out = append(out, cw)
	}
	return forked(out...)
}

// adjacency: "N pairs of evil players sit next to each other".
type adjacency struct{}

const (
	seatGood uint8 = iota
	seatEvil
	seatEither
)

func (adjacency) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	if p.poisoned(w, c.Seat) {
		return kept()
	}
	class := make([]uint8, len(w.seats))
	for s := range w.seats {
		id, ok := w.Role(s)
		switch {
		case !ok && len(p.ambiguousIn(w, s)) > 0:
			class[s] = seatEither
		case !ok:
			class[s] = seatGood
		case p.cat.Role(id).Has(CapAmbiguous):
			class[s] = seatEither
		case p.cat.Role(id).Category.Evil():
			class[s] = seatEvil
		}
	}
	lo, hi := adjacencyBounds(class)
	if lo <= f.Count && f.Count <= hi {
		return kept()
	}
	if cw, ok := p.corrupt(w, c.Seat); ok {
		return forked(cw)
	}
	return rejected()
}

// adjacencyBounds returns the fewest and most evil neighbour pairs around a
// circular table, letting every seatEither seat register either way. The
// last seat neighbours the first.
func adjacencyBounds(class []uint8) (lo, hi int) {
	n := len(class)
	if n < 2 {
		return 0, 0
	}
	allows := func(s int, v int) bool {
		return class[s] == seatEither || int(class[s]) == v
	}
	lo, hi = math.MaxInt, -1
	for first := range 2 {
		if !allows(0, first) {
			continue
		}
		var mn, mx [2]int
		var ok [2]bool
		ok[first] = true
		for i := 1; i < n; i++ {
			var nmn, nmx [2]int
			var nok [2]bool
			for v := range 2 {
				if !allows(i, v) {
					continue
				}
				for u := range 2 {
					if !ok[u] {
						continue
					}
					add := u & v
					if !nok[v] || mn[u]+add < nmn[v] {
						nmn[v] = mn[u] + add
					}
					if !nok[v] || mx[u]+add > nmx[v] {
						nmx[v] = mx[u] + add
					}
					nok[v] = true
				}
			}
			mn, mx, ok = nmn, nmx, nok
		}
		for v := range 2 {
			if !ok[v] {
				continue
			}
			wrap := 0
			if n > 2 {
				wrap = v & first
			}
			lo = min(lo, mn[v]+wrap)
			hi = max(hi, mx[v]+wrap)
		}
	}
	if hi < 0 {
		return 0, 0
	}
	return lo, hi
}

// pairCount: "N of these two players are evil".
type pairCount struct{}

func (pairCount) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	if p.poisoned(w, c.Seat) {
		return kept()
	}
	readings := expand(w, f.Seats[:], p.evilReadings)
	return p.settleReadings(w, readings, func(r reading) bool { return r.n == f.Count }, p.corruption(w, c))
}

// demonPing: "one of these two players is (or is not) the demon".
type demonPing struct{}

func (demonPing) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	if p.poisoned(w, c.Seat) {
		return kept()
	}
	misdirected := p.cat.Role(c.Role).Has(CapMisdirected)
	readings := expand(w, f.Seats[:], func(r reading, s int) []reading {
		return p.demonReadings(r, s, misdirected)
	})
	match := func(r reading) bool { return (r.n > 0) == f.Flag }
	return p.settleReadings(w, readings, match, func() []*World {
		var out []*World
		if f.Flag && misdirected {
			out = append(out, p.misdirect(w, c, f.Seats[:])...)
		}
		return append(out, p.corruption(w, c)()...)
	})
}

// protected: the claimer cannot die at night unless its protection was
// corrupted.
type protected struct{}

func (protected) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	if !p.diedAt(c.Seat, p.night, false) || p.poisoned(w, c.Seat) {
		return kept()
	}
	if cw, ok := p.corrupt(w, c.Seat); ok {
		return forked(cw)
	}
	return rejected()
}

// nomination: the first nominator of the claimer died iff it is townsfolk.
type nomination struct{}

func (nomination) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	folk := p.cat.Category(Townsfolk)
	if w.Open(f.Target) {
		allowed := folk
		if !f.Flag {
			allowed = ^folk
		}
		nw, ok := p.narrowed(w, f.Target, allowed)
		switch {
		case !ok:
			return rejected()
		case nw == w:
			return kept()
		}
		return forked(nw)
	}
	id, _ := w.Role(f.Target)
	isFolk := folk.Has(id)
	switch {
	case f.Flag && isFolk, !f.Flag && !isFolk:
		return kept()
	case f.Flag && p.registersCategory(id, Townsfolk):
		return forked(p.disguise(w, f.Target, NoRole, 1))
	}
	return rejected()
}

// ValidateUntrusted rejects a nominator's death when the claimer holds no
// such ability.
func (nomination) ValidateUntrusted(p *pass, w *World, c *Claim, f Fact) verdict {
	if f.Flag {
		return rejected()
	}
	return kept()
}

// shot: the target died iff it registered as the demon. A resolved action
// has no corruption fallback.
type shot struct{}

func (shot) Validate(p *pass, w *World, c *Claim, f Fact) verdict {
	readings := expand(w, []int{f.Target}, func(r reading, s int) []reading {
		return p.demonReadings(r, s, false)
	})
	return p.settleReadings(w, readings, func(r reading) bool { return (r.n > 0) == f.Flag }, nil)
}

// ValidateUntrusted rejects a kill by a claimer that cannot kill.
func (shot) ValidateUntrusted(p *pass, w *World, c *Claim, f Fact) verdict {
	if f.Flag {
		return rejected()
	}
	return kept()
}
