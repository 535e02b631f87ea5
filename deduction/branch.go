package deduction

// pass is the pipeline's view of one night.
type pass struct {
	*table
	night int
}

// phase is the night's position in the death order.
func (p *pass) phase() int { return 2*p.night - 1 }

// poisoned reports whether the claimer's information is already corrupted
// tonight, which makes every check against it a no-op.
func (p *pass) poisoned(w *World, claimer int) bool {
	seat, ok := w.poisonedAt(p.night)
	return ok && seat == claimer
}

// corrupt spends tonight's corruption on the claimer. It is legal only while
// a corrupting evil role is alive and nothing else was corrupted tonight.
func (p *pass) corrupt(w *World, claimer int) (*World, bool) {
	if _, used := w.poisonedAt(p.night); used {
		return nil, false
	}
	if !p.corrupterAlive(w) {
		return nil, false
	}
	tag := Tag{Kind: TagCorrupt, Night: p.night, Seat: claimer, Role: NoRole, Alternatives: p.corruptionTargets(w)}
	return w.withPoison(p.night, claimer).branch(tag), true
}

func (p *pass) corrupterAlive(w *World) bool {
	for seat := range w.seats {
		id, ok := w.Role(seat)
		if !ok {
			continue
		}
		r := p.cat.Role(id)
		if r.Category.Evil() && r.Has(CapCorrupting) && p.aliveAt(seat, p.phase()) {
			return true
		}
	}
	return false
}

// corruptionTargets counts the players the corruption could have landed on.
// After the first night only living holders of ongoing information matter.
func (p *pass) corruptionTargets(w *World) int {
	good := p.numGood(w)
	if p.night == 1 {
		return max(1, good)
	}
	n := 0
	for seat := range w.seats {
		id, ok := w.Role(seat)
		if !ok || p.evil(w, seat) {
			continue
		}
		if p.cat.Role(id).Has(CapOngoing) && p.aliveAt(seat, p.phase()) {
			n++
		}
	}
	if n == 0 {
		return max(1, good)
	}
	return n
}

// disguise records that a seat registered as a role it does not hold.
func (p *pass) disguise(w *World, seat int, as RoleID, alternatives int) *World {
	return w.branch(Tag{Kind: TagDisguise, Night: p.night, Seat: seat, Role: as, Alternatives: max(1, alternatives)})
}

// register records one coin flip of an ambiguous seat.
func (p *pass) register(w *World, seat int, evil bool) *World {
	return w.branch(Tag{Kind: TagRegister, Night: p.night, Seat: seat, Role: NoRole, Evil: evil, Alternatives: 2})
}

// pinned fixes an open seat as a recorded branch.
func (p *pass) pinned(w *World, seat int, role RoleID) (*World, bool) {
	nw, ok := p.pin(w, seat, role)
	if !ok {
		return nil, false
	}
	return nw.branch(Tag{Kind: TagPin, Night: p.night, Seat: seat, Role: role, Alternatives: 1}), true
}

// narrowed restricts an open seat as a recorded branch.
func (p *pass) narrowed(w *World, seat int, allowed RoleSet) (*World, bool) {
	nw, ok := w.narrow(seat, allowed)
	if !ok {
		return nil, false
	}
	if nw == w {
		return w, true
	}
	if nw, ok = p.settle(nw); !ok {
		return nil, false
	}
	return nw.branch(Tag{Kind: TagPin, Night: p.night, Seat: seat, Role: NoRole, Alternatives: 1}), true
}

// misdirect forks one world per eligible misdirection target among seats.
// The target is fixed for the whole game, so it is legal once per lineage
// and never on a seat an earlier negative reading from the same claim
// already cleared.
func (p *pass) misdirect(w *World, c *Claim, seats []int) []*World {
	if w.herring != NoSeat {
		return nil
	}
	disguised := p.cat.With(CapDisguise)
	good := p.numGood(w)
	var out []*World
	for _, s := range seats {
		if p.evil(w, s) {
			continue
		}
		if id, ok := w.Role(s); ok && disguised.Has(id) {
			continue
		}
		if p.clearedEarlier(w, c, s) {
			continue
		}
		nw := w.branch(Tag{Kind: TagHerring, Night: p.night, Seat: s, Role: NoRole, Alternatives: max(1, good)})
		nw.herring = s
		out = append(out, nw)
	}
	return out
}

func (p *pass) clearedEarlier(w *World, c *Claim, seat int) bool {
	for _, f := range c.Facts {
		if f.Night >= p.night || f.Flag {
			continue
		}
		if f.Seats[0] != seat && f.Seats[1] != seat {
			continue
		}
		if poisoned, ok := w.poisonedAt(f.Night); ok && poisoned == c.Seat {
			continue
		}
		return true
	}
	return false
}

// ambiguousIn returns the ambiguous roles an open seat could still hold.
func (p *pass) ambiguousIn(w *World, seat int) []RoleID {
	if !w.Open(seat) {
		return nil
	}
	return (w.Set(seat) & p.cat.With(CapAmbiguous)).IDs()
}
