package deduction

// DefaultSuccessionThreshold is the fewest living players, counted before
// the demon's death, for a successor role to take over.
const DefaultSuccessionThreshold = 5

// succeed resolves the demon's deaths in tonight's (or today's) part of the
// death log.
func (p *pass) succeed(worlds []*World, day bool) []*World {
	for _, d := range p.deaths {
		if d.night != p.night || d.day != day {
			continue
		}
		next := make([]*World, 0, len(worlds))
		for _, w := range worlds {
			if w.headless || w.demon != d.seat {
				next = append(next, w)
				continue
			}
			next = append(next, p.promote(w, d)...)
		}
		worlds = next
	}
	return worlds
}

// promote hands the demon to a successor. An execution can only be
// inherited by a successor role; a night death (the demon killing itself)
// passes to any living minion when no successor qualifies. With nobody to
// inherit, the world continues without a demon.
func (p *pass) promote(w *World, d death) []*World {
	phase := d.phase()
	var successors, minions []int
	for seat := range w.seats {
		id, ok := w.Role(seat)
		if !ok || seat == d.seat || !p.aliveAt(seat, phase) {
			continue
		}
		r := p.cat.Role(id)
		if r.Category != Minion {
			continue
		}
		minions = append(minions, seat)
		if r.Has(CapSuccessor) {
			successors = append(successors, seat)
		}
	}

	heirs := minions
	switch {
	case len(successors) > 0 && p.aliveCount(phase) >= p.threshold:
		heirs = successors
	case d.day:
		heirs = nil
	}

	if len(heirs) == 0 {
		nw := w.branch(Tag{Kind: TagHeadless, Night: d.night, Seat: d.seat, Role: NoRole, Alternatives: 1})
		nw.headless = true
		return []*World{nw}
	}
	out := make([]*World, 0, len(heirs))
	for _, seat := range heirs {
		nw := w.branch(Tag{Kind: TagSuccession, Night: d.night, Seat: seat, Role: w.demonRole, Alternatives: len(heirs)})
		nw.demon = seat
		out = append(out, nw)
	}
	return out
}
