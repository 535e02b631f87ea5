package deduction

import "slices"

// Weight is a world's prior mass: the product over its hidden choices of
// one over the number of equally legal alternatives.
func Weight(w *World) float64 {
	weight := 1.0
	for p := w.prov; p != nil; p = p.parent {
		if p.tag.Alternatives > 1 {
			weight /= float64(p.tag.Alternatives)
		}
	}
	return weight
}

// concretize expands the open seats of w into every legal assignment of
// distinct good roles. Each assignment is a separate world.
func (t *table) concretize(w *World, b *budget) ([]*World, error) {
	var out []*World
	var rec func(cur *World, from int) error
	rec = func(cur *World, from int) error {
		seat := slices.IndexFunc(cur.seats[from:], func(s RoleSet) bool { return s.Len() > 1 })
		if seat < 0 {
			if err := b.grow(1); err != nil {
				return err
			}
			out = append(out, cur)
			return nil
		}
		seat += from
		for _, id := range cur.Set(seat).IDs() {
			nw, ok := t.pin(cur, seat, id)
			if !ok {
				continue
			}
			if err := rec(nw, seat+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := rec(w, 0); err != nil {
		return nil, err
	}
	// The collapsed world is replaced by its expansions.
	if err := b.grow(-1); err != nil {
		return nil, err
	}
	return out, nil
}

// dedupe drops worlds that reached the same hypothesis along equivalent
// branches, keeping the first in input order.
func dedupe(worlds []*World) []*World {
	seen := make(map[string]bool, len(worlds))
	out := worlds[:0:0]
	for _, w := range worlds {
		k := w.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, w)
	}
	return out
}
