package deduction

import (
	"iter"
	"slices"
)

// team is one evil-team hypothesis.
type team struct {
	seats []int
	roles []RoleID
	demon int
}

// evilSeatSets yields every set of seats that could form the evil team.
// The point-of-view seat is never evil.
func (t *table) evilSeatSets() iter.Seq[[]int] {
	candidates := make([]int, 0, len(t.players))
	for seat := range t.players {
		if seat != t.pov {
			candidates = append(candidates, seat)
		}
	}
	return combinations(candidates, t.quotas.Minions+t.quotas.Demons)
}

// combinations yields every k-subset of items in lexicographic order.
func combinations(items []int, k int) iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if k < 0 || k > len(items) {
			return
		}
		idx := make([]int, k)
		for i := range idx {
			idx[i] = i
		}
		for {
			combo := make([]int, k)
			for i, j := range idx {
				combo[i] = items[j]
			}
			if !yield(combo) {
				return
			}
			i := k - 1
			for i >= 0 && idx[i] == len(items)-k+i {
				i--
			}
			if i < 0 {
				return
			}
			idx[i]++
			for j := i + 1; j < k; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
}

// teams yields every role assignment for an evil seat set: one seat holds a
// demon role and the rest hold distinct minion roles.
func (t *table) teams(seats []int) iter.Seq[team] {
	return func(yield func(team) bool) {
		demons := t.cat.Category(Demon).IDs()
		minions := t.cat.Category(Minion).IDs()
		for _, demon := range seats {
			rest := slices.DeleteFunc(slices.Clone(seats), func(s int) bool { return s == demon })
			for _, demonRole := range demons {
				for perm := range permutations(minions, len(rest)) {
					tm := team{seats: append([]int{demon}, rest...), demon: demon}
					tm.roles = append([]RoleID{demonRole}, perm...)
					if !yield(tm) {
						return
					}
				}
			}
		}
	}
}

// permutations yields every ordered selection of k distinct roles.
func permutations(roles []RoleID, k int) iter.Seq[[]RoleID] {
	return func(yield func([]RoleID) bool) {
		used := make([]bool, len(roles))
		cur := make([]RoleID, 0, k)
		var rec func() bool
		rec = func() bool {
			if len(cur) == k {
				return yield(slices.Clone(cur))
			}
			for i, r := range roles {
				if used[i] {
					continue
				}
				used[i] = true
				cur = append(cur, r)
				ok := rec()
				cur = cur[:len(cur)-1]
				used[i] = false
				if !ok {
					return false
				}
			}
			return true
		}
		rec()
	}
}

// initial yields the starting worlds for one evil seat set.
func (t *table) initial(seats []int) iter.Seq[*World] {
	return func(yield func(*World) bool) {
		for tm := range t.teams(seats) {
			for _, w := range t.worlds(tm) {
				if !yield(w) {
					return
				}
			}
		}
	}
}

// worlds places the good team around an evil team. Claimed good seats hold
// their claim; unclaimed good seats stay open over the roles nobody claims.
// Drunk variants replace one non-outsider-claiming good seat with the drunk.
func (t *table) worlds(tm team) []*World {
	n := len(t.players)
	seats := make([]RoleSet, n)
	evil := make([]bool, n)
	for i, s := range tm.seats {
		seats[s] = singleton(tm.roles[i])
		evil[s] = true
	}

	var claimedGood RoleSet
	var open, good []int
	claimedOut := 0
	for s := range n {
		if evil[s] {
			continue
		}
		good = append(good, s)
		r := t.claimed[s]
		if r == NoRole {
			open = append(open, s)
			continue
		}
		role := t.cat.Role(r)
		if role.Category.Evil() || claimedGood.Has(r) {
			return nil
		}
		claimedGood |= singleton(r)
		seats[s] = singleton(r)
		if role.Category == Outsider {
			claimedOut++
		}
	}

	drunks := t.cat.With(CapDrunk) &^ claimedGood
	pool := t.cat.Good() &^ claimedGood &^ drunks
	for _, s := range open {
		seats[s] = pool
	}

	var out []*World
	if w, ok := t.settle(newWorld(seats, tm.demon)); ok {
		out = append(out, w)
	}

	alternatives := max(1, len(good)-claimedOut)
	for _, drunk := range drunks.IDs() {
		for _, s := range good {
			if r := t.claimed[s]; r != NoRole && t.cat.Role(r).Category != Townsfolk {
				continue
			}
			variant := slices.Clone(seats)
			variant[s] = singleton(drunk)
			w := newWorld(variant, tm.demon)
			w.drunk = s
			w = w.branch(Tag{Kind: TagDrunk, Seat: s, Role: drunk, Alternatives: alternatives})
			if w, ok := t.settle(w); ok {
				out = append(out, w)
			}
		}
	}
	return out
}
