package deduction

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// TagKind names a hidden choice recorded in a world's provenance.
type TagKind uint8

const (
	TagDrunk TagKind = iota + 1
	TagCorrupt
	TagDisguise
	TagRegister
	TagHerring
	TagPin
	TagSuccession
	TagHeadless
)

func (k TagKind) String() string {
	switch k {
	case TagDrunk:
		return "drunk"
	case TagCorrupt:
		return "corrupt"
	case TagDisguise:
		return "disguise"
	case TagRegister:
		return "register"
	case TagHerring:
		return "herring"
	case TagPin:
		return "pin"
	case TagSuccession:
		return "succession"
	case TagHeadless:
		return "headless"
	}
	return "tag(" + strconv.Itoa(int(k)) + ")"
}

// Tag is one branch taken along a world's lineage. Alternatives is the
// number of equally legal options at the branch point.
type Tag struct {
	Kind         TagKind
	Night        int
	Seat         int
	Role         RoleID
	Evil         bool
	Alternatives int
}

func (t Tag) String() string {
	var b strings.Builder
	b.WriteString(t.Kind.String())
	fmt.Fprintf(&b, ":n%d:s%d", t.Night, t.Seat)
	if t.Role != NoRole {
		fmt.Fprintf(&b, ":r%d", t.Role)
	}
	if t.Evil {
		b.WriteString(":evil")
	}
	fmt.Fprintf(&b, "/%d", t.Alternatives)
	return b.String()
}

// provenance is a persistent list; forks share their common prefix.
type provenance struct {
	tag    Tag
	parent *provenance
}

type poisoning struct {
	night int
	seat  int
}

// World is one hypothesis about every seat. Worlds are never mutated after
// construction: every change goes through a method returning a new World
// that shares unchanged state with its parent.
type World struct {
	seats     []RoleSet
	demon     int
	demonRole RoleID
	headless  bool
	drunk     int
	herring   int
	poisoned  []poisoning
	prov      *provenance
}

func newWorld(seats []RoleSet, demon int) *World {
	role, _ := seats[demon].Only()
	return &World{seats: seats, demon: demon, demonRole: role, drunk: NoSeat, herring: NoSeat}
}

// Seats returns the number of seats.
func (w *World) Seats() int { return len(w.seats) }

// Set returns the candidate roles of a seat.
func (w *World) Set(seat int) RoleSet { return w.seats[seat] }

// Role returns the seat's role when it is determined.
func (w *World) Role(seat int) (RoleID, bool) { return w.seats[seat].Only() }

// Open reports whether the seat still has more than one candidate role.
func (w *World) Open(seat int) bool { return w.seats[seat].Len() > 1 }

// Holds reports whether the seat is determined to be role.
func (w *World) Holds(seat int, role RoleID) bool {
	r, ok := w.Role(seat)
	return ok && r == role
}

// Demon returns the current demon seat, or NoSeat once the world is headless.
func (w *World) Demon() int {
	if w.headless {
		return NoSeat
	}
	return w.demon
}

func (w *World) Headless() bool { return w.headless }
func (w *World) Drunk() int     { return w.drunk }
func (w *World) Herring() int   { return w.herring }

// Concrete reports whether every seat has exactly one role.
func (w *World) Concrete() bool {
	for _, s := range w.seats {
		if s.Len() != 1 {
			return false
		}
	}
	return true
}

// poisonedAt returns the corrupted seat for a night.
func (w *World) poisonedAt(night int) (int, bool) {
	for _, p := range w.poisoned {
		if p.night == night {
			return p.seat, true
		}
	}
	return NoSeat, false
}

// CorruptedNights lists the nights on which a corruption was consumed.
func (w *World) CorruptedNights() []int {
	out := make([]int, 0, len(w.poisoned))
	for _, p := range w.poisoned {
		out = append(out, p.night)
	}
	slices.Sort(out)
	return out
}

// Provenance returns the branch tags, oldest first.
func (w *World) Provenance() []Tag {
	var out []Tag
	for p := w.prov; p != nil; p = p.parent {
		out = append(out, p.tag)
	}
	slices.Reverse(out)
	return out
}

func (w *World) clone() *World {
	c := *w
	return &c
}

// branch returns a copy with tag appended to its lineage.
func (w *World) branch(tag Tag) *World {
	c := w.clone()
	c.prov = &provenance{tag: tag, parent: w.prov}
	return c
}

// withSeat copies the seat slice and replaces one entry.
func (w *World) withSeat(seat int, set RoleSet) *World {
	c := w.clone()
	c.seats = slices.Clone(w.seats)
	c.seats[seat] = set
	return c
}

// pin fixes an open seat to role and strikes role from every other open
// seat, following any seat that collapses to a single role in turn.
func (w *World) pin(seat int, role RoleID) (*World, bool) {
	if !w.seats[seat].Has(role) {
		return nil, false
	}
	c := w.withSeat(seat, singleton(role))
	queue := []int{seat}
	for len(queue) > 0 {
		at := queue[0]
		queue = queue[1:]
		fixed := c.seats[at]
		for i, s := range c.seats {
			if i == at {
				continue
			}
			if s == fixed {
				return nil, false
			}
			if s.Len() <= 1 || s&fixed == 0 {
				continue
			}
			s &^= fixed
			if s == 0 {
				return nil, false
			}
			c.seats[i] = s
			if s.Len() == 1 {
				queue = append(queue, i)
			}
		}
	}
	return c, true
}

// narrow intersects an open seat with allowed.
func (w *World) narrow(seat int, allowed RoleSet) (*World, bool) {
	s := w.seats[seat] & allowed
	if s == 0 {
		return nil, false
	}
	if s == w.seats[seat] {
		return w, true
	}
	if id, ok := s.Only(); ok {
		return w.pin(seat, id)
	}
	return w.withSeat(seat, s), true
}

func (w *World) withPoison(night, seat int) *World {
	c := w.clone()
	c.poisoned = append(slices.Clip(w.poisoned), poisoning{night: night, seat: seat})
	return c
}

// key identifies a world for deduplication: its role assignment, hidden
// facts and every weight-bearing branch it took.
func (w *World) key() string {
	var b strings.Builder
	for _, s := range w.seats {
		b.WriteString(strconv.FormatUint(uint64(s), 36))
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "|d%d|h%t|k%d|r%d|p", w.demon, w.headless, w.drunk, w.herring)
	for _, n := range w.CorruptedNights() {
		seat, _ := w.poisonedAt(n)
		fmt.Fprintf(&b, "%d:%d,", n, seat)
	}
	tags := make([]string, 0, 8)
	for p := w.prov; p != nil; p = p.parent {
		if p.tag.Kind != TagPin {
			tags = append(tags, p.tag.String())
		}
	}
	slices.Sort(tags)
	b.WriteByte('|')
	b.WriteString(strings.Join(tags, ";"))
	return b.String()
}
