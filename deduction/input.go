package deduction

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrTooManyWorlds means the candidate set outgrew the configured ceiling
	// and the analysis is inconclusive.
	ErrTooManyWorlds = errors.New("inconclusive: too many candidate worlds")
	ErrInvalidRoster = errors.New("invalid roster")
	ErrUnknownRole   = errors.New("unknown role")
	ErrNoQuota       = errors.New("no role quota")
)

// TimeOfDay tells whether a death happened during the day or the night.
type TimeOfDay string

const (
	Day   TimeOfDay = "day"
	Night TimeOfDay = "night"
)

// MaxNight is the last night a claim or death may name. A game of fifteen
// players is over long before it.
const MaxNight = 30

// Death is one recorded death. Night is the game's night or day number.
type Death struct {
	Player string    `json:"player" yaml:"player"`
	Night  int       `json:"night" yaml:"night"`
	Time   TimeOfDay `json:"time,omitempty" yaml:"time,omitempty"`
}

// Input is everything known at the table when an analysis is requested.
type Input struct {
	Players []string            `json:"players" yaml:"players"`
	Quotas  *Quotas             `json:"quotas,omitempty" yaml:"quotas,omitempty"`
	Claims  map[string]RawClaim `json:"claims,omitempty" yaml:"claims,omitempty"`
	Deaths  []Death             `json:"deaths,omitempty" yaml:"deaths,omitempty"`
	POV     string              `json:"pov,omitempty" yaml:"pov,omitempty"`
}

// LoadInput decodes a YAML scenario file.
func LoadInput(r io.Reader) (Input, error) {
	var in Input
	if err := yaml.NewDecoder(r).Decode(&in); err != nil {
		return Input{}, fmt.Errorf("failed to decode scenario: %w", err)
	}
	return in, nil
}

type death struct {
	seat  int
	night int
	day   bool
}

// phase orders deaths: night n is 2n-1 and the following day is 2n.
func (d death) phase() int {
	if d.day {
		return 2 * d.night
	}
	return 2*d.night - 1
}

// table is an Input resolved against a catalog: seats instead of names,
// normalized claims and sorted deaths.
type table struct {
	cat       *Catalog
	players   []string
	quotas    Quotas
	claimed   []RoleID
	claims    []*Claim
	byKind    map[ClaimKind][]*Claim
	deaths    []death
	pov       int
	nights    int
	threshold int
	malformed []Malformed
}

func newTable(cat *Catalog, in Input, threshold int) (*table, error) {
	n := len(in.Players)
	if n == 0 {
		return nil, fmt.Errorf("%w: no players", ErrInvalidRoster)
	}
	t := &table{
		cat:       cat,
		players:   in.Players,
		claimed:   make([]RoleID, n),
		claims:    make([]*Claim, n),
		byKind:    make(map[ClaimKind][]*Claim),
		pov:       NoSeat,
		nights:    1,
		threshold: threshold,
	}

	seen := make(map[string]bool, n)
	for i, p := range in.Players {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: seat %d has no name", ErrInvalidRoster, i)
		}
		if seen[p] {
			return nil, fmt.Errorf("%w: %q is seated twice", ErrInvalidRoster, p)
		}
		seen[p] = true
		t.claimed[i] = NoRole
	}

	if in.Quotas != nil {
		t.quotas = *in.Quotas
	} else {
		q, err := QuotasFor(n)
		if err != nil {
			return nil, err
		}
		t.quotas = q
	}
	if t.quotas.Total() != n || t.quotas.Demons != 1 || t.quotas.Minions < 0 ||
		t.quotas.Outsiders < 0 || t.quotas.Townsfolk < 0 {
		return nil, fmt.Errorf("%w: %+v does not seat %d players with one demon", ErrNoQuota, t.quotas, n)
	}
	if t.quotas.Minions > cat.Category(Minion).Len() {
		return nil, fmt.Errorf("%w: %d minions but the catalog has %d", ErrNoQuota, t.quotas.Minions, cat.Category(Minion).Len())
	}

	if in.POV != "" {
		pov := slices.Index(in.Players, in.POV)
		if pov < 0 {
			return nil, fmt.Errorf("%w: point of view %q is not seated", ErrInvalidRoster, in.POV)
		}
		t.pov = pov
	}

	norm := NewNormalizer(cat, in.Players)
	names := make([]string, 0, len(in.Claims))
	for name := range in.Claims {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		raw := in.Claims[name]
		c, err := norm.Normalize(name, raw)
		if err != nil {
			role, _ := raw["role"].(string)
			t.malformed = append(t.malformed, Malformed{Player: name, Role: role, Reason: err.Error()})
		}
		if c == nil {
			continue
		}
		t.claimed[c.Seat] = c.Role
		if err != nil || c.Kind == KindNone {
			continue
		}
		t.claims[c.Seat] = c
		t.byKind[c.Kind] = append(t.byKind[c.Kind], c)
		t.nights = max(t.nights, c.lastNight())
	}

	for _, d := range in.Deaths {
		seat := slices.Index(in.Players, d.Player)
		if seat < 0 {
			return nil, fmt.Errorf("%w: death of unseated player %q", ErrInvalidRoster, d.Player)
		}
		if d.Night < 1 || d.Night > MaxNight {
			return nil, fmt.Errorf("%w: death of %q on night %d, nights run from 1 to %d", ErrInvalidRoster, d.Player, d.Night, MaxNight)
		}
		switch d.Time {
		case Day, Night, "":
		default:
			return nil, fmt.Errorf("%w: death of %q at %q", ErrInvalidRoster, d.Player, d.Time)
		}
		t.deaths = append(t.deaths, death{seat: seat, night: d.Night, day: d.Time == Day})
		t.nights = max(t.nights, d.Night)
	}
	slices.SortStableFunc(t.deaths, func(a, b death) int { return a.phase() - b.phase() })
	return t, nil
}

// aliveAt reports whether seat had not died before the given phase.
func (t *table) aliveAt(seat, phase int) bool {
	for _, d := range t.deaths {
		if d.seat == seat && d.phase() < phase {
			return false
		}
	}
	return true
}

// aliveCount counts players alive just before the given phase.
func (t *table) aliveCount(phase int) int {
	n := 0
	for seat := range t.players {
		if t.aliveAt(seat, phase) {
			n++
		}
	}
	return n
}

func (t *table) diedAt(seat, night int, day bool) bool {
	for _, d := range t.deaths {
		if d.seat == seat && d.night == night && d.day == day {
			return true
		}
	}
	return false
}

// quotasFor adjusts the table quotas for an inflating minion in w.
func (t *table) quotasFor(w *World) Quotas {
	for _, s := range w.seats {
		if id, ok := s.Only(); ok {
			r := t.cat.Role(id)
			if r.Category.Evil() && r.Has(CapInflating) {
				return t.quotas.inflated()
			}
		}
	}
	return t.quotas
}

// evil reports whether the seat is determined to be evil. Open seats are good.
func (t *table) evil(w *World, seat int) bool {
	id, ok := w.Role(seat)
	return ok && t.cat.Role(id).Category.Evil()
}

func (t *table) numGood(w *World) int {
	n := 0
	for seat := range w.seats {
		if !t.evil(w, seat) {
			n++
		}
	}
	return n
}

// trusted reports whether the claimer really holds the claimed role in w.
// The drunk holds the drunk role, not the one it claims.
func (t *table) trusted(w *World, c *Claim) bool {
	return w.Holds(c.Seat, c.Role)
}

// settle enforces the category quotas on open seats, striking categories
// that are already full. It fails when w can no longer be completed.
func (t *table) settle(w *World) (*World, bool) {
	q := t.quotasFor(w)
	outs, folk := t.cat.Category(Outsider), t.cat.Category(Townsfolk)
	var haveO, haveT, open, canO, canT int
	var union RoleSet
	for _, s := range w.seats {
		if id, ok := s.Only(); ok {
			switch t.cat.Role(id).Category {
			case Outsider:
				haveO++
			case Townsfolk:
				haveT++
			}
			continue
		}
		open++
		union |= s
		if s&outs != 0 {
			canO++
		}
		if s&folk != 0 {
			canT++
		}
	}
	needO, needT := q.Outsiders-haveO, q.Townsfolk-haveT
	if needO < 0 || needT < 0 || needO+needT != open || canO < needO || canT < needT {
		return nil, false
	}
	if (union&outs).Len() < needO || (union&folk).Len() < needT {
		return nil, false
	}

	var strip RoleSet
	if needO == 0 {
		strip |= outs
	}
	if needT == 0 {
		strip |= folk
	}
	changed := false
	for i, s := range w.seats {
		if s.Len() <= 1 || s&strip == 0 {
			continue
		}
		var ok bool
		if w, ok = w.narrow(i, ^strip); !ok {
			return nil, false
		}
		changed = true
	}
	if changed {
		return t.settle(w)
	}
	return w, true
}

// pin fixes an open seat and re-checks the quotas.
func (t *table) pin(w *World, seat int, role RoleID) (*World, bool) {
	nw, ok := w.pin(seat, role)
	if !ok {
		return nil, false
	}
	return t.settle(nw)
}

// shownRole is the role a seat shows to identity checks. A promoted
// successor shows the demon role.
func (t *table) shownRole(w *World, seat int) (RoleID, bool) {
	if seat == w.demon {
		return w.demonRole, true
	}
	return w.Role(seat)
}
