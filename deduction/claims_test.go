package deduction

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================================
// Claim Normalizer Tests
// ============================================================================

var roster = []string{"Alice", "Bob", "Cara", "Dan", "Eve"}

func TestNormalizePairReveal(t *testing.T) {
	cat := TroubleBrewing()
	n := NewNormalizer(cat, roster)

	c, err := n.Normalize("Alice", RawClaim{
		"role":         "washerwoman",
		"seen_role":    "Chef",
		"seen_players": []string{"Bob", "Dan"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.Seat != 0 || c.Kind != KindPairReveal || len(c.Facts) != 1 {
		t.Fatalf("unexpected claim %+v", c)
	}
	f := c.Facts[0]
	chef, _ := cat.Lookup("Chef")
	if f.Night != 1 || f.Role != chef || f.Seats != [2]int{1, 3} {
		t.Errorf("unexpected fact %+v", f)
	}
}

func TestNormalizeLibrarianNoneInPlay(t *testing.T) {
	n := NewNormalizer(TroubleBrewing(), roster)

	for _, seen := range []any{nil, "none", ""} {
		c, err := n.Normalize("Bob", RawClaim{"role": "Librarian", "seen_role": seen})
		if err != nil {
			t.Fatalf("seen_role %v: %v", seen, err)
		}
		if len(c.Facts) != 1 || c.Facts[0].Role != NoRole {
			t.Errorf("seen_role %v: expected a none-in-play fact, got %+v", seen, c.Facts)
		}
	}

	// Only outsider reveals can come up empty.
	c, err := n.Normalize("Bob", RawClaim{"role": "Investigator", "seen_role": "none"})
	if !errors.Is(err, ErrMalformedClaim) {
		t.Errorf("expected malformed claim, got %v", err)
	}
	if c == nil || len(c.Facts) != 0 {
		t.Errorf("malformed claim should keep its role and carry no facts: %+v", c)
	}
}

func TestNormalizeNightResults(t *testing.T) {
	n := NewNormalizer(TroubleBrewing(), roster)

	// Numbers arrive as ints from YAML and Go literals, floats from JSON.
	c, err := n.Normalize("Cara", RawClaim{
		"role": "Empath",
		"night_results": []any{
			map[string]any{"night": 1, "num_evil": 0, "neighbor1": "Bob", "neighbor2": "Dan"},
			map[string]any{"night": 2.0, "num_evil": 1.0, "neighbor1": "Bob", "neighbor2": "Eve"},
		},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(c.Facts) != 2 || c.Facts[1].Night != 2 || c.Facts[1].Count != 1 || c.Facts[1].Seats != [2]int{1, 4} {
		t.Errorf("unexpected facts %+v", c.Facts)
	}
	if got := c.factsAt(2); len(got) != 1 || got[0].Count != 1 {
		t.Errorf("factsAt(2) = %+v", got)
	}
	if c.lastNight() != 2 {
		t.Errorf("lastNight = %d", c.lastNight())
	}
}

func TestNormalizeRetrospectiveShapes(t *testing.T) {
	cat := TroubleBrewing()
	n := NewNormalizer(cat, roster)

	undertaker, err := n.Normalize("Dan", RawClaim{
		"role": "Undertaker",
		"night_results": []any{
			map[string]any{"night": 2, "executed_player": "Eve", "seen_role": "Imp"},
		},
	})
	if err != nil {
		t.Fatalf("undertaker: %v", err)
	}
	imp, _ := cat.Lookup("Imp")
	if f := undertaker.Facts[0]; f.Night != 2 || f.Target != 4 || f.Role != imp {
		t.Errorf("undertaker fact %+v", f)
	}

	raven, err := n.Normalize("Eve", RawClaim{"role": "Ravenkeeper", "night": 3, "seen_player": "Alice", "seen_role": "Spy"})
	if err != nil {
		t.Fatalf("ravenkeeper: %v", err)
	}
	if f := raven.Facts[0]; f.Night != 3 || f.Target != 0 {
		t.Errorf("ravenkeeper fact %+v", f)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := NewNormalizer(TroubleBrewing(), roster)

	tests := []struct {
		name     string
		player   string
		claim    RawClaim
		keepRole bool
	}{
		{"missing num_evil", "Alice", RawClaim{"role": "Empath", "night_results": []any{
			map[string]any{"night": 1, "neighbor1": "Bob", "neighbor2": "Eve"},
		}}, true},
		{"num_evil out of range", "Alice", RawClaim{"role": "Empath", "night_results": []any{
			map[string]any{"night": 1, "num_evil": 3, "neighbor1": "Bob", "neighbor2": "Eve"},
		}}, true},
		{"same neighbour twice", "Alice", RawClaim{"role": "Empath", "night_results": []any{
			map[string]any{"night": 1, "num_evil": 1, "neighbor1": "Bob", "neighbor2": "Bob"},
		}}, true},
		{"night past the last", "Alice", RawClaim{"role": "Empath", "night_results": []any{
			map[string]any{"night": 1e15, "num_evil": 1, "neighbor1": "Bob", "neighbor2": "Eve"},
		}}, true},
		{"ravenkeeper past the last night", "Eve", RawClaim{"role": "Ravenkeeper", "night": MaxNight + 1, "seen_player": "Alice", "seen_role": "Spy"}, true},
		{"slayer past the last night", "Dan", RawClaim{"role": "Slayer", "night": MaxNight + 1, "shot_player": "Eve", "died": false}, true},
		{"chef without pairs", "Bob", RawClaim{"role": "Chef"}, true},
		{"pairs as text", "Bob", RawClaim{"role": "Chef", "pairs": "two"}, true},
		{"unseated seen player", "Cara", RawClaim{"role": "Washerwoman", "seen_role": "Chef", "seen_players": []string{"Bob", "Zed"}}, true},
		{"one seen player", "Cara", RawClaim{"role": "Washerwoman", "seen_role": "Chef", "seen_players": []string{"Bob"}}, true},
		{"slayer without outcome", "Dan", RawClaim{"role": "Slayer", "night": 1, "shot_player": "Eve"}, true},
		{"unknown role", "Eve", RawClaim{"role": "Juggler"}, false},
		{"no role", "Eve", RawClaim{"pairs": 1}, false},
		{"unseated claimer", "Zed", RawClaim{"role": "Chef", "pairs": 0}, false},
	}
	for _, tt := range tests {
		c, err := n.Normalize(tt.player, tt.claim)
		if !errors.Is(err, ErrMalformedClaim) {
			t.Errorf("%s: expected ErrMalformedClaim, got %v", tt.name, err)
			continue
		}
		if tt.keepRole != (c != nil) {
			t.Errorf("%s: keepRole=%v but claim is %+v", tt.name, tt.keepRole, c)
		}
		if c != nil && len(c.Facts) != 0 {
			t.Errorf("%s: malformed claim kept facts %+v", tt.name, c.Facts)
		}
	}
}

func TestNormalizeUninformativeRole(t *testing.T) {
	n := NewNormalizer(TroubleBrewing(), roster)
	c, err := n.Normalize("Bob", RawClaim{"role": "Mayor", "anything": "goes"})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if c.Kind != KindNone || len(c.Facts) != 0 {
		t.Errorf("unexpected claim %+v", c)
	}
}

func TestLoadInputFromYAML(t *testing.T) {
	doc := `
players: [Alice, Bob, Cara, Dan, Eve]
pov: Alice
claims:
  Alice:
    role: Empath
    night_results:
      - {night: 1, num_evil: 1, neighbor1: Eve, neighbor2: Bob}
  Bob: {role: Chef, pairs: 0}
deaths:
  - {player: Cara, night: 1, time: day}
`
	in, err := LoadInput(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadInput: %v", err)
	}
	if len(in.Players) != 5 || in.POV != "Alice" || len(in.Deaths) != 1 || in.Deaths[0].Time != Day {
		t.Fatalf("unexpected input %+v", in)
	}
	c, err := NewNormalizer(TroubleBrewing(), in.Players).Normalize("Alice", in.Claims["Alice"])
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(c.Facts) != 1 || c.Facts[0].Count != 1 {
		t.Errorf("unexpected facts %+v", c.Facts)
	}
}
