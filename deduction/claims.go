package deduction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// NoSeat marks an absent seat reference.
const NoSeat = -1

// ErrMalformedClaim wraps every reason a claim is skipped.
var ErrMalformedClaim = errors.New("malformed claim")

// RawClaim is a player's public claim as recorded at the table:
// {role, seen_role, seen_players, night_results, pairs, night, died, ...}.
type RawClaim map[string]any

// Claim is a normalized claim. Facts is empty when the claimed role carries
// no checkable information or the claim body was malformed.
type Claim struct {
	Seat  int
	Role  RoleID
	Kind  ClaimKind
	Facts []Fact
}

// Fact is one night's worth of checkable information. Which fields are set
// depends on the claim kind:
//
//	pair_reveal    Seats, Role (NoRole for "none in play")
//	retrospective  Target, Role
//	adjacency      Count
//	pair_count     Seats, Count
//	demon_ping     Seats, Flag (ping)
//	nomination     Target (nominator), Flag (died)
//	shot           Target, Flag (died)
type Fact struct {
	Night  int
	Seats  [2]int
	Target int
	Role   RoleID
	Count  int
	Flag   bool
}

// Malformed reports a claim that was skipped.
type Malformed struct {
	Player string `json:"player"`
	Role   string `json:"role,omitempty"`
	Reason string `json:"reason"`
}

const pairRevealSchema = `{
  "type": "object",
  "required": ["role"],
  "properties": {
    "role": {"type": "string"},
    "seen_role": {"type": ["string", "null"]},
    "seen_players": {"type": "array", "items": {"type": "string"}, "maxItems": 2, "uniqueItems": true}
  }
}`

const retrospectiveSchema = `{
  "type": "object",
  "required": ["role"],
  "properties": {
    "role": {"type": "string"},
    "night": "$night",
    "seen_player": {"type": "string"},
    "seen_role": {"type": "string"},
    "night_results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["night", "seen_role"],
        "properties": {
          "night": "$night",
          "executed_player": {"type": "string"},
          "seen_player": {"type": "string"},
          "seen_role": {"type": "string"}
        },
        "anyOf": [{"required": ["executed_player"]}, {"required": ["seen_player"]}]
      }
    }
  },
  "anyOf": [{"required": ["night_results"]}, {"required": ["night", "seen_player", "seen_role"]}]
}`

const adjacencySchema = `{
  "type": "object",
  "required": ["role", "pairs"],
  "properties": {
    "role": {"type": "string"},
    "pairs": {"type": "integer", "minimum": 0}
  }
}`

const pairCountSchema = `{
  "type": "object",
  "required": ["role", "night_results"],
  "properties": {
    "role": {"type": "string"},
    "night_results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["night", "num_evil", "neighbor1", "neighbor2"],
        "properties": {
          "night": "$night",
          "num_evil": {"type": "integer", "minimum": 0, "maximum": 2},
          "neighbor1": {"type": "string"},
          "neighbor2": {"type": "string"}
        }
      }
    }
  }
}`

const demonPingSchema = `{
  "type": "object",
  "required": ["role", "night_results"],
  "properties": {
    "role": {"type": "string"},
    "night_results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["night", "ping", "player1", "player2"],
        "properties": {
          "night": "$night",
          "ping": {"type": "boolean"},
          "player1": {"type": "string"},
          "player2": {"type": "string"}
        }
      }
    }
  }
}`

const protectedSchema = `{"type": "object", "required": ["role"], "properties": {"role": {"type": "string"}}}`

const nominationSchema = `{
  "type": "object",
  "required": ["role", "night", "first_nominator", "died"],
  "properties": {
    "role": {"type": "string"},
    "night": "$night",
    "first_nominator": {"type": "string"},
    "died": {"type": "boolean"}
  }
}`

const shotSchema = `{
  "type": "object",
  "required": ["role", "night", "shot_player", "died"],
  "properties": {
    "role": {"type": "string"},
    "night": "$night",
    "shot_player": {"type": "string"},
    "died": {"type": "boolean"}
  }
}`

// nightSchema replaces every "$night" placeholder in the claim schemas.
var nightSchema = fmt.Sprintf(`{"type": "integer", "minimum": 1, "maximum": %d}`, MaxNight)

func compileClaimSchema(url, doc string) *jsonschema.Schema {
	return jsonschema.MustCompileString(url, strings.ReplaceAll(doc, `"$night"`, nightSchema))
}

var claimSchemas = map[ClaimKind]*jsonschema.Schema{
	KindPairReveal:    compileClaimSchema("pair_reveal.json", pairRevealSchema),
	KindRetrospective: compileClaimSchema("retrospective.json", retrospectiveSchema),
	KindAdjacency:     compileClaimSchema("adjacency.json", adjacencySchema),
	KindPairCount:     compileClaimSchema("pair_count.json", pairCountSchema),
	KindDemonPing:     compileClaimSchema("demon_ping.json", demonPingSchema),
	KindProtected:     compileClaimSchema("protected.json", protectedSchema),
	KindNomination:    compileClaimSchema("nomination.json", nominationSchema),
	KindShot:          compileClaimSchema("shot.json", shotSchema),
}

// Normalizer turns raw claims into Claims for a fixed roster.
type Normalizer struct {
	cat  *Catalog
	seat map[string]int
}

func NewNormalizer(cat *Catalog, players []string) *Normalizer {
	seat := make(map[string]int, len(players))
	for i, p := range players {
		seat[p] = i
	}
	return &Normalizer{cat: cat, seat: seat}
}

// Normalize validates one player's claim. A nil Claim with an error means the
// claim names no usable role. A non-nil Claim with an error keeps the
// claimed role but carries no facts.
func (n *Normalizer) Normalize(player string, raw RawClaim) (*Claim, error) {
	seat, ok := n.seat[player]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not seated", ErrMalformedClaim, player)
	}
	doc, err := canonical(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}
	roleName, _ := doc["role"].(string)
	role, ok := n.cat.Lookup(roleName)
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrMalformedClaim, ErrUnknownRole, roleName)
	}

	c := &Claim{Seat: seat, Role: role, Kind: n.cat.Role(role).Kind}
	if c.Kind == KindNone {
		return c, nil
	}
	if err := claimSchemas[c.Kind].Validate(doc); err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}
	facts, err := n.extract(c, doc)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrMalformedClaim, err)
	}
	c.Facts = facts
	return c, nil
}

// canonical round-trips a claim through JSON so that YAML- and Go-built
// claims validate the same way as decoded JSON.
func canonical(raw RawClaim) (map[string]any, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("empty claim")
	}
	return doc, nil
}

func (n *Normalizer) extract(c *Claim, doc map[string]any) ([]Fact, error) {
	switch c.Kind {
	case KindPairReveal:
		return n.pairReveal(c, doc)
	case KindRetrospective:
		return n.retrospective(doc)
	case KindAdjacency:
		return []Fact{{Night: 1, Seats: noSeats(), Target: NoSeat, Role: NoRole, Count: intField(doc, "pairs")}}, nil
	case KindPairCount:
		return n.nightResults(doc, "neighbor1", "neighbor2", func(f *Fact, e map[string]any) {
			f.Count = intField(e, "num_evil")
		})
	case KindDemonPing:
		return n.nightResults(doc, "player1", "player2", func(f *Fact, e map[string]any) {
			f.Flag, _ = e["ping"].(bool)
		})
	case KindProtected:
		return nil, nil
	case KindNomination:
		return n.targeted(doc, "first_nominator")
	case KindShot:
		return n.targeted(doc, "shot_player")
	}
	return nil, fmt.Errorf("no extractor for %s", c.Kind)
}

func (n *Normalizer) pairReveal(c *Claim, doc map[string]any) ([]Fact, error) {
	seen, _ := doc["seen_role"].(string)
	players, _ := doc["seen_players"].([]any)
	f := Fact{Night: 1, Seats: noSeats(), Target: NoSeat, Role: NoRole}

	if seen == "" || strings.EqualFold(seen, "none") {
		if n.cat.Role(c.Role).Reveals != Outsider {
			return nil, errors.New("only outsider reveals may report none in play")
		}
		if len(players) != 0 {
			return nil, errors.New("a none-in-play reveal names no players")
		}
		return []Fact{f}, nil
	}

	role, ok := n.cat.Lookup(seen)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRole, seen)
	}
	if len(players) != 2 {
		return nil, fmt.Errorf("want 2 seen players, got %d", len(players))
	}
	for i, p := range players {
		name, _ := p.(string)
		if f.Seats[i], ok = n.seat[name]; !ok {
			return nil, fmt.Errorf("seen player %q is not seated", name)
		}
	}
	f.Role = role
	return []Fact{f}, nil
}

func (n *Normalizer) retrospective(doc map[string]any) ([]Fact, error) {
	entries, ok := doc["night_results"].([]any)
	if !ok {
		entries = []any{doc}
	}
	facts := make([]Fact, 0, len(entries))
	for _, raw := range entries {
		e := raw.(map[string]any)
		name, _ := e["executed_player"].(string)
		if name == "" {
			name, _ = e["seen_player"].(string)
		}
		target, ok := n.seat[name]
		if !ok {
			return nil, fmt.Errorf("player %q is not seated", name)
		}
		seen, _ := e["seen_role"].(string)
		role, ok := n.cat.Lookup(seen)
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownRole, seen)
		}
		facts = append(facts, Fact{Night: intField(e, "night"), Seats: noSeats(), Target: target, Role: role})
	}
	return facts, nil
}

func (n *Normalizer) nightResults(doc map[string]any, k1, k2 string, fill func(*Fact, map[string]any)) ([]Fact, error) {
	entries, _ := doc["night_results"].([]any)
	facts := make([]Fact, 0, len(entries))
	for _, raw := range entries {
		e := raw.(map[string]any)
		f := Fact{Night: intField(e, "night"), Target: NoSeat, Role: NoRole}
		for i, k := range []string{k1, k2} {
			name, _ := e[k].(string)
			seat, ok := n.seat[name]
			if !ok {
				return nil, fmt.Errorf("%s %q is not seated", k, name)
			}
			f.Seats[i] = seat
		}
		if f.Seats[0] == f.Seats[1] {
			return nil, fmt.Errorf("night %d names the same player twice", f.Night)
		}
		fill(&f, e)
		facts = append(facts, f)
	}
	return facts, nil
}

func (n *Normalizer) targeted(doc map[string]any, key string) ([]Fact, error) {
	name, _ := doc[key].(string)
	target, ok := n.seat[name]
	if !ok {
		return nil, fmt.Errorf("%s %q is not seated", key, name)
	}
	died, _ := doc["died"].(bool)
	return []Fact{{Night: intField(doc, "night"), Seats: noSeats(), Target: target, Role: NoRole, Flag: died}}, nil
}

func intField(m map[string]any, key string) int {
	v, _ := m[key].(float64)
	return int(v)
}

func noSeats() [2]int { return [2]int{NoSeat, NoSeat} }

// factsAt returns the facts a claim contributes on night n. Protected roles
// carry no facts of their own and are checked every night.
func (c *Claim) factsAt(night int) []Fact {
	if c.Kind == KindProtected {
		return []Fact{{Night: night, Seats: noSeats(), Target: NoSeat, Role: NoRole}}
	}
	var out []Fact
	for _, f := range c.Facts {
		if f.Night == night {
			out = append(out, f)
		}
	}
	return out
}

func (c *Claim) lastNight() int {
	last := 0
	for _, f := range c.Facts {
		last = max(last, f.Night)
	}
	return last
}
