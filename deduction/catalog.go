package deduction

import (
	_ "embed"
	"fmt"
	"io"
	"math/bits"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed trouble_brewing.yaml
var troubleBrewingYAML string

// Category is a role's alignment class.
type Category uint8

const (
	Townsfolk Category = iota
	Outsider
	Minion
	Demon
)

var categoryNames = map[string]Category{
	"townsfolk": Townsfolk,
	"outsider":  Outsider,
	"minion":    Minion,
	"demon":     Demon,
}

func (c Category) String() string {
	switch c {
	case Townsfolk:
		return "townsfolk"
	case Outsider:
		return "outsider"
	case Minion:
		return "minion"
	case Demon:
		return "demon"
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Evil reports whether the category belongs to the evil team.
func (c Category) Evil() bool { return c == Minion || c == Demon }

// Capability flags carried by a role in addition to its category.
type Capability uint16

const (
	// CapDisguise roles may register as a role of the opposite alignment.
	CapDisguise Capability = 1 << iota
	// CapAmbiguous roles register as either alignment, independently per check.
	CapAmbiguous
	// CapCorrupting roles nullify one information source per night.
	CapCorrupting
	// CapMisdirected roles are subject to a standing misdirection target.
	CapMisdirected
	// CapInflating roles add two outsiders at the expense of two townsfolk.
	CapInflating
	// CapSuccessor roles inherit the demon when it dies.
	CapSuccessor
	// CapDrunk roles believe they hold a townsfolk role.
	CapDrunk
	// CapProtected roles cannot die to the demon unless corrupted.
	CapProtected
	// CapOngoing roles keep receiving information after the first night.
	CapOngoing
)

var capabilityNames = map[string]Capability{
	"disguise":    CapDisguise,
	"ambiguous":   CapAmbiguous,
	"corrupting":  CapCorrupting,
	"misdirected": CapMisdirected,
	"inflating":   CapInflating,
	"successor":   CapSuccessor,
	"drunk":       CapDrunk,
	"protected":   CapProtected,
	"ongoing":     CapOngoing,
}

// ClaimKind selects the validator that checks a role's public information.
type ClaimKind uint8

const (
	KindNone ClaimKind = iota
	KindPairReveal
	KindRetrospective
	KindAdjacency
	KindPairCount
	KindDemonPing
	KindProtected
	KindNomination
	KindShot
)

var kindNames = map[string]ClaimKind{
	"":              KindNone,
	"pair_reveal":   KindPairReveal,
	"retrospective": KindRetrospective,
	"adjacency":     KindAdjacency,
	"pair_count":    KindPairCount,
	"demon_ping":    KindDemonPing,
	"protected":     KindProtected,
	"nomination":    KindNomination,
	"shot":          KindShot,
}

func (k ClaimKind) String() string {
	for name, kind := range kindNames {
		if kind == k && name != "" {
			return name
		}
	}
	return "none"
}

// RoleID indexes a role within its Catalog.
type RoleID uint8

// NoRole marks an absent role, such as a "no outsiders in play" reveal.
const NoRole RoleID = 255

// Role is one catalog entry.
type Role struct {
	Name     string
	Category Category
	Kind     ClaimKind
	Caps     Capability
	// Reveals is the category a pair-reveal role is shown.
	Reveals Category
}

// Has reports whether the role carries every capability in c.
func (r Role) Has(c Capability) bool { return r.Caps&c == c }

// RoleSet is a bitmask over catalog role ids.
type RoleSet uint64

func singleton(id RoleID) RoleSet { return RoleSet(1) << id }

func (s RoleSet) Has(id RoleID) bool { return id != NoRole && s&singleton(id) != 0 }
func (s RoleSet) Len() int           { return bits.OnesCount64(uint64(s)) }

// Only returns the single role in s.
func (s RoleSet) Only() (RoleID, bool) {
	if s.Len() != 1 {
		return NoRole, false
	}
	return RoleID(bits.TrailingZeros64(uint64(s))), true
}

// IDs lists the roles in ascending id order.
func (s RoleSet) IDs() []RoleID {
	out := make([]RoleID, 0, s.Len())
	for s != 0 {
		id := bits.TrailingZeros64(uint64(s))
		out = append(out, RoleID(id))
		s &^= 1 << id
	}
	return out
}

// Catalog is the static role table a game is played with.
type Catalog struct {
	Name  string
	roles []Role
	index map[string]RoleID
	byCat [4]RoleSet
}

type catalogFile struct {
	Name  string `yaml:"name"`
	Roles []struct {
		Name     string   `yaml:"name"`
		Category string   `yaml:"category"`
		Claim    string   `yaml:"claim"`
		Reveals  string   `yaml:"reveals"`
		Tags     []string `yaml:"tags"`
	} `yaml:"roles"`
}

// LoadCatalog decodes a YAML role catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(f.Roles) == 0 || len(f.Roles) > 64 {
		return nil, fmt.Errorf("catalog %q: %d roles, want 1..64", f.Name, len(f.Roles))
	}

	c := &Catalog{Name: f.Name, index: make(map[string]RoleID, len(f.Roles))}
	for i, fr := range f.Roles {
		cat, ok := categoryNames[strings.ToLower(fr.Category)]
		if !ok {
			return nil, fmt.Errorf("role %q: unknown category %q", fr.Name, fr.Category)
		}
		kind, ok := kindNames[strings.ToLower(fr.Claim)]
		if !ok {
			return nil, fmt.Errorf("role %q: unknown claim kind %q", fr.Name, fr.Claim)
		}
		role := Role{Name: fr.Name, Category: cat, Kind: kind}
		if kind == KindPairReveal {
			if role.Reveals, ok = categoryNames[strings.ToLower(fr.Reveals)]; !ok {
				return nil, fmt.Errorf("role %q: pair reveal needs a category, got %q", fr.Name, fr.Reveals)
			}
		}
		for _, tag := range fr.Tags {
			cp, ok := capabilityNames[strings.ToLower(tag)]
			if !ok {
				return nil, fmt.Errorf("role %q: unknown tag %q", fr.Name, tag)
			}
			role.Caps |= cp
		}
		key := normalizeName(fr.Name)
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("role %q listed twice", fr.Name)
		}
		id := RoleID(i)
		c.index[key] = id
		c.roles = append(c.roles, role)
		c.byCat[cat] |= singleton(id)
	}
	if c.byCat[Demon] == 0 {
		return nil, fmt.Errorf("catalog %q has no demon", f.Name)
	}
	return c, nil
}

// TroubleBrewing returns the built-in base catalog.
func TroubleBrewing() *Catalog {
	c, err := LoadCatalog(strings.NewReader(troubleBrewingYAML))
	if err != nil {
		panic(err)
	}
	return c
}

func normalizeName(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " ")
}

// Lookup resolves a role name, ignoring case and separators.
func (c *Catalog) Lookup(name string) (RoleID, bool) {
	id, ok := c.index[normalizeName(name)]
	return id, ok
}

func (c *Catalog) Role(id RoleID) Role { return c.roles[id] }

// RoleName returns the display name of id.
func (c *Catalog) RoleName(id RoleID) string {
	if id == NoRole {
		return "none"
	}
	return c.roles[id].Name
}

func (c *Catalog) Len() int { return len(c.roles) }

// Category returns every role of the given category.
func (c *Catalog) Category(cat Category) RoleSet { return c.byCat[cat] }

// Good returns every townsfolk and outsider role.
func (c *Catalog) Good() RoleSet { return c.byCat[Townsfolk] | c.byCat[Outsider] }

// With returns every role carrying capability cp.
func (c *Catalog) With(cp Capability) RoleSet {
	var s RoleSet
	for i, r := range c.roles {
		if r.Has(cp) {
			s |= singleton(RoleID(i))
		}
	}
	return s
}

// RegistersAs reports whether a holder of role may appear to a check as target.
// Disguise roles appear as any role of the opposite alignment.
func (c *Catalog) RegistersAs(role, target RoleID) bool {
	if role == target {
		return true
	}
	if role == NoRole || target == NoRole {
		return false
	}
	r := c.roles[role]
	return r.Has(CapDisguise) && r.Category.Evil() != c.roles[target].Category.Evil()
}

// Quotas are the role counts per category for one game.
type Quotas struct {
	Townsfolk int `json:"townsfolk" yaml:"townsfolk"`
	Outsiders int `json:"outsiders" yaml:"outsiders"`
	Minions   int `json:"minions" yaml:"minions"`
	Demons    int `json:"demons" yaml:"demons"`
}

// QuotasFor returns the standard setup for 5 to 15 players.
func QuotasFor(players int) (Quotas, error) {
	if players < 5 || players > 15 {
		return Quotas{}, fmt.Errorf("%w: %d players", ErrNoQuota, players)
	}
	q := Quotas{Demons: 1}
	switch players {
	case 5:
	case 6:
		q.Outsiders = 1
	default:
		q.Outsiders = (players - 7) % 3
	}
	switch {
	case players <= 9:
		q.Minions = 1
	case players <= 12:
		q.Minions = 2
	default:
		q.Minions = 3
	}
	q.Townsfolk = players - q.Outsiders - q.Minions - q.Demons
	return q, nil
}

func (q Quotas) Total() int { return q.Townsfolk + q.Outsiders + q.Minions + q.Demons }

// inflated applies the quota-inflating minion: two townsfolk become outsiders.
func (q Quotas) inflated() Quotas {
	shift := min(2, q.Townsfolk)
	q.Townsfolk -= shift
	q.Outsiders += shift
	return q
}
