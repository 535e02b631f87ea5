package deduction

import (
	"testing"
)

// ============================================================================
// World Tests
// ============================================================================

func TestPinStrikesRoleFromOpenSeats(t *testing.T) {
	cat := TroubleBrewing()
	chef, _ := cat.Lookup("Chef")
	empath, _ := cat.Lookup("Empath")
	monk, _ := cat.Lookup("Monk")
	imp, _ := cat.Lookup("Imp")

	open := singleton(chef) | singleton(empath) | singleton(monk)
	w := newWorld([]RoleSet{singleton(imp), open, open, singleton(chef) | singleton(empath)}, 0)

	pinned, ok := w.pin(1, chef)
	if !ok {
		t.Fatalf("pin failed")
	}
	if !pinned.Holds(1, chef) {
		t.Errorf("seat 1 should hold the chef")
	}
	if pinned.Set(2).Has(chef) {
		t.Errorf("chef should be struck from seat 2")
	}
	// Seat 3 collapses to the empath, which in turn leaves seat 2 the monk.
	if !pinned.Holds(3, empath) || !pinned.Holds(2, monk) {
		t.Errorf("expected cascade, got %v %v", pinned.Set(2).IDs(), pinned.Set(3).IDs())
	}

	// The original is untouched.
	if w.Set(1) != open || w.Set(3).Len() != 2 {
		t.Errorf("pin mutated its receiver")
	}
}

func TestPinFailsWhenASeatRunsDry(t *testing.T) {
	cat := TroubleBrewing()
	chef, _ := cat.Lookup("Chef")
	empath, _ := cat.Lookup("Empath")
	imp, _ := cat.Lookup("Imp")

	pair := singleton(chef) | singleton(empath)
	w := newWorld([]RoleSet{singleton(imp), pair, pair, pair}, 0)
	if _, ok := w.pin(1, chef); ok {
		t.Errorf("three seats cannot share two roles")
	}
	if _, ok := w.pin(0, chef); ok {
		t.Errorf("cannot pin a role outside the seat's set")
	}
}

func TestBranchesShareNothingMutable(t *testing.T) {
	cat := TroubleBrewing()
	imp, _ := cat.Lookup("Imp")
	chef, _ := cat.Lookup("Chef")
	monk, _ := cat.Lookup("Monk")

	base := newWorld([]RoleSet{singleton(imp), singleton(chef) | singleton(monk), singleton(chef) | singleton(monk)}, 0)
	a := base.withPoison(1, 1).branch(Tag{Kind: TagCorrupt, Night: 1, Seat: 1, Role: NoRole, Alternatives: 3})
	b := base.withPoison(1, 2).branch(Tag{Kind: TagCorrupt, Night: 1, Seat: 2, Role: NoRole, Alternatives: 3})

	if sa, _ := a.poisonedAt(1); sa != 1 {
		t.Errorf("branch a poisoned seat %d", sa)
	}
	if sb, _ := b.poisonedAt(1); sb != 2 {
		t.Errorf("branch b poisoned seat %d", sb)
	}
	if _, ok := base.poisonedAt(1); ok {
		t.Errorf("base world picked up a poisoning")
	}
	if len(base.Provenance()) != 0 || len(a.Provenance()) != 1 {
		t.Errorf("provenance leaked between branches")
	}

	c, _ := a.pin(1, chef)
	if a.Open(1) == false || c.Open(1) {
		t.Errorf("pin should only affect the new world")
	}
	if a.key() == b.key() {
		t.Errorf("different poisonings must not share a key")
	}
}

func TestKeyIgnoresPinTags(t *testing.T) {
	cat := TroubleBrewing()
	imp, _ := cat.Lookup("Imp")
	chef, _ := cat.Lookup("Chef")

	base := newWorld([]RoleSet{singleton(imp), singleton(chef)}, 0)
	tagged := base.branch(Tag{Kind: TagPin, Night: 1, Seat: 1, Role: chef, Alternatives: 1})
	if base.key() != tagged.key() {
		t.Errorf("pin tags should not split identical worlds")
	}
	herring := base.branch(Tag{Kind: TagHerring, Night: 1, Seat: 1, Role: NoRole, Alternatives: 2})
	if base.key() == herring.key() {
		t.Errorf("weight-bearing tags must split worlds")
	}
}

func TestWeightMultipliesAlternatives(t *testing.T) {
	cat := TroubleBrewing()
	imp, _ := cat.Lookup("Imp")

	w := newWorld([]RoleSet{singleton(imp)}, 0).
		branch(Tag{Kind: TagDrunk, Alternatives: 4}).
		branch(Tag{Kind: TagRegister, Alternatives: 2}).
		branch(Tag{Kind: TagPin, Alternatives: 1})
	if got := Weight(w); got != 0.125 {
		t.Errorf("Weight = %v, want 0.125", got)
	}
}
