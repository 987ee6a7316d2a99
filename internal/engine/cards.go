package engine

import (
	"fmt"
	"math/bits"
	"strings"
)

// Card is an ordinal into a Registry. Ordinals follow the registry's
// canonical order, which is also the order used by the session codec.
type Card uint8

// NoCard marks an absent card argument (for example an undisclosed
// refutation).
const NoCard Card = 0xFF

// Category is an ordinal into a Registry's category list.
type Category uint8

// maxCards is bounded by both the CardSet width and the codec alphabet.
const maxCards = 52

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// CardSet is a set of cards stored as a bitmask. The zero value is the
// empty set. Iteration is always in ordinal order.
type CardSet uint64

// NewCardSet builds a set from the given cards.
func NewCardSet(cards ...Card) CardSet {
	var s CardSet
	for _, c := range cards {
		s = s.With(c)
	}
	return s
}

func (s CardSet) Contains(c Card) bool {
	return c < maxCards && s&(1<<c) != 0
}

// With returns s with c added.
func (s CardSet) With(c Card) CardSet {
	return s | 1<<c
}

// Without returns s with c removed.
func (s CardSet) Without(c Card) CardSet {
	return s &^ (1 << c)
}

func (s CardSet) Union(o CardSet) CardSet     { return s | o }
func (s CardSet) Intersect(o CardSet) CardSet { return s & o }
func (s CardSet) Minus(o CardSet) CardSet     { return s &^ o }
func (s CardSet) IsSubsetOf(o CardSet) bool   { return s&^o == 0 }
func (s CardSet) Overlaps(o CardSet) bool     { return s&o != 0 }
func (s CardSet) Len() int                    { return bits.OnesCount64(uint64(s)) }
func (s CardSet) IsEmpty() bool               { return s == 0 }
func (s CardSet) Equal(o CardSet) bool        { return s == o }

// First returns the lowest card in the set.
func (s CardSet) First() (Card, bool) {
	if s == 0 {
		return NoCard, false
	}
	return Card(bits.TrailingZeros64(uint64(s))), true
}

// Cards lists the members in ordinal order.
func (s CardSet) Cards() []Card {
	out := make([]Card, 0, s.Len())
	for rest := s; rest != 0; rest &= rest - 1 {
		out = append(out, Card(bits.TrailingZeros64(uint64(rest))))
	}
	return out
}

// CategorySpec describes one category when building a Registry.
type CategorySpec struct {
	Name  string
	Cards []string
}

// Registry is the immutable catalogue of cards, their categories and
// their single-character codes.
type Registry struct {
	categories []CategorySpec
	names      []string
	category   []Category
	byCategory []CardSet
	byName     map[string]Card
	all        CardSet
}

// Classic is the standard 21-card table: 6 suspects, 6 weapons, 9 rooms.
var Classic = mustRegistry([]CategorySpec{
	{Name: "suspect", Cards: []string{"ProfessorPlum", "ColonelMustard", "MrGreen", "MissScarlet", "MsWhite", "MrsPeacock"}},
	{Name: "weapon", Cards: []string{"Knife", "Candlestick", "Revolver", "LeadPipe", "Rope", "Wrench"}},
	{Name: "room", Cards: []string{"Hall", "Conservatory", "DiningRoom", "Kitchen", "Study", "Library", "Ballroom", "Lounge", "BilliardRoom"}},
})

// Card constants for the Classic registry.
const (
	ProfessorPlum Card = iota
	ColonelMustard
	MrGreen
	MissScarlet
	MsWhite
	MrsPeacock
	Knife
	Candlestick
	Revolver
	LeadPipe
	Rope
	Wrench
	Hall
	Conservatory
	DiningRoom
	Kitchen
	Study
	Library
	Ballroom
	Lounge
	BilliardRoom
)

// Category constants for the Classic registry.
const (
	Suspect Category = iota
	Weapon
	Room
)

func mustRegistry(specs []CategorySpec) *Registry {
	r, err := NewRegistry(specs)
	if err != nil {
		panic(err)
	}
	return r
}

// NewRegistry builds a registry from category specs. Card ordinals are
// assigned in the order given.
func NewRegistry(specs []CategorySpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("registry needs at least one category")
	}

	r := &Registry{
		byName: make(map[string]Card),
	}
	for i, spec := range specs {
		if len(spec.Cards) == 0 {
			return nil, fmt.Errorf("category %q has no cards", spec.Name)
		}
		var set CardSet
		for _, name := range spec.Cards {
			if _, dup := r.byName[name]; dup {
				return nil, fmt.Errorf("duplicate card name %q", name)
			}
			if len(r.names) >= maxCards {
				return nil, fmt.Errorf("registry holds at most %d cards", maxCards)
			}
			c := Card(len(r.names))
			r.names = append(r.names, name)
			r.category = append(r.category, Category(i))
			r.byName[name] = c
			set = set.With(c)
		}
		r.byCategory = append(r.byCategory, set)
		r.all |= set
		r.categories = append(r.categories, CategorySpec{Name: spec.Name, Cards: append([]string(nil), spec.Cards...)})
	}
	return r, nil
}

// Size returns the number of cards.
func (r *Registry) Size() int { return len(r.names) }

// NumCategories returns the number of categories, which is also the
// solution player's hand size.
func (r *Registry) NumCategories() int { return len(r.categories) }

// Cards returns every card in the registry.
func (r *Registry) Cards() CardSet { return r.all }

// CardsOf returns the cards of a category.
func (r *Registry) CardsOf(cat Category) CardSet {
	if int(cat) >= len(r.byCategory) {
		return 0
	}
	return r.byCategory[cat]
}

// CategoryOf returns the category a card belongs to.
func (r *Registry) CategoryOf(c Card) Category {
	return r.category[c]
}

// CategoryName returns the display name of a category.
func (r *Registry) CategoryName(cat Category) string {
	return r.categories[cat].Name
}

// Valid reports whether c names a card in this registry.
func (r *Registry) Valid(c Card) bool {
	return int(c) < len(r.names)
}

// Name returns the card's name, or a placeholder for unknown ordinals.
func (r *Registry) Name(c Card) string {
	if !r.Valid(c) {
		return fmt.Sprintf("Card(%d)", c)
	}
	return r.names[c]
}

// Names renders a set as card names in ordinal order.
func (r *Registry) Names(s CardSet) []string {
	out := make([]string, 0, s.Len())
	for _, c := range s.Cards() {
		out = append(out, r.Name(c))
	}
	return out
}

// CardByName looks a card up by its name. Matching is exact first and
// then case-insensitive.
func (r *Registry) CardByName(name string) (Card, error) {
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	for i, n := range r.names {
		if strings.EqualFold(n, name) {
			return Card(i), nil
		}
	}
	return NoCard, fmt.Errorf("%w: %q", ErrUnrecognizedCard, name)
}

// CardFromCode maps a codec character back to a card.
func (r *Registry) CardFromCode(code byte) (Card, error) {
	i := strings.IndexByte(codeAlphabet, code)
	if i < 0 || i >= len(r.names) {
		return NoCard, fmt.Errorf("%w: code %q", ErrUnrecognizedCard, code)
	}
	return Card(i), nil
}

// CodeFromCard returns the codec character of a card.
func (r *Registry) CodeFromCard(c Card) byte {
	return codeAlphabet[c]
}

// Codes renders a set as concatenated codes in ordinal order.
func (r *Registry) Codes(s CardSet) string {
	var b strings.Builder
	for _, c := range s.Cards() {
		b.WriteByte(r.CodeFromCard(c))
	}
	return b.String()
}
