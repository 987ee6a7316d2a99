package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassicCategories(t *testing.T) {
	assert.Equal(t, Suspect, Classic.CategoryOf(ProfessorPlum))
	assert.Equal(t, Suspect, Classic.CategoryOf(ColonelMustard))
	assert.Equal(t, Suspect, Classic.CategoryOf(MrsPeacock))
	assert.Equal(t, Weapon, Classic.CategoryOf(Knife))
	assert.Equal(t, Weapon, Classic.CategoryOf(Wrench))
	assert.Equal(t, Room, Classic.CategoryOf(Hall))
	assert.Equal(t, Room, Classic.CategoryOf(BilliardRoom))

	assert.Equal(t, 21, Classic.Size())
	assert.Equal(t, 3, Classic.NumCategories())
	assert.Equal(t, "room", Classic.CategoryName(Room))
}

func TestClassicCardsOf(t *testing.T) {
	assert.Equal(t,
		[]Card{ProfessorPlum, ColonelMustard, MrGreen, MissScarlet, MsWhite, MrsPeacock},
		Classic.CardsOf(Suspect).Cards())
	assert.Equal(t,
		[]Card{Knife, Candlestick, Revolver, LeadPipe, Rope, Wrench},
		Classic.CardsOf(Weapon).Cards())
	assert.Equal(t,
		[]Card{Hall, Conservatory, DiningRoom, Kitchen, Study, Library, Ballroom, Lounge, BilliardRoom},
		Classic.CardsOf(Room).Cards())
}

func TestClassicCodes(t *testing.T) {
	// Session strings in the wild depend on this order.
	assert.Equal(t, "ABCDEFGHIJKLMNOPQRSTU", Classic.Codes(Classic.Cards()))
	assert.Equal(t, byte('A'), Classic.CodeFromCard(ProfessorPlum))
	assert.Equal(t, byte('H'), Classic.CodeFromCard(Candlestick))
	assert.Equal(t, byte('U'), Classic.CodeFromCard(BilliardRoom))

	for _, c := range Classic.Cards().Cards() {
		got, err := Classic.CardFromCode(Classic.CodeFromCard(c))
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := Classic.CardFromCode('V')
	assert.ErrorIs(t, err, ErrUnrecognizedCard)
	_, err = Classic.CardFromCode('-')
	assert.ErrorIs(t, err, ErrUnrecognizedCard)
}

func TestCardByName(t *testing.T) {
	c, err := Classic.CardByName("LeadPipe")
	require.NoError(t, err)
	assert.Equal(t, LeadPipe, c)

	c, err = Classic.CardByName("billiardroom")
	require.NoError(t, err)
	assert.Equal(t, BilliardRoom, c)

	_, err = Classic.CardByName("Trophy")
	assert.ErrorIs(t, err, ErrUnrecognizedCard)
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name  string
		specs []CategorySpec
	}{
		{"no categories", nil},
		{"empty category", []CategorySpec{{Name: "suspect"}}},
		{"duplicate name", []CategorySpec{
			{Name: "a", Cards: []string{"X"}},
			{Name: "b", Cards: []string{"X"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.specs)
			assert.Error(t, err)
		})
	}

	tooMany := make([]string, maxCards+1)
	for i := range tooMany {
		tooMany[i] = string(rune('a'+i%26)) + string(rune('A'+i/26))
	}
	_, err := NewRegistry([]CategorySpec{{Name: "big", Cards: tooMany}})
	assert.Error(t, err)
}

func TestCustomRegistry(t *testing.T) {
	reg, err := NewRegistry([]CategorySpec{
		{Name: "who", Cards: []string{"Alice", "Bob"}},
		{Name: "where", Cards: []string{"Attic", "Cellar", "Garden"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, reg.Size())
	assert.Equal(t, 2, reg.NumCategories())
	assert.Equal(t, "ABCDE", reg.Codes(reg.Cards()))
	assert.Equal(t, Category(1), reg.CategoryOf(2))
	assert.Equal(t, []string{"Attic", "Garden"}, reg.Names(NewCardSet(2, 4)))
}

func TestCardSet(t *testing.T) {
	s := NewCardSet(Hall, Knife, ProfessorPlum)
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.Contains(Knife))
	assert.False(t, s.Contains(Rope))
	assert.False(t, s.Contains(NoCard))
	assert.Equal(t, []Card{ProfessorPlum, Knife, Hall}, s.Cards())

	first, ok := s.First()
	assert.True(t, ok)
	assert.Equal(t, ProfessorPlum, first)
	_, ok = CardSet(0).First()
	assert.False(t, ok)

	o := NewCardSet(Knife, Rope)
	assert.Equal(t, NewCardSet(Knife), s.Intersect(o))
	assert.Equal(t, NewCardSet(ProfessorPlum, Hall), s.Minus(o))
	assert.Equal(t, 4, s.Union(o).Len())
	assert.True(t, NewCardSet(Knife).IsSubsetOf(s))
	assert.True(t, s.Overlaps(o))
	assert.False(t, s.Without(Knife).Overlaps(o))
	assert.True(t, CardSet(0).IsEmpty())
}
