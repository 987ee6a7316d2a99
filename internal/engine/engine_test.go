package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, players int) *Engine {
	t.Helper()
	e, err := New(players, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return e
}

func ownership(t *testing.T, e *Engine, player int, c Card) Ownership {
	t.Helper()
	o, err := e.PlayerHasCard(player, c)
	require.NoError(t, err)
	return o
}

func whoHas(t *testing.T, e *Engine, c Card) []int {
	t.Helper()
	who, err := e.WhoHasCard(c)
	require.NoError(t, err)
	return who
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t, 6)
	assert.Equal(t, 6, e.NumPlayers())
	assert.Equal(t, 6, e.SolutionPlayer())
	for i := 0; i < 6; i++ {
		assert.Equal(t, 3, e.Player(i).NumCards)
		assert.False(t, e.Player(i).IsSolution)
	}
	assert.Equal(t, 3, e.Player(6).NumCards)
	assert.True(t, e.Player(6).IsSolution)

	_, err := New(0)
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = New(MaxPlayers + 1)
	assert.ErrorIs(t, err, ErrInvalidPlayer)
}

func TestDefaultCapacities(t *testing.T) {
	tests := []struct {
		players int
		want    []int
	}{
		{2, []int{9, 9, 3}},
		{3, []int{6, 6, 6, 3}},
		{4, []int{5, 5, 4, 4, 3}},
		{5, []int{4, 4, 4, 3, 3, 3}},
		{6, []int{3, 3, 3, 3, 3, 3, 3}},
		{1, []int{UnknownNumCards, 3}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultCapacities(Classic, tt.players), "players=%d", tt.players)
	}
}

func TestWithCapacities(t *testing.T) {
	e, err := New(3, WithCapacities([]int{7, 0, 4}))
	require.NoError(t, err)
	assert.Equal(t, 7, e.Player(0).NumCards)
	assert.Equal(t, UnknownNumCards, e.Player(1).NumCards)
	assert.Equal(t, 4, e.Player(2).NumCards)
	assert.Equal(t, 3, e.Player(3).NumCards)

	_, err = New(3, WithCapacities([]int{1, 2}))
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = New(3, WithCapacities([]int{10, 4, 4}))
	assert.ErrorIs(t, err, ErrInvalidPlayer)
}

func TestSimpleSuggest(t *testing.T) {
	e := newTestEngine(t, 5)

	_, err := e.Suggest(0, ProfessorPlum, Knife, Hall, 3, Knife)
	require.NoError(t, err)

	assert.Equal(t, OwnershipOwned, ownership(t, e, 3, Knife))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 4, Knife))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 3, ProfessorPlum))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 3, Hall))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 2, ProfessorPlum))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 2, Hall))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 1, ProfessorPlum))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 1, Hall))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 0, ProfessorPlum))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 0, Hall))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 4, ProfessorPlum))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 4, Hall))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 5, ProfessorPlum))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 5, Hall))
}

func TestSuggestNoRefute(t *testing.T) {
	e := newTestEngine(t, 3)

	_, err := e.Suggest(1, ProfessorPlum, Knife, Hall, -1, NoCard)
	require.NoError(t, err)
	_, err = e.InfoOnCard(1, ProfessorPlum, false)
	require.NoError(t, err)

	sol := e.SolutionPlayer()
	assert.Equal(t, OwnershipOwned, ownership(t, e, sol, ProfessorPlum))
	assert.Equal(t, OwnershipRejected, ownership(t, e, sol, ColonelMustard))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, sol, Knife))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, sol, Hall))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 1, ProfessorPlum))
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 1, Knife))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 0, Knife))
	assert.Equal(t, OwnershipRejected, ownership(t, e, 2, Knife))
}

func TestPossibleCards(t *testing.T) {
	t.Run("clause resolved by an owned card", func(t *testing.T) {
		e := newTestEngine(t, 6)
		assert.Empty(t, e.Player(3).Clauses)

		_, err := e.Suggest(0, ProfessorPlum, Knife, Hall, 3, NoCard)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 3, 4, 5, 6}, whoHas(t, e, ProfessorPlum))
		assert.Equal(t, []CardSet{NewCardSet(ProfessorPlum, Knife, Hall)}, e.Player(3).Clauses)

		_, err = e.InfoOnCard(3, Hall, true)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, whoHas(t, e, Hall))
		assert.Equal(t, OwnershipOwned, ownership(t, e, 3, Hall))
		assert.Empty(t, e.Player(3).Clauses)
	})

	t.Run("clause shrinks to a fact", func(t *testing.T) {
		e := newTestEngine(t, 6)

		_, err := e.Suggest(0, ProfessorPlum, Knife, Hall, 3, NoCard)
		require.NoError(t, err)
		_, err = e.InfoOnCard(3, Hall, false)
		require.NoError(t, err)
		assert.Equal(t, OwnershipRejected, ownership(t, e, 3, Hall))
		assert.Equal(t, []CardSet{NewCardSet(ProfessorPlum, Knife)}, e.Player(3).Clauses)

		_, err = e.InfoOnCard(3, ProfessorPlum, false)
		require.NoError(t, err)
		assert.Equal(t, OwnershipRejected, ownership(t, e, 3, ProfessorPlum))
		assert.Equal(t, []int{3}, whoHas(t, e, Knife))
		assert.Equal(t, OwnershipOwned, ownership(t, e, 3, Knife))
		assert.Empty(t, e.Player(3).Clauses)
	})
}

func TestAllCardsAccountedFor(t *testing.T) {
	e := newTestEngine(t, 6)
	for i, c := range []Card{ColonelMustard, MrGreen, MissScarlet, MsWhite, MrsPeacock} {
		_, err := e.InfoOnCard(i, c, true)
		require.NoError(t, err)
	}
	assert.Equal(t, OwnershipOwned, ownership(t, e, e.SolutionPlayer(), ProfessorPlum))
}

func TestSingleCardAccountedForNotSolution(t *testing.T) {
	e := newTestEngine(t, 6)
	_, err := e.InfoOnCard(e.SolutionPlayer(), ColonelMustard, true)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := e.InfoOnCard(i, MrGreen, false)
		require.NoError(t, err)
	}
	assert.Equal(t, OwnershipOwned, ownership(t, e, 5, MrGreen))
}

func TestNumberCardLimit(t *testing.T) {
	e := newTestEngine(t, 6)
	for _, c := range []Card{MrGreen, Knife, Wrench} {
		_, err := e.InfoOnCard(0, c, true)
		require.NoError(t, err)
	}

	p := e.Player(0)
	assert.Equal(t, 3, p.Has.Len())
	assert.Equal(t, 18, p.NotHas.Len())
	assert.Empty(t, p.Clauses)
}

func TestNumberCardDeduction(t *testing.T) {
	e := newTestEngine(t, 6)
	for _, c := range [][2]Card{{Knife, Hall}, {Revolver, Lounge}, {Candlestick, BilliardRoom}, {Rope, Kitchen}} {
		_, err := e.Suggest(0, ProfessorPlum, c[0], c[1], 2, NoCard)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{2}, whoHas(t, e, ProfessorPlum))
	assert.Equal(t, OwnershipOwned, ownership(t, e, 2, ProfessorPlum))
}

func TestNumberCardDeductionMultiple(t *testing.T) {
	e := newTestEngine(t, 6)
	for _, room := range []Card{Hall, Lounge, BilliardRoom} {
		_, err := e.Suggest(0, ProfessorPlum, Knife, room, 2, NoCard)
		require.NoError(t, err)
	}
	assert.Len(t, e.Player(2).Clauses, 3)

	_, err := e.Suggest(0, ProfessorPlum, Knife, Kitchen, 2, NoCard)
	require.NoError(t, err)
	_, err = e.InfoOnCard(2, ProfessorPlum, false)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, whoHas(t, e, Knife))
	assert.Equal(t, OwnershipOwned, ownership(t, e, 2, Knife))
	assert.Empty(t, e.Player(2).Clauses)
}

func TestEliminateExtraClauses(t *testing.T) {
	e := newTestEngine(t, 6)
	_, err := e.Suggest(0, ProfessorPlum, Knife, Hall, 2, NoCard)
	require.NoError(t, err)
	_, err = e.InfoOnCard(2, Hall, false)
	require.NoError(t, err)
	assert.Equal(t, []CardSet{NewCardSet(ProfessorPlum, Knife)}, e.Player(2).Clauses)

	_, err = e.Suggest(0, ProfessorPlum, Knife, Lounge, 2, NoCard)
	require.NoError(t, err)
	assert.Equal(t, []CardSet{NewCardSet(ProfessorPlum, Knife)}, e.Player(2).Clauses)
}

func TestSharedClause(t *testing.T) {
	check := func(t *testing.T, e *Engine) {
		assert.Equal(t, []int{1, 3}, whoHas(t, e, ProfessorPlum))
		assert.Equal(t, []int{1, 3}, whoHas(t, e, Knife))
		assert.Equal(t, []int{0, 2, 4, 5, 6}, whoHas(t, e, Hall))
	}

	t.Run("second clause narrowed last", func(t *testing.T) {
		e := newTestEngine(t, 6)
		_, err := e.InfoOnCard(1, Hall, false)
		require.NoError(t, err)
		_, err = e.Suggest(0, ProfessorPlum, Knife, Hall, 1, NoCard)
		require.NoError(t, err)
		_, err = e.Suggest(2, ProfessorPlum, Knife, Hall, 3, NoCard)
		require.NoError(t, err)
		_, err = e.InfoOnCard(3, Hall, false)
		require.NoError(t, err)
		check(t, e)
	})

	t.Run("second clause narrowed first", func(t *testing.T) {
		e := newTestEngine(t, 6)
		_, err := e.InfoOnCard(1, Hall, false)
		require.NoError(t, err)
		_, err = e.Suggest(0, ProfessorPlum, Knife, Hall, 1, NoCard)
		require.NoError(t, err)
		_, err = e.InfoOnCard(3, Hall, false)
		require.NoError(t, err)
		_, err = e.Suggest(2, ProfessorPlum, Knife, Hall, 3, NoCard)
		require.NoError(t, err)
		check(t, e)
	})
}

func TestAddCardExpectNoExtras(t *testing.T) {
	e, _, err := Deserialize("63FJQ-ABCDEGHIKLMNOPRSTU.3T-CDFHIJKNOPQS.3-CDFHIJKMNOPQST.3NO-CDFHIJKMPQST.3K-CDFHIJNOPQT.3CD-FJNOQT.3-CDFJNOQT.")
	require.NoError(t, err)

	_, err = e.InfoOnCard(6, Candlestick, true)
	require.NoError(t, err)

	assert.True(t, e.IsConsistent())
	assert.Equal(t, OwnershipOwned, ownership(t, e, 6, Candlestick))
	// Revolver can only be with player 5, which fills that hand and leaves
	// Kitchen for the case file.
	assert.Equal(t, OwnershipOwned, ownership(t, e, 6, Kitchen))
	assert.Equal(t, 2, e.Player(6).Has.Len())
}

func TestInfoOnCardIdempotent(t *testing.T) {
	e := newTestEngine(t, 4)
	changed, err := e.InfoOnCard(1, Rope, true)
	require.NoError(t, err)
	assert.True(t, changed.Contains(Rope))

	before := e.Serialize()
	changed, err = e.InfoOnCard(1, Rope, true)
	require.NoError(t, err)
	assert.True(t, changed.IsEmpty())
	assert.Equal(t, before, e.Serialize())
}

func TestHasOneOf(t *testing.T) {
	e := newTestEngine(t, 4)

	_, err := e.HasOneOf(1, NewCardSet(MrGreen, Rope, Study))
	require.NoError(t, err)
	assert.Equal(t, []CardSet{NewCardSet(MrGreen, Rope, Study)}, e.Player(1).Clauses)

	// Worthless once any candidate is owned.
	_, err = e.InfoOnCard(2, Hall, true)
	require.NoError(t, err)
	_, err = e.HasOneOf(2, NewCardSet(Hall, Knife))
	require.NoError(t, err)
	assert.Empty(t, e.Player(2).Clauses)

	// Collapses to a fact after filtering rejected cards.
	_, err = e.InfoOnCard(3, Knife, false)
	require.NoError(t, err)
	_, err = e.HasOneOf(3, NewCardSet(Knife, Wrench))
	require.NoError(t, err)
	assert.Equal(t, OwnershipOwned, ownership(t, e, 3, Wrench))

	changed, err := e.HasOneOf(0, 0)
	require.NoError(t, err)
	assert.True(t, changed.IsEmpty())

	_, err = e.HasOneOf(e.SolutionPlayer(), NewCardSet(Knife, Rope))
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = e.HasOneOf(0, CardSet(1)<<40)
	assert.ErrorIs(t, err, ErrUnrecognizedCard)
}

func TestSuggestValidation(t *testing.T) {
	e := newTestEngine(t, 4)
	before := e.Serialize()

	tests := []struct {
		name      string
		asker     int
		cards     [3]Card
		responder int
		shown     Card
		want      error
	}{
		{"asker out of range", 4, [3]Card{ProfessorPlum, Knife, Hall}, 1, NoCard, ErrInvalidPlayer},
		{"responder out of range", 0, [3]Card{ProfessorPlum, Knife, Hall}, 7, NoCard, ErrInvalidPlayer},
		{"responder is asker", 2, [3]Card{ProfessorPlum, Knife, Hall}, 2, NoCard, ErrInvalidSuggestion},
		{"unknown card", 0, [3]Card{ProfessorPlum, 30, Hall}, 1, NoCard, ErrUnrecognizedCard},
		{"shown card not suggested", 0, [3]Card{ProfessorPlum, Knife, Hall}, 1, Rope, ErrInvalidSuggestion},
		{"shown card without responder", 0, [3]Card{ProfessorPlum, Knife, Hall}, -1, Knife, ErrInvalidSuggestion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Suggest(tt.asker, tt.cards[0], tt.cards[1], tt.cards[2], tt.responder, tt.shown)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, e.Serialize())
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	e := newTestEngine(t, 3)

	_, err := e.InfoOnCard(4, Knife, true)
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = e.InfoOnCard(-1, Knife, true)
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = e.InfoOnCard(0, 21, true)
	assert.ErrorIs(t, err, ErrUnrecognizedCard)
	_, err = e.WhoHasCard(NoCard)
	assert.ErrorIs(t, err, ErrUnrecognizedCard)
	_, err = e.PlayerHasCard(9, Knife)
	assert.ErrorIs(t, err, ErrInvalidPlayer)
}

func TestConflictingFactIsRecorded(t *testing.T) {
	e := newTestEngine(t, 3)
	_, err := e.InfoOnCard(0, Knife, true)
	require.NoError(t, err)
	require.True(t, e.IsConsistent())
	require.NoError(t, e.CheckConsistency())

	changed, err := e.InfoOnCard(0, Knife, false)
	require.NoError(t, err)
	assert.True(t, changed.Contains(Knife))
	assert.False(t, e.IsConsistent())

	err = e.CheckConsistency()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistentState)
	var inconsistent *InconsistentStateError
	require.True(t, errors.As(err, &inconsistent))
	assert.Contains(t, inconsistent.Conflicts, Conflict{Player: 0, Card: Knife})
	assert.Contains(t, err.Error(), "Knife")
}

func TestSolutionCategoryExclusivity(t *testing.T) {
	e := newTestEngine(t, 4)
	sol := e.SolutionPlayer()
	_, err := e.InfoOnCard(sol, Lounge, true)
	require.NoError(t, err)

	for _, c := range Classic.CardsOf(Room).Without(Lounge).Cards() {
		assert.Equal(t, OwnershipRejected, ownership(t, e, sol, c))
	}
	for i := 0; i < 4; i++ {
		assert.Equal(t, OwnershipRejected, ownership(t, e, i, Lounge))
	}

	got, complete := e.Solution()
	assert.Equal(t, NewCardSet(Lounge), got)
	assert.False(t, complete)
}

func TestSolutionByRejection(t *testing.T) {
	e := newTestEngine(t, 4)
	sol := e.SolutionPlayer()
	for _, c := range []Card{Knife, Candlestick, Revolver, LeadPipe, Rope} {
		_, err := e.InfoOnCard(sol, c, false)
		require.NoError(t, err)
	}
	assert.Equal(t, OwnershipOwned, ownership(t, e, sol, Wrench))
}

func TestCloneIsIndependent(t *testing.T) {
	e := newTestEngine(t, 4)
	_, err := e.Suggest(0, MrGreen, Rope, Study, 2, NoCard)
	require.NoError(t, err)

	cp := e.Clone()
	_, err = cp.InfoOnCard(2, Rope, true)
	require.NoError(t, err)

	assert.Len(t, e.Player(2).Clauses, 1)
	assert.Empty(t, cp.Player(2).Clauses)
	assert.Equal(t, OwnershipUnknown, ownership(t, e, 2, Rope))
}

func TestPropagationOrderIndependent(t *testing.T) {
	type fact struct {
		player int
		card   Card
		has    bool
	}
	facts := []fact{
		{0, ColonelMustard, true},
		{1, MrGreen, true},
		{2, MissScarlet, false},
		{3, MsWhite, true},
		{2, Knife, true},
		{4, MrsPeacock, true},
		{5, Hall, false},
		{2, MissScarlet, false},
	}

	forward := newTestEngine(t, 6)
	for _, f := range facts {
		_, err := forward.InfoOnCard(f.player, f.card, f.has)
		require.NoError(t, err)
	}
	backward := newTestEngine(t, 6)
	for i := len(facts) - 1; i >= 0; i-- {
		f := facts[i]
		_, err := backward.InfoOnCard(f.player, f.card, f.has)
		require.NoError(t, err)
	}

	assert.Equal(t, forward.Serialize(), backward.Serialize())
	assert.True(t, forward.IsConsistent())
}
