package solver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/engine"
	"github.com/cluesolver/clue-server-go/internal/store"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Action)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := NewService(st, config.SimulationConfig{Trials: 200, Workers: 2}, zaptest.NewLogger(t))
	return svc, st
}

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func do(t *testing.T, svc *Service, req Request) *Response {
	t.Helper()
	resp, err := svc.Do(context.Background(), &req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func findInfo(infos []CardInfo, card string) (CardInfo, bool) {
	for _, info := range infos {
		if info.Card == card {
			return info, true
		}
	}
	return CardInfo{}, false
}

func TestNewGame(t *testing.T) {
	svc, _ := newTestService(t)

	resp := do(t, svc, Request{Action: ActionNew, Players: 2})
	assert.Equal(t, "29-.9-.3-.", resp.Session)
	assert.Empty(t, resp.GameID)
	assert.Empty(t, resp.NewInfo)
	assert.True(t, resp.Consistent)

	resp = do(t, svc, Request{Action: ActionNew, Players: 3, Capacities: []int{6, 0, 6}})
	assert.Equal(t, "36-.0-.6-.3-.", resp.Session)
}

func TestWhoOwns(t *testing.T) {
	svc, _ := newTestService(t)

	resp := do(t, svc, Request{Action: ActionWhoOwns, Session: "29-.9-.3-.", Owner: intPtr(0), Card: "ProfessorPlum"})
	assert.Equal(t, "29A-.9-A.3-A.", resp.Session)
	require.Len(t, resp.NewInfo, 1)
	assert.Equal(t, CardInfo{Card: "ProfessorPlum", Status: StatusOwned, Owner: []int{0}}, resp.NewInfo[0])

	// The case file owner is reported with status 2
	resp = do(t, svc, Request{Action: ActionWhoOwns, Session: "29-.9-.3-.", Owner: intPtr(2), Card: "knife"})
	info, ok := findInfo(resp.NewInfo, "Knife")
	require.True(t, ok)
	assert.Equal(t, StatusSolution, info.Status)
	assert.Equal(t, []int{2}, info.Owner)
	assert.Equal(t, []string{"Knife"}, resp.Solution)

	// Not owning narrows the possible owners
	resp = do(t, svc, Request{Action: ActionWhoOwns, Session: "29-.9-.3-.", Owner: intPtr(1), Card: "Rope", HasCard: boolPtr(false)})
	info, ok = findInfo(resp.NewInfo, "Rope")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, info.Status)
	assert.Equal(t, []int{0, 2}, info.Owner)
}

func TestOneOf(t *testing.T) {
	svc, _ := newTestService(t)

	start := do(t, svc, Request{Action: ActionWhoOwns, Session: "36-.6-.6-.3-.", Owner: intPtr(1), Card: "Knife", HasCard: boolPtr(false)})
	resp := do(t, svc, Request{Action: ActionOneOf, Session: start.Session, Owner: intPtr(1), Cards: []string{"Knife", "Rope"}})

	info, ok := findInfo(resp.NewInfo, "Rope")
	require.True(t, ok)
	assert.Equal(t, StatusOwned, info.Status)
	assert.Equal(t, []int{1}, info.Owner)
}

func TestSuggestion(t *testing.T) {
	svc, _ := newTestService(t)
	session := do(t, svc, Request{Action: ActionNew, Players: 4}).Session

	resp := do(t, svc, Request{
		Action:       ActionSuggestion,
		Session:      session,
		Suggester:    intPtr(0),
		Card1:        "MrGreen",
		Card2:        "Rope",
		Card3:        "Study",
		Refuter:      intPtr(2),
		RefutingCard: "Rope",
	})
	assert.True(t, resp.Consistent)

	rope, ok := findInfo(resp.NewInfo, "Rope")
	require.True(t, ok)
	assert.Equal(t, StatusOwned, rope.Status)
	assert.Equal(t, []int{2}, rope.Owner)

	// Player 1 sat between the suggester and the refuter
	green, ok := findInfo(resp.NewInfo, "MrGreen")
	require.True(t, ok)
	assert.NotContains(t, green.Owner, 1)

	e, _, err := engine.Deserialize(resp.Session)
	require.NoError(t, err)
	own, err := e.PlayerHasCard(1, engine.Study)
	require.NoError(t, err)
	assert.Equal(t, engine.OwnershipRejected, own)

	// An unseen refuting card leaves a clause
	resp = do(t, svc, Request{
		Action:       ActionSuggestion,
		Session:      session,
		Suggester:    intPtr(0),
		Card1:        "MrGreen",
		Card2:        "Rope",
		Card3:        "Study",
		Refuter:      intPtr(2),
		RefutingCard: NoRefutingCard,
	})
	e, _, err = engine.Deserialize(resp.Session)
	require.NoError(t, err)
	assert.Equal(t, []engine.CardSet{engine.NewCardSet(engine.MrGreen, engine.Rope, engine.Study)}, e.Player(2).Clauses)
}

func TestState(t *testing.T) {
	svc, _ := newTestService(t)

	resp := do(t, svc, Request{Action: ActionState, Session: "29A-.9-.3-."})
	assert.Len(t, resp.NewInfo, engine.Classic.Size())
	plum, ok := findInfo(resp.NewInfo, "ProfessorPlum")
	require.True(t, ok)
	assert.Equal(t, StatusOwned, plum.Status)
	hall, ok := findInfo(resp.NewInfo, "Hall")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, hall.Status)
	assert.Equal(t, []int{0, 1, 2}, hall.Owner)
}

func TestInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"missing action", Request{}, ErrInvalidRequest},
		{"unknown action", Request{Action: "moreInfo", Session: "29-.9-.3-."}, ErrInvalidRequest},
		{"new without players", Request{Action: ActionNew}, ErrInvalidRequest},
		{"too many players", Request{Action: ActionNew, Players: 10}, ErrInvalidRequest},
		{"capacity too large", Request{Action: ActionNew, Players: 2, Capacities: []int{10, 8}}, ErrInvalidRequest},
		{"whoOwns without owner", Request{Action: ActionWhoOwns, Session: "29-.9-.3-.", Card: "Knife"}, ErrInvalidRequest},
		{"whoOwns without session", Request{Action: ActionWhoOwns, Owner: intPtr(0), Card: "Knife"}, ErrInvalidRequest},
		{"suggestion missing card", Request{Action: ActionSuggestion, Session: "29-.9-.3-.", Suggester: intPtr(0), Card1: "Knife", Card2: "Hall"}, ErrInvalidRequest},
		{"bad game id", Request{Action: ActionState, GameID: "not-a-uuid"}, ErrInvalidRequest},
		{"undo without game", Request{Action: ActionUndo, Session: "29-.9-.3-."}, ErrInvalidRequest},
		{"unknown card", Request{Action: ActionWhoOwns, Session: "29-.9-.3-.", Owner: intPtr(0), Card: "Dagger"}, engine.ErrUnrecognizedCard},
		{"owner out of range", Request{Action: ActionWhoOwns, Session: "29-.9-.3-.", Owner: intPtr(5), Card: "Knife"}, engine.ErrInvalidPlayer},
		{"trailing session data", Request{Action: ActionState, Session: "29-.9-.3-.x"}, ErrInvalidRequest},
		{"malformed session", Request{Action: ActionState, Session: "29-.9"}, engine.ErrMalformedSession},
		{"refuter is suggester", Request{Action: ActionSuggestion, Session: "29-.9-.3-.", Suggester: intPtr(0), Card1: "MrGreen", Card2: "Rope", Card3: "Hall", Refuter: intPtr(0)}, engine.ErrInvalidSuggestion},
		{"missing game", Request{Action: ActionState, GameID: uuid.NewString()}, store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Do(context.Background(), &tt.req)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInconsistentResultIsReturned(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Do(context.Background(), &Request{Action: ActionWhoOwns, Session: "29A-.9-.3-.", Owner: intPtr(1), Card: "ProfessorPlum"})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrInconsistentState)
	require.NotNil(t, resp)
	assert.False(t, resp.Consistent)
	assert.Equal(t, ResultInconsistent, Classify(err))

	var ise *engine.InconsistentStateError
	require.True(t, errors.As(err, &ise))
	assert.NotEmpty(t, ise.Conflicts)
}

func TestStoredGameLifecycle(t *testing.T) {
	svc, st := newTestService(t)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)

	created := do(t, svc, Request{Action: ActionNew, Players: 2, Persist: true})
	require.NotEmpty(t, created.GameID)
	_, err := uuid.Parse(created.GameID)
	require.NoError(t, err)
	require.NotNil(t, created.Cursor)
	assert.Equal(t, 0, *created.Cursor)
	assert.Equal(t, 1, st.Len())

	id := created.GameID
	resp := do(t, svc, Request{Action: ActionWhoOwns, GameID: id, Owner: intPtr(0), Card: "ProfessorPlum"})
	assert.Equal(t, id, resp.GameID)
	assert.Equal(t, "29A-.9-A.3-A.", resp.Session)

	resp = do(t, svc, Request{Action: ActionWhoOwns, GameID: id, Owner: intPtr(1), Card: "Knife"})
	assert.Equal(t, 2, *resp.Cursor)

	hist := do(t, svc, Request{Action: ActionHistory, GameID: id})
	require.Len(t, hist.History, 3)
	assert.Equal(t, ActionNew, hist.History[0].Action)
	assert.Equal(t, "player 0 has ProfessorPlum", hist.History[1].Detail)
	assert.Equal(t, "player 1 has Knife", hist.History[2].Detail)

	undone := do(t, svc, Request{Action: ActionUndo, GameID: id})
	assert.Equal(t, "29A-.9-A.3-A.", undone.Session)
	assert.Equal(t, 1, *undone.Cursor)
	knife, ok := findInfo(undone.NewInfo, "Knife")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, knife.Status)

	// The undo is persisted
	state := do(t, svc, Request{Action: ActionState, GameID: id})
	assert.Equal(t, "29A-.9-A.3-A.", state.Session)

	redone := do(t, svc, Request{Action: ActionRedo, GameID: id})
	assert.Equal(t, resp.Session, redone.Session)

	_, err = svc.Do(context.Background(), &Request{Action: ActionRedo, GameID: id})
	assert.ErrorIs(t, err, ErrNothingToUndo)

	do(t, svc, Request{Action: ActionUndo, GameID: id})
	do(t, svc, Request{Action: ActionUndo, GameID: id})
	_, err = svc.Do(context.Background(), &Request{Action: ActionUndo, GameID: id})
	assert.ErrorIs(t, err, ErrNothingToUndo)

	// A new fact after undo drops the redo tail
	do(t, svc, Request{Action: ActionWhoOwns, GameID: id, Owner: intPtr(1), Card: "Hall"})
	hist = do(t, svc, Request{Action: ActionHistory, GameID: id})
	assert.Len(t, hist.History, 2)

	assert.Equal(t, []string{
		ActionWhoOwns, ActionWhoOwns, ActionUndo, ActionRedo, ActionUndo, ActionUndo, ActionWhoOwns,
	}, pub.actions())

	do(t, svc, Request{Action: ActionDelete, GameID: id})
	_, err = svc.Do(context.Background(), &Request{Action: ActionState, GameID: id})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoredGamesDisabled(t *testing.T) {
	svc := NewService(nil, config.SimulationConfig{}, zaptest.NewLogger(t))

	_, err := svc.Do(context.Background(), &Request{Action: ActionNew, Players: 3, Persist: true})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Do(context.Background(), &Request{Action: ActionState, GameID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSimulate(t *testing.T) {
	svc, _ := newTestService(t)
	session := do(t, svc, Request{Action: ActionWhoOwns, Session: "36-.6-.6-.3-.", Owner: intPtr(0), Card: "Knife"}).Session

	resp := do(t, svc, Request{Action: ActionSimulate, Session: session, Trials: 100, Seed: 5})
	require.NotNil(t, resp.Simulation)
	assert.Len(t, resp.Simulation.Counts, engine.Classic.Size())
	assert.Positive(t, resp.Simulation.Attempted)
	assert.Positive(t, resp.Simulation.Consistent)

	knife := resp.Simulation.Counts["Knife"]
	require.Len(t, knife, 4)
	assert.Equal(t, resp.Simulation.Consistent, knife[0])
	assert.Equal(t, session, resp.Session)
}

func TestDeduce(t *testing.T) {
	svc, _ := newTestService(t)
	session := do(t, svc, Request{Action: ActionNew, Players: 6}).Session
	session = do(t, svc, Request{Action: ActionWhoOwns, Session: session, Owner: intPtr(0), Card: "Hall"}).Session
	session = do(t, svc, Request{Action: ActionWhoOwns, Session: session, Owner: intPtr(0), Card: "Study"}).Session
	session = do(t, svc, Request{Action: ActionOneOf, Session: session, Owner: intPtr(0), Cards: []string{"Knife", "Rope"}}).Session

	resp := do(t, svc, Request{Action: ActionDeduce, Session: session})
	assert.Contains(t, resp.Deductions, Deduction{Player: 0, Card: "ProfessorPlum", Has: false})
	assert.Equal(t, session, resp.Session)

	applied := do(t, svc, Request{Action: ActionDeduce, Session: session, Apply: true})
	assert.NotEqual(t, session, applied.Session)
	e, _, err := engine.Deserialize(applied.Session)
	require.NoError(t, err)
	own, err := e.PlayerHasCard(0, engine.ProfessorPlum)
	require.NoError(t, err)
	assert.Equal(t, engine.OwnershipRejected, own)
}

func TestVerify(t *testing.T) {
	svc, _ := newTestService(t)

	resp := do(t, svc, Request{Action: ActionVerify, Session: "36A-.6-.6-.3-."})
	require.NotNil(t, resp.Satisfiable)
	assert.True(t, *resp.Satisfiable)
	assert.Len(t, resp.Example, engine.Classic.Size())
	assert.Equal(t, 0, resp.Example["ProfessorPlum"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{fmt.Errorf("wrapped: %w", ErrInvalidRequest), ResultInvalid},
		{engine.ErrUnrecognizedCard, ResultInvalid},
		{&engine.MalformedSessionError{Pos: 3}, ResultInvalid},
		{store.ErrNotFound, ResultNotFound},
		{&engine.InconsistentStateError{}, ResultInconsistent},
		{errors.New("disk on fire"), ResultError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestConcurrentUpdatesToOneGame(t *testing.T) {
	svc, _ := newTestService(t)
	id := do(t, svc, Request{Action: ActionNew, Players: 3, Persist: true}).GameID

	cards := []string{"Hall", "Kitchen", "Study", "Library", "Lounge"}
	var wg sync.WaitGroup
	for _, c := range cards {
		wg.Add(1)
		go func(card string) {
			defer wg.Done()
			_, err := svc.Do(context.Background(), &Request{Action: ActionWhoOwns, GameID: id, Owner: intPtr(0), Card: card, HasCard: boolPtr(false)})
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	hist := do(t, svc, Request{Action: ActionHistory, GameID: id})
	assert.Len(t, hist.History, len(cards)+1)
}
