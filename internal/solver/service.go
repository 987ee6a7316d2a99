// Package solver turns client requests into engine operations. It serves
// both the stateless session-string protocol and stored games with undo
// history.
package solver

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cluesolver/clue-server-go/internal/config"
	"github.com/cluesolver/clue-server-go/internal/engine"
	"github.com/cluesolver/clue-server-go/internal/history"
	"github.com/cluesolver/clue-server-go/internal/metrics"
	"github.com/cluesolver/clue-server-go/internal/satcheck"
	"github.com/cluesolver/clue-server-go/internal/store"
)

var (
	// ErrNothingToUndo is returned by undo at the first entry and by redo
	// at the last.
	ErrNothingToUndo = errors.New("no further history")
	// ErrStoredGameRequired is returned by history actions on a session
	// string.
	ErrStoredGameRequired = errors.New("action requires a stored game")
)

// Result labels used for metrics and error mapping.
const (
	ResultOK           = "ok"
	ResultInvalid      = "invalid"
	ResultNotFound     = "not_found"
	ResultInconsistent = "inconsistent"
	ResultError        = "error"
)

// Classify maps an error returned by Do to a result label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, engine.ErrInconsistentState):
		return ResultInconsistent
	case errors.Is(err, store.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrNothingToUndo),
		errors.Is(err, ErrStoredGameRequired),
		errors.Is(err, engine.ErrUnrecognizedCard),
		errors.Is(err, engine.ErrInvalidPlayer),
		errors.Is(err, engine.ErrInvalidSuggestion),
		errors.Is(err, engine.ErrMalformedSession):
		return ResultInvalid
	default:
		return ResultError
	}
}

// Publisher receives an event for every change to a stored game.
type Publisher interface {
	Publish(Event)
}

const lockStripes = 64

// Service executes requests. It is safe for concurrent use; requests for the
// same stored game are serialized.
type Service struct {
	store     store.Store
	sim       config.SimulationConfig
	logger    *zap.Logger
	validate  *validator.Validate
	publisher Publisher
	locks     [lockStripes]sync.Mutex
}

// NewService creates a service backed by st. A nil store disables stored
// games.
func NewService(st store.Store, sim config.SimulationConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sim.Trials <= 0 {
		sim.Trials = engine.DefaultTrials
	}
	return &Service{
		store:    st,
		sim:      sim,
		logger:   logger,
		validate: newValidator(),
	}
}

// SetPublisher registers the receiver of game change events.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

func (s *Service) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &s.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// game is a loaded game. rec and hist are nil for session-string games.
type game struct {
	engine *engine.Engine
	rec    *store.Record
	hist   *history.History
}

func (g *game) stored() bool { return g.rec != nil }

// Do validates and executes one request. When the action leaves the game
// contradictory the response is still returned, together with an error
// matching engine.ErrInconsistentState.
func (s *Service) Do(ctx context.Context, req *Request) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		action := req.Action
		if !knownAction(action) {
			action = "unknown"
		}
		metrics.ObserveAction(action, Classify(err), start)
	}()

	if err := s.validate.Struct(req); err != nil {
		return nil, invalid(err)
	}
	if req.GameID != "" {
		if s.store == nil {
			return nil, fmt.Errorf("%w: stored games are disabled", ErrInvalidRequest)
		}
		unlock := s.lock(req.GameID)
		defer unlock()
	}

	if req.Action == ActionNew {
		return s.newGame(ctx, req)
	}

	g, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionWhoOwns, ActionOneOf, ActionSuggestion:
		return s.mutate(ctx, g, req)
	case ActionState:
		resp := s.respond(g, g.engine.Registry().Cards())
		return resp, consistency(g.engine)
	case ActionSimulate:
		return s.simulate(ctx, g, req)
	case ActionDeduce:
		return s.deduce(ctx, g, req)
	case ActionVerify:
		return s.verify(g)
	case ActionUndo, ActionRedo:
		return s.step(ctx, g, req.Action)
	case ActionHistory:
		if !g.stored() {
			return nil, ErrStoredGameRequired
		}
		resp := s.respond(g, 0)
		resp.History, *resp.Cursor = g.hist.Snapshot()
		return resp, nil
	case ActionDelete:
		if err := s.store.Delete(ctx, req.GameID); err != nil {
			return nil, err
		}
		s.logger.Info("game deleted", zap.String("game_id", req.GameID))
		return &Response{GameID: req.GameID, Session: g.engine.Serialize(), NewInfo: []CardInfo{}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, req.Action)
	}
}

func (s *Service) engineOptions(extra ...engine.Option) []engine.Option {
	return append([]engine.Option{engine.WithLogger(s.logger.Named("engine"))}, extra...)
}

func (s *Service) newGame(ctx context.Context, req *Request) (*Response, error) {
	var opts []engine.Option
	if len(req.Capacities) > 0 {
		opts = append(opts, engine.WithCapacities(req.Capacities))
	}
	e, err := engine.New(req.Players, s.engineOptions(opts...)...)
	if err != nil {
		return nil, err
	}

	g := &game{engine: e}
	if req.Persist {
		if s.store == nil {
			return nil, fmt.Errorf("%w: stored games are disabled", ErrInvalidRequest)
		}
		id := uuid.NewString()
		g.rec = &store.Record{ID: id, Players: e.NumPlayers()}
		g.hist = history.New(id)
		if err := s.commit(ctx, g, ActionNew, fmt.Sprintf("%d players", e.NumPlayers())); err != nil {
			return nil, err
		}
		s.logger.Info("game created",
			zap.String("game_id", id),
			zap.Int("players", e.NumPlayers()),
		)
	}
	return s.respond(g, 0), nil
}

func (s *Service) load(ctx context.Context, req *Request) (*game, error) {
	if req.GameID == "" {
		if isHistoryAction(req.Action) {
			return nil, ErrStoredGameRequired
		}
		e, rest, err := engine.Deserialize(req.Session, s.engineOptions()...)
		if err != nil {
			return nil, err
		}
		if rest != "" {
			return nil, fmt.Errorf("%w: invalid session string %q", ErrInvalidRequest, req.Session)
		}
		return &game{engine: e}, nil
	}

	rec, err := s.store.Get(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	e, rest, err := engine.Deserialize(rec.Session, s.engineOptions()...)
	if err != nil {
		return nil, fmt.Errorf("stored game %s: %w", rec.ID, err)
	}
	if rest != "" {
		return nil, fmt.Errorf("%w: stored game %s has trailing data", store.ErrCorruptRecord, rec.ID)
	}
	return &game{
		engine: e,
		rec:    rec,
		hist:   history.Restore(rec.ID, rec.History, rec.Cursor),
	}, nil
}

func knownAction(action string) bool {
	switch action {
	case ActionNew, ActionWhoOwns, ActionOneOf, ActionSuggestion, ActionState,
		ActionSimulate, ActionDeduce, ActionVerify:
		return true
	}
	return isHistoryAction(action)
}

func isHistoryAction(action string) bool {
	switch action {
	case ActionUndo, ActionRedo, ActionHistory, ActionDelete:
		return true
	}
	return false
}

// commit records the game's current session in its history and saves it.
// Session-string games have nothing to commit.
func (s *Service) commit(ctx context.Context, g *game, action, detail string) error {
	if !g.stored() {
		return nil
	}
	session := g.engine.Serialize()
	g.hist.Record(history.Entry{Action: action, Detail: detail, Session: session})
	return s.save(ctx, g)
}

func (s *Service) save(ctx context.Context, g *game) error {
	g.rec.Session = g.engine.Serialize()
	g.rec.Players = g.engine.NumPlayers()
	g.rec.History, g.rec.Cursor = g.hist.Snapshot()
	if err := s.store.Put(ctx, g.rec); err != nil {
		return fmt.Errorf("failed to save game %s: %w", g.rec.ID, err)
	}
	return nil
}

func (s *Service) respond(g *game, changed engine.CardSet) *Response {
	e := g.engine
	resp := &Response{
		Session:    e.Serialize(),
		NewInfo:    cardInfos(e, changed),
		Consistent: e.IsConsistent(),
	}
	if sol, _ := e.Solution(); !sol.IsEmpty() {
		resp.Solution = e.Registry().Names(sol)
	}
	if g.stored() {
		resp.GameID = g.rec.ID
		resp.Cursor = new(int)
		*resp.Cursor = g.rec.Cursor
	}
	return resp
}

// consistency reports a contradiction in e as an error.
func consistency(e *engine.Engine) error {
	if err := e.CheckConsistency(); err != nil {
		metrics.InconsistentStates.Inc()
		return err
	}
	return nil
}

func (s *Service) card(e *engine.Engine, name string) (engine.Card, error) {
	return e.Registry().CardByName(strings.TrimSpace(name))
}

func (s *Service) playerName(e *engine.Engine, p int) string {
	if p == e.SolutionPlayer() {
		return "case file"
	}
	return fmt.Sprintf("player %d", p)
}

// apply performs a fact-adding action and describes it for the history.
func (s *Service) apply(e *engine.Engine, req *Request) (engine.CardSet, string, error) {
	reg := e.Registry()
	switch req.Action {
	case ActionWhoOwns:
		c, err := s.card(e, req.Card)
		if err != nil {
			return 0, "", err
		}
		has := req.HasCard == nil || *req.HasCard
		changed, err := e.InfoOnCard(*req.Owner, c, has)
		verb := "has"
		if !has {
			verb = "does not have"
		}
		return changed, fmt.Sprintf("%s %s %s", s.playerName(e, *req.Owner), verb, reg.Name(c)), err

	case ActionOneOf:
		var cards engine.CardSet
		for _, name := range req.Cards {
			c, err := s.card(e, name)
			if err != nil {
				return 0, "", err
			}
			cards = cards.With(c)
		}
		changed, err := e.HasOneOf(*req.Owner, cards)
		detail := fmt.Sprintf("%s has one of %s", s.playerName(e, *req.Owner), strings.Join(reg.Names(cards), ", "))
		return changed, detail, err

	case ActionSuggestion:
		var picks [3]engine.Card
		for i, name := range []string{req.Card1, req.Card2, req.Card3} {
			c, err := s.card(e, name)
			if err != nil {
				return 0, "", err
			}
			picks[i] = c
		}
		refuter := -1
		if req.Refuter != nil {
			refuter = *req.Refuter
		}
		shown := engine.NoCard
		if req.RefutingCard != "" && req.RefutingCard != NoRefutingCard {
			c, err := s.card(e, req.RefutingCard)
			if err != nil {
				return 0, "", err
			}
			shown = c
		}
		changed, err := e.Suggest(*req.Suggester, picks[0], picks[1], picks[2], refuter, shown)

		detail := fmt.Sprintf("player %d suggested %s", *req.Suggester, strings.Join(reg.Names(engine.NewCardSet(picks[:]...)), ", "))
		switch {
		case refuter < 0:
			detail += "; nobody refuted"
		case shown == engine.NoCard:
			detail += fmt.Sprintf("; player %d refuted", refuter)
		default:
			detail += fmt.Sprintf("; player %d showed %s", refuter, reg.Name(shown))
		}
		return changed, detail, err
	}
	return 0, "", fmt.Errorf("%w: %q does not add facts", ErrInvalidRequest, req.Action)
}

func (s *Service) mutate(ctx context.Context, g *game, req *Request) (*Response, error) {
	changed, detail, err := s.apply(g.engine, req)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, g, req.Action, detail); err != nil {
		return nil, err
	}

	s.logger.Debug("facts added",
		zap.String("action", req.Action),
		zap.String("game_id", req.GameID),
		zap.String("detail", detail),
		zap.Int("changed", changed.Len()),
	)

	resp := s.respond(g, changed)
	err = consistency(g.engine)
	if err != nil {
		s.logger.Warn("game became inconsistent",
			zap.String("game_id", req.GameID),
			zap.String("detail", detail),
			zap.Error(err),
		)
	}
	s.publish(g, req.Action, resp)
	return resp, err
}

func (s *Service) step(ctx context.Context, g *game, action string) (*Response, error) {
	var (
		entry history.Entry
		ok    bool
	)
	if action == ActionUndo {
		entry, ok = g.hist.Undo()
	} else {
		entry, ok = g.hist.Redo()
	}
	if !ok {
		return nil, ErrNothingToUndo
	}

	e, _, err := engine.Deserialize(entry.Session, s.engineOptions()...)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", g.rec.ID, err)
	}
	before := g.engine
	g.engine = e
	if err := s.save(ctx, g); err != nil {
		return nil, err
	}

	resp := s.respond(g, diff(before, e))
	s.publish(g, action, resp)
	return resp, consistency(e)
}

// diff returns the cards whose ownership differs between two states of the
// same game.
func diff(a, b *engine.Engine) engine.CardSet {
	var changed engine.CardSet
	for p := 0; p <= a.NumPlayers(); p++ {
		pa, pb := a.Player(p), b.Player(p)
		changed = changed.
			Union(pa.Has.Minus(pb.Has)).Union(pb.Has.Minus(pa.Has)).
			Union(pa.NotHas.Minus(pb.NotHas)).Union(pb.NotHas.Minus(pa.NotHas))
	}
	return changed
}

func (s *Service) simulate(ctx context.Context, g *game, req *Request) (*Response, error) {
	if s.sim.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sim.Timeout)
		defer cancel()
	}
	trials := req.Trials
	if trials == 0 {
		trials = s.sim.Trials
	}

	sim, err := g.engine.Simulate(ctx, engine.SimulationOptions{
		Trials:  trials,
		Workers: s.sim.Workers,
		Seed:    req.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("simulation failed: %w", err)
	}
	metrics.ObserveSimulation(sim.Attempted, sim.Consistent)

	resp := s.respond(g, 0)
	resp.Simulation = simulationResult(g.engine.Registry(), sim)
	return resp, consistency(g.engine)
}

func (s *Service) deduce(ctx context.Context, g *game, req *Request) (*Response, error) {
	facts := satcheck.FromEngine(g.engine).Deductions()
	reg := g.engine.Registry()

	var changed engine.CardSet
	if req.Apply && len(facts) > 0 {
		for _, f := range facts {
			c, err := g.engine.InfoOnCard(f.Player, f.Card, f.Has)
			if err != nil {
				return nil, err
			}
			changed = changed.Union(c)
		}
		detail := fmt.Sprintf("applied %d exact deductions", len(facts))
		if err := s.commit(ctx, g, ActionDeduce, detail); err != nil {
			return nil, err
		}
	}

	resp := s.respond(g, changed)
	resp.Deductions = deductions(reg, facts)
	if req.Apply && len(facts) > 0 {
		s.publish(g, ActionDeduce, resp)
	}
	return resp, consistency(g.engine)
}

func (s *Service) verify(g *game) (*Response, error) {
	m := satcheck.FromEngine(g.engine)
	reg := g.engine.Registry()

	resp := s.respond(g, 0)
	ok := m.Satisfiable()
	resp.Satisfiable = &ok
	if deal, found := m.Example(); found {
		resp.Example = make(map[string]int, len(deal))
		for c, p := range deal {
			resp.Example[reg.Name(c)] = p
		}
	}
	return resp, consistency(g.engine)
}

func (s *Service) publish(g *game, action string, resp *Response) {
	if s.publisher == nil || !g.stored() {
		return
	}
	s.publisher.Publish(Event{
		GameID:   g.rec.ID,
		Action:   action,
		Response: resp,
		At:       time.Now().UTC(),
	})
}
