package engine

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// MaxPlayers is the largest table the session format can describe.
const MaxPlayers = 9

// maxCapacity is the largest hand size the session format can describe.
const maxCapacity = 9

// Ownership is what is known about one player and one card.
type Ownership int8

const (
	OwnershipUnknown Ownership = iota
	OwnershipOwned
	OwnershipRejected
)

func (o Ownership) String() string {
	switch o {
	case OwnershipOwned:
		return "owned"
	case OwnershipRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Engine holds the beliefs of every player at the table plus the solution
// player, which is always last. An Engine is not safe for concurrent use;
// Clone it to hand a copy to another goroutine.
type Engine struct {
	reg     *Registry
	players []PlayerData
	logger  *zap.Logger
}

type options struct {
	capacities []int
	reg        *Registry
	logger     *zap.Logger
}

// Option configures New and Deserialize.
type Option func(*options)

// WithCapacities declares hand sizes. It accepts one value per real player
// or one per player including the solution player. Values of zero or less
// mean unknown.
func WithCapacities(capacities []int) Option {
	return func(o *options) {
		o.capacities = append([]int(nil), capacities...)
	}
}

// WithRegistry replaces the Classic card table.
func WithRegistry(reg *Registry) Option {
	return func(o *options) {
		o.reg = reg
	}
}

// WithLogger sets the logger used for deduction tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates an engine with no knowledge for numPlayers real players.
func New(numPlayers int, opts ...Option) (*Engine, error) {
	o := options{reg: Classic}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg == nil {
		o.reg = Classic
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if numPlayers < 1 || numPlayers > MaxPlayers {
		return nil, fmt.Errorf("%w: need 1 to %d players, got %d", ErrInvalidPlayer, MaxPlayers, numPlayers)
	}

	caps, err := resolveCapacities(o.reg, numPlayers, o.capacities)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		reg:     o.reg,
		players: make([]PlayerData, numPlayers+1),
		logger:  o.logger,
	}
	for i := 0; i < numPlayers; i++ {
		e.players[i] = newPlayerData(caps[i], false)
	}
	e.players[numPlayers] = newPlayerData(caps[numPlayers], true)
	return e, nil
}

// DefaultCapacities deals the cards outside the case file round robin, so
// the first players get the extra cards. The solution player's capacity is
// the number of categories. Hands too large for the session format are left
// unknown.
func DefaultCapacities(reg *Registry, numPlayers int) []int {
	dealt := reg.Size() - reg.NumCategories()
	caps := make([]int, numPlayers+1)
	for i := 0; i < numPlayers; i++ {
		caps[i] = dealt / numPlayers
		if i < dealt%numPlayers {
			caps[i]++
		}
		if caps[i] > maxCapacity || caps[i] <= 0 {
			caps[i] = UnknownNumCards
		}
	}
	caps[numPlayers] = reg.NumCategories()
	return caps
}

func resolveCapacities(reg *Registry, numPlayers int, declared []int) ([]int, error) {
	caps := DefaultCapacities(reg, numPlayers)
	if declared == nil {
		return caps, nil
	}
	if len(declared) != numPlayers && len(declared) != numPlayers+1 {
		return nil, fmt.Errorf("%w: %d capacities for %d players", ErrInvalidPlayer, len(declared), numPlayers)
	}
	for i, c := range declared {
		switch {
		case c <= 0:
			caps[i] = UnknownNumCards
		case c > maxCapacity:
			return nil, fmt.Errorf("%w: capacity %d of player %d exceeds %d", ErrInvalidPlayer, c, i, maxCapacity)
		default:
			caps[i] = c
		}
	}
	return caps, nil
}

// Registry returns the card table the engine was built with.
func (e *Engine) Registry() *Registry { return e.reg }

// NumPlayers returns the number of real players.
func (e *Engine) NumPlayers() int { return len(e.players) - 1 }

// SolutionPlayer returns the index of the solution player.
func (e *Engine) SolutionPlayer() int { return len(e.players) - 1 }

// Player returns a copy of the beliefs about player i, where i is in
// 0..NumPlayers() inclusive.
func (e *Engine) Player(i int) PlayerData {
	return e.players[i].clone()
}

// Solution returns the cards known to be in the case file and whether
// every category is resolved.
func (e *Engine) Solution() (CardSet, bool) {
	has := e.players[e.SolutionPlayer()].Has
	return has, has.Len() == e.reg.NumCategories()
}

// Clone returns an independent deep copy.
func (e *Engine) Clone() *Engine {
	cp := &Engine{
		reg:     e.reg,
		players: make([]PlayerData, len(e.players)),
		logger:  e.logger,
	}
	for i := range e.players {
		cp.players[i] = e.players[i].clone()
	}
	return cp
}

func (e *Engine) checkPlayer(p int, allowSolution bool) error {
	limit := e.NumPlayers()
	if allowSolution {
		limit++
	}
	if p < 0 || p >= limit {
		return fmt.Errorf("%w: %d", ErrInvalidPlayer, p)
	}
	return nil
}

func (e *Engine) checkCard(c Card) error {
	if !e.reg.Valid(c) {
		return fmt.Errorf("%w: ordinal %d", ErrUnrecognizedCard, c)
	}
	return nil
}

// InfoOnCard records that player holds (or does not hold) card and
// propagates. It returns every card whose status changed for any player.
// Contradicting facts are applied; use IsConsistent to detect them.
func (e *Engine) InfoOnCard(player int, card Card, has bool) (CardSet, error) {
	if err := e.checkPlayer(player, true); err != nil {
		return 0, err
	}
	if err := e.checkCard(card); err != nil {
		return 0, err
	}
	changed := e.learn(player, card, has)
	return e.propagate(changed), nil
}

// HasOneOf records that a real player holds at least one of cards. An
// empty set carries no information and changes nothing.
func (e *Engine) HasOneOf(player int, cards CardSet) (CardSet, error) {
	if err := e.checkPlayer(player, false); err != nil {
		return 0, err
	}
	if !cards.IsSubsetOf(e.reg.Cards()) {
		return 0, fmt.Errorf("%w: %v", ErrUnrecognizedCard, cards.Minus(e.reg.Cards()).Cards())
	}
	if cards.IsEmpty() {
		return 0, nil
	}
	changed := e.hasOneOf(player, cards)
	return e.propagate(changed), nil
}

// Suggest records a suggestion of c1, c2 and c3 by asker. Players are
// asked in seating order after the asker until responder refutes; a
// responder of -1 means nobody could. shown is the refuting card when the
// caller saw it, NoCard otherwise.
func (e *Engine) Suggest(asker int, c1, c2, c3 Card, responder int, shown Card) (CardSet, error) {
	if err := e.checkPlayer(asker, false); err != nil {
		return 0, err
	}
	for _, c := range []Card{c1, c2, c3} {
		if err := e.checkCard(c); err != nil {
			return 0, err
		}
	}
	if responder != -1 {
		if err := e.checkPlayer(responder, false); err != nil {
			return 0, err
		}
		if responder == asker {
			return 0, fmt.Errorf("%w: player %d cannot refute their own suggestion", ErrInvalidSuggestion, asker)
		}
	}
	suggested := NewCardSet(c1, c2, c3)
	if shown != NoCard {
		if err := e.checkCard(shown); err != nil {
			return 0, err
		}
		if !suggested.Contains(shown) {
			return 0, fmt.Errorf("%w: %s was not suggested", ErrInvalidSuggestion, e.reg.Name(shown))
		}
		if responder == -1 {
			return 0, fmt.Errorf("%w: a shown card needs a responder", ErrInvalidSuggestion)
		}
	}

	var changed CardSet
	n := e.NumPlayers()
	for p := (asker + 1) % n; p != asker; p = (p + 1) % n {
		if p == responder {
			if shown != NoCard {
				changed |= e.learn(p, shown, true)
			} else {
				changed |= e.hasOneOf(p, suggested)
			}
			break
		}
		for _, c := range suggested.Cards() {
			changed |= e.learn(p, c, false)
		}
	}
	return e.propagate(changed), nil
}

// WhoHasCard lists the players that may hold card: the owner alone once
// known, otherwise everyone not known to lack it.
func (e *Engine) WhoHasCard(card Card) ([]int, error) {
	if err := e.checkCard(card); err != nil {
		return nil, err
	}
	if owner := e.ownerOf(card); owner >= 0 {
		return []int{owner}, nil
	}
	var out []int
	for i := range e.players {
		if !e.players[i].NotHas.Contains(card) {
			out = append(out, i)
		}
	}
	return out, nil
}

// PlayerHasCard reports what is known about player holding card.
func (e *Engine) PlayerHasCard(player int, card Card) (Ownership, error) {
	if err := e.checkPlayer(player, true); err != nil {
		return OwnershipUnknown, err
	}
	if err := e.checkCard(card); err != nil {
		return OwnershipUnknown, err
	}
	return e.players[player].Ownership(card), nil
}

// IsConsistent reports whether no player is recorded as both holding and
// lacking a card.
func (e *Engine) IsConsistent() bool {
	for i := range e.players {
		if e.players[i].Has.Overlaps(e.players[i].NotHas) {
			return false
		}
	}
	return true
}

// CheckConsistency returns an *InconsistentStateError listing every
// conflict, or nil.
func (e *Engine) CheckConsistency() error {
	var conflicts []Conflict
	var names []string
	for i := range e.players {
		for _, c := range e.players[i].Has.Intersect(e.players[i].NotHas).Cards() {
			conflicts = append(conflicts, Conflict{Player: i, Card: c})
			names = append(names, e.reg.Name(c))
		}
	}
	if len(conflicts) == 0 {
		return nil
	}
	return &InconsistentStateError{Conflicts: conflicts, names: names}
}

func (e *Engine) ownerOf(c Card) int {
	for i := range e.players {
		if e.players[i].Has.Contains(c) {
			return i
		}
	}
	return -1
}

func (e *Engine) scopeFor(p int) *scope {
	return &scope{reg: e.reg, logger: e.logger, player: p}
}

func (e *Engine) learn(p int, c Card, has bool) CardSet {
	s := e.scopeFor(p)
	e.players[p].learn(s, c, has)
	return s.changed
}

func (e *Engine) hasOneOf(p int, cards CardSet) CardSet {
	s := e.scopeFor(p)
	e.players[p].hasOneOf(s, cards)
	return s.changed
}

// propagate applies the table-wide rules until a pass changes nothing and
// returns touched plus every card changed on the way.
func (e *Engine) propagate(touched CardSet) CardSet {
	all := touched
	for {
		var changed CardSet
		for _, c := range touched.Cards() {
			changed |= e.settleOwner(c)
		}
		for cat := 0; cat < e.reg.NumCategories(); cat++ {
			changed |= e.closeCategory(Category(cat))
		}
		changed |= e.eliminateSharedClauses()

		if changed.IsEmpty() {
			return all
		}
		all |= changed
		touched = changed
	}
}

// settleOwner enforces that every card has exactly one holder.
func (e *Engine) settleOwner(c Card) CardSet {
	var changed CardSet
	if owner := e.ownerOf(c); owner >= 0 {
		for i := range e.players {
			if i != owner && e.players[i].Ownership(c) == OwnershipUnknown {
				changed |= e.learn(i, c, false)
			}
		}
		return changed
	}

	slot, open := -1, 0
	for i := range e.players {
		if e.players[i].Ownership(c) == OwnershipUnknown {
			slot = i
			open++
		}
	}
	switch open {
	case 0:
		e.logger.Warn("card has no possible holder", zap.String("card", e.reg.Name(c)))
	case 1:
		e.logger.Debug("card has a single possible holder",
			zap.String("card", e.reg.Name(c)),
			zap.Int("player", slot),
		)
		changed |= e.learn(slot, c, true)
	}
	return changed
}

// closeCategory places the last unaccounted card of a category in the case
// file.
func (e *Engine) closeCategory(cat Category) CardSet {
	sol := e.SolutionPlayer()
	cards := e.reg.CardsOf(cat)
	if e.players[sol].Has.Overlaps(cards) {
		return 0
	}

	var held CardSet
	for i := 0; i < sol; i++ {
		held |= e.players[i].Has
	}
	rest := cards.Minus(held)
	if rest.Len() != 1 {
		rest = cards.Minus(e.players[sol].NotHas)
	}
	if rest.Len() != 1 {
		return 0
	}
	c, _ := rest.First()
	e.logger.Debug("category resolved",
		zap.String("category", e.reg.CategoryName(cat)),
		zap.String("card", e.reg.Name(c)),
	)
	return e.learn(sol, c, true)
}

// eliminateSharedClauses handles k real players holding the same k-card
// clause: those cards are all spoken for, so nobody else holds them.
func (e *Engine) eliminateSharedClauses() CardSet {
	holders := make(map[CardSet][]int)
	var order []CardSet
	for i := 0; i < e.NumPlayers(); i++ {
		for _, cl := range e.players[i].Clauses {
			if _, seen := holders[cl]; !seen {
				order = append(order, cl)
			}
			holders[cl] = append(holders[cl], i)
		}
	}

	var changed CardSet
	for _, cl := range order {
		who := holders[cl]
		if len(who) != cl.Len() {
			continue
		}
		for i := range e.players {
			if slices.Contains(who, i) {
				continue
			}
			for _, c := range cl.Cards() {
				if e.players[i].Ownership(c) == OwnershipUnknown {
					changed |= e.learn(i, c, false)
				}
			}
		}
	}
	return changed
}
