// Package satcheck encodes a game's beliefs as a boolean formula and asks a
// SAT solver what they imply. Propagation in the engine is sound but not
// complete; the solver is exact, so it finds every consequence and can
// prove a set of beliefs contradictory.
package satcheck

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"

	"github.com/cluesolver/clue-server-go/internal/engine"
)

const (
	satisfiable   = 1
	unsatisfiable = -1
)

// Fact is a single player/card ownership statement.
type Fact struct {
	Player int
	Card   engine.Card
	Has    bool
}

// Model is the formula for one game state. It is not safe for concurrent
// use.
type Model struct {
	reg     *engine.Registry
	players []engine.PlayerData
	g       *gini.Gini
	owns    [][]z.Lit
	roots   []z.Lit
}

// FromEngine encodes the current beliefs of e:
//   - every card has exactly one holder
//   - the case file holds exactly one card per category
//   - known hand sizes are exact
//   - known holdings, non-holdings and clauses hold
func FromEngine(e *engine.Engine) *Model {
	reg := e.Registry()
	n := e.NumPlayers() + 1
	cards := reg.Cards().Cards()

	m := &Model{
		reg:     reg,
		players: make([]engine.PlayerData, n),
		owns:    make([][]z.Lit, n),
	}
	c := logic.NewCCap(n * reg.Size() * 8)
	for p := 0; p < n; p++ {
		m.players[p] = e.Player(p)
		m.owns[p] = make([]z.Lit, reg.Size())
		for _, card := range cards {
			m.owns[p][card] = c.Lit()
		}
	}

	exactly := func(ms []z.Lit, k int) {
		cs := c.CardSort(ms)
		m.roots = append(m.roots, cs.Leq(k), cs.Geq(k))
	}

	holders := make([]z.Lit, n)
	for _, card := range cards {
		for p := 0; p < n; p++ {
			holders[p] = m.owns[p][card]
		}
		exactly(holders, 1)
	}

	sol := n - 1
	for cat := 0; cat < reg.NumCategories(); cat++ {
		var ms []z.Lit
		for _, card := range reg.CardsOf(engine.Category(cat)).Cards() {
			ms = append(ms, m.owns[sol][card])
		}
		exactly(ms, 1)
	}

	for p, pd := range m.players {
		if pd.NumCards != engine.UnknownNumCards {
			exactly(m.owns[p], pd.NumCards)
		}
		for _, card := range pd.Has.Cards() {
			m.roots = append(m.roots, m.owns[p][card])
		}
		for _, card := range pd.NotHas.Cards() {
			m.roots = append(m.roots, m.owns[p][card].Not())
		}
		for _, cl := range pd.Clauses {
			var ms []z.Lit
			for _, card := range cl.Cards() {
				ms = append(ms, m.owns[p][card])
			}
			m.roots = append(m.roots, c.Ors(ms...))
		}
	}

	m.g = gini.New()
	c.ToCnf(m.g)
	return m
}

func (m *Model) solve(extra ...z.Lit) int {
	m.g.Assume(m.roots...)
	m.g.Assume(extra...)
	return m.g.Solve()
}

// Satisfiable reports whether at least one deal agrees with every belief.
func (m *Model) Satisfiable() bool {
	return m.solve() == satisfiable
}

// Entailed reports whether every consistent deal agrees with the fact.
// Anything is entailed by unsatisfiable beliefs.
func (m *Model) Entailed(f Fact) bool {
	lit := m.owns[f.Player][f.Card]
	if f.Has {
		lit = lit.Not()
	}
	return m.solve(lit) == unsatisfiable
}

// Example returns the holder of every card in one consistent deal, or false
// when there is none.
func (m *Model) Example() (map[engine.Card]int, bool) {
	if m.solve() != satisfiable {
		return nil, false
	}
	deal := make(map[engine.Card]int, m.reg.Size())
	for p := range m.owns {
		for _, card := range m.reg.Cards().Cards() {
			if m.g.Value(m.owns[p][card]) {
				deal[card] = p
			}
		}
	}
	return deal, true
}

// Deductions lists facts that follow from the beliefs but are not yet
// recorded. It returns nothing for unsatisfiable beliefs.
func (m *Model) Deductions() []Fact {
	if m.solve() != satisfiable {
		return nil
	}
	// Only the value a card takes in this model can possibly be entailed.
	var candidates []Fact
	for p, pd := range m.players {
		for _, card := range m.reg.Cards().Minus(pd.Has).Minus(pd.NotHas).Cards() {
			candidates = append(candidates, Fact{Player: p, Card: card, Has: m.g.Value(m.owns[p][card])})
		}
	}

	var out []Fact
	for _, f := range candidates {
		if m.Entailed(f) {
			out = append(out, f)
		}
	}
	return out
}
