package solver

import (
	"time"

	"github.com/cluesolver/clue-server-go/internal/engine"
	"github.com/cluesolver/clue-server-go/internal/history"
	"github.com/cluesolver/clue-server-go/internal/satcheck"
)

// Status is what is known about where a card is.
type Status int

const (
	StatusUnknown  Status = 0
	StatusOwned    Status = 1
	StatusSolution Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOwned:
		return "owned"
	case StatusSolution:
		return "solution"
	default:
		return "unknown"
	}
}

// CardInfo describes one card. Owner holds the single owner when the
// card's place is known and every possible holder otherwise.
type CardInfo struct {
	Card   string `json:"card"`
	Status Status `json:"status"`
	Owner  []int  `json:"owner"`
}

// Deduction is a fact the exact solver proved.
type Deduction struct {
	Player int    `json:"player"`
	Card   string `json:"card"`
	Has    bool   `json:"has"`
}

// SimulationResult reports Monte-Carlo ownership counts per card, one
// column per player with the case file last.
type SimulationResult struct {
	Counts     map[string][]int `json:"counts"`
	Consistent int              `json:"consistent"`
	Attempted  int              `json:"attempted"`
}

// Response is returned for every action.
type Response struct {
	GameID     string     `json:"gameId,omitempty"`
	Session    string     `json:"session"`
	NewInfo    []CardInfo `json:"newInfo"`
	Consistent bool       `json:"isConsistent"`
	// Solution lists the case file cards known so far.
	Solution []string `json:"solution,omitempty"`

	Simulation  *SimulationResult `json:"simData,omitempty"`
	Deductions  []Deduction       `json:"deductions,omitempty"`
	Satisfiable *bool             `json:"satisfiable,omitempty"`
	// Example maps every card to its holder in one deal consistent with
	// the beliefs.
	Example map[string]int  `json:"example,omitempty"`
	History []history.Entry `json:"history,omitempty"`
	Cursor  *int            `json:"cursor,omitempty"`
}

// Event is published after a stored game changes.
type Event struct {
	GameID   string    `json:"gameId"`
	Action   string    `json:"action"`
	Response *Response `json:"response"`
	At       time.Time `json:"at"`
}

func cardInfo(e *engine.Engine, c engine.Card) CardInfo {
	reg := e.Registry()
	owners, _ := e.WhoHasCard(c)
	info := CardInfo{Card: reg.Name(c), Status: StatusUnknown, Owner: owners}
	if info.Owner == nil {
		info.Owner = []int{}
	}
	if len(owners) == 1 {
		if own, _ := e.PlayerHasCard(owners[0], c); own == engine.OwnershipOwned {
			info.Status = StatusOwned
			if owners[0] == e.SolutionPlayer() {
				info.Status = StatusSolution
			}
		}
	}
	return info
}

func cardInfos(e *engine.Engine, cards engine.CardSet) []CardInfo {
	out := make([]CardInfo, 0, cards.Len())
	for _, c := range cards.Cards() {
		out = append(out, cardInfo(e, c))
	}
	return out
}

func simulationResult(reg *engine.Registry, sim *engine.Simulation) *SimulationResult {
	out := &SimulationResult{
		Counts:     make(map[string][]int, len(sim.Counts)),
		Consistent: sim.Consistent,
		Attempted:  sim.Attempted,
	}
	for c, row := range sim.Counts {
		out.Counts[reg.Name(c)] = row
	}
	return out
}

func deductions(reg *engine.Registry, facts []satcheck.Fact) []Deduction {
	out := make([]Deduction, 0, len(facts))
	for _, f := range facts {
		out = append(out, Deduction{Player: f.Player, Card: reg.Name(f.Card), Has: f.Has})
	}
	return out
}
