package engine

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTrials is the total number of deals attempted by Simulate.
const DefaultTrials = 2000

// SimulationOptions tunes Simulate. The zero value is usable.
type SimulationOptions struct {
	// Trials is the total number of deals, spread evenly over the
	// candidate solutions. Defaults to DefaultTrials.
	Trials int
	// Workers bounds how many candidate solutions are simulated at once.
	// Defaults to GOMAXPROCS.
	Workers int
	// Seed makes runs reproducible. Zero seeds from the clock.
	Seed uint64
}

// Simulation holds raw ownership counts from consistent deals.
type Simulation struct {
	// Counts has a row for every card with one column per player, the
	// solution player last.
	Counts map[Card][]int
	// Consistent is the number of deals that satisfied every constraint.
	Consistent int
	// Attempted is the number of deals tried.
	Attempted int
}

// Probability returns the share of consistent deals in which player held
// card.
func (s *Simulation) Probability(card Card, player int) float64 {
	row, ok := s.Counts[card]
	if !ok || s.Consistent == 0 || player < 0 || player >= len(row) {
		return 0
	}
	return float64(row[player]) / float64(s.Consistent)
}

func (e *Engine) newSimulation() *Simulation {
	sim := &Simulation{Counts: make(map[Card][]int, e.reg.Size())}
	for _, c := range e.reg.Cards().Cards() {
		sim.Counts[c] = make([]int, len(e.players))
	}
	return sim
}

func (s *Simulation) merge(o *Simulation) {
	for c, row := range o.Counts {
		dst := s.Counts[c]
		for i, v := range row {
			dst[i] += v
		}
	}
	s.Consistent += o.Consistent
	s.Attempted += o.Attempted
}

// Simulate estimates who holds each card by dealing the unknown cards at
// random many times and counting the deals that agree with everything
// known. The table is all zeros when a real player's hand size is unknown.
func (e *Engine) Simulate(ctx context.Context, opts SimulationOptions) (*Simulation, error) {
	result := e.newSimulation()
	for i := 0; i < e.NumPlayers(); i++ {
		if e.players[i].NumCards == UnknownNumCards {
			e.logger.Debug("simulation skipped: unknown hand size", zap.Int("player", i))
			return result, nil
		}
	}

	if opts.Trials <= 0 {
		opts.Trials = DefaultTrials
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}

	candidates := e.candidateSolutions()
	if len(candidates) == 0 {
		return result, nil
	}
	perCandidate := max(opts.Trials/len(candidates), 1)

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, cand := range candidates {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
			local, err := e.simulateCandidate(ctx, cand, perCandidate, rng)
			if err != nil {
				return err
			}
			mu.Lock()
			result.merge(local)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("simulation finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("attempted", result.Attempted),
		zap.Int("consistent", result.Consistent),
	)
	return result, nil
}

// candidateSolutions lists every combination of one card per category that
// the solution player has not ruled out.
func (e *Engine) candidateSolutions() [][]Card {
	sol := &e.players[e.SolutionPlayer()]
	combos := [][]Card{nil}
	for cat := 0; cat < e.reg.NumCategories(); cat++ {
		open := e.reg.CardsOf(Category(cat)).Minus(sol.NotHas).Cards()
		next := make([][]Card, 0, len(combos)*len(open))
		for _, prefix := range combos {
			for _, c := range open {
				combo := append(append([]Card(nil), prefix...), c)
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

func (e *Engine) simulateCandidate(ctx context.Context, solution []Card, trials int, rng *rand.Rand) (*Simulation, error) {
	local := e.newSimulation()

	base := e.Clone()
	base.logger = zap.NewNop()
	var changed CardSet
	for _, c := range solution {
		changed |= base.learn(base.SolutionPlayer(), c, true)
	}
	base.propagate(changed)
	if !base.IsConsistent() {
		return local, nil
	}

	for t := 0; t < trials; t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local.Attempted++
		deal := base.Clone()
		if !deal.dealRemaining(rng) {
			continue
		}
		local.Consistent++
		for i := range deal.players {
			for _, c := range deal.players[i].Has.Cards() {
				local.Counts[c][i]++
			}
		}
	}
	return local, nil
}

// dealRemaining hands out every unowned card. Each real player but the
// last draws at random from the cards it has not ruled out; the last
// player takes what is left. It reports whether the deal is consistent.
func (e *Engine) dealRemaining(rng *rand.Rand) bool {
	last := e.NumPlayers() - 1
	for i := 0; i < last; i++ {
		p := &e.players[i]
		for p.Has.Len() < p.NumCards {
			eligible := e.unowned().Minus(p.NotHas).Cards()
			if len(eligible) == 0 {
				return false
			}
			c := eligible[rng.IntN(len(eligible))]
			e.propagate(e.learn(i, c, true))
		}
	}

	var changed CardSet
	for _, c := range e.unowned().Cards() {
		changed |= e.learn(last, c, true)
	}
	e.propagate(changed)

	if !e.IsConsistent() {
		return false
	}
	for i := range e.players {
		if n := e.players[i].NumCards; n != UnknownNumCards && e.players[i].Has.Len() != n {
			return false
		}
	}
	return true
}

func (e *Engine) unowned() CardSet {
	owned := CardSet(0)
	for i := range e.players {
		owned |= e.players[i].Has
	}
	return e.reg.Cards().Minus(owned)
}
