package engine

import (
	"go.uber.org/zap"
)

// UnknownNumCards marks a hand size that has not been declared.
const UnknownNumCards = -1

// PlayerData is everything known about one player's hand.
type PlayerData struct {
	// Has holds the cards the player is known to hold.
	Has CardSet
	// NotHas holds the cards the player is known not to hold.
	NotHas CardSet
	// Clauses are disjunctions: the player holds at least one card of
	// each. Every stored clause has two or more cards, none of them in
	// Has or NotHas.
	Clauses []CardSet
	// NumCards is the hand size, or UnknownNumCards.
	NumCards int
	// IsSolution marks the case-file pseudo player.
	IsSolution bool
}

func newPlayerData(numCards int, isSolution bool) PlayerData {
	return PlayerData{NumCards: numCards, IsSolution: isSolution}
}

func (p *PlayerData) clone() PlayerData {
	cp := *p
	cp.Clauses = nil
	if len(p.Clauses) > 0 {
		cp.Clauses = append([]CardSet(nil), p.Clauses...)
	}
	return cp
}

// Ownership returns what is known about a single card.
func (p *PlayerData) Ownership(c Card) Ownership {
	switch {
	case p.Has.Contains(c):
		return OwnershipOwned
	case p.NotHas.Contains(c):
		return OwnershipRejected
	default:
		return OwnershipUnknown
	}
}

// Unknown returns the cards that are neither known held nor known absent.
func (p *PlayerData) Unknown(all CardSet) CardSet {
	return all.Minus(p.Has).Minus(p.NotHas)
}

// scope carries what a player's belief store needs while propagating and
// collects the cards whose status changed.
type scope struct {
	reg     *Registry
	logger  *zap.Logger
	player  int
	changed CardSet
}

// learn records that the player holds (or does not hold) a card and
// simplifies the clauses around it.
func (p *PlayerData) learn(s *scope, c Card, has bool) {
	if has {
		if p.Has.Contains(c) {
			return
		}
		if p.NotHas.Contains(c) {
			s.logger.Warn("conflicting fact",
				zap.Int("player", s.player),
				zap.String("card", s.reg.Name(c)),
				zap.Bool("has", has),
			)
		}
		p.Has = p.Has.With(c)
	} else {
		if p.NotHas.Contains(c) {
			return
		}
		if p.Has.Contains(c) {
			s.logger.Warn("conflicting fact",
				zap.Int("player", s.player),
				zap.String("card", s.reg.Name(c)),
				zap.Bool("has", has),
			)
		}
		p.NotHas = p.NotHas.With(c)
	}
	s.changed = s.changed.With(c)

	p.examineClauses(s, c)

	// The case file holds exactly one card of each category.
	if has && p.IsSolution {
		cat := s.reg.CategoryOf(c)
		for _, other := range s.reg.CardsOf(cat).Without(c).Cards() {
			p.learn(s, other, false)
		}
	}
}

// hasOneOf records that the player holds at least one of the cards.
func (p *PlayerData) hasOneOf(s *scope, cards CardSet) {
	if cards.Overlaps(p.Has) {
		// Already satisfied, nothing new.
		return
	}
	clause := cards.Minus(p.NotHas)
	switch clause.Len() {
	case 0:
		s.logger.Warn("clause contradicts known facts",
			zap.Int("player", s.player),
			zap.Strings("cards", s.reg.Names(cards)),
		)
	case 1:
		c, _ := clause.First()
		p.learn(s, c, true)
	default:
		p.Clauses = append(p.Clauses, clause)
		p.examineClauses(s, NoCard)
	}
}

// examineClauses brings the clauses and the hand up to date after c
// changed status (or after a clause was added, when c is NoCard).
func (p *PlayerData) examineClauses(s *scope, c Card) {
	p.Clauses = eliminateSubsumed(p.Clauses)

	if c != NoCard {
		var forced []Card
		kept := p.Clauses[:0]
		for _, clause := range p.Clauses {
			if !clause.Contains(c) {
				kept = append(kept, clause)
				continue
			}
			if p.Has.Contains(c) {
				continue
			}
			clause = clause.Without(c)
			if clause.Len() == 1 {
				only, _ := clause.First()
				forced = append(forced, only)
				continue
			}
			kept = append(kept, clause)
		}
		p.Clauses = eliminateSubsumed(kept)
		for _, f := range forced {
			p.learn(s, f, true)
		}
	}

	if p.NumCards == UnknownNumCards {
		return
	}

	// A full hand rules out everything else.
	if p.Has.Len() == p.NumCards {
		for _, other := range p.Unknown(s.reg.Cards()).Cards() {
			p.learn(s, other, false)
		}
		return
	}

	if len(p.Clauses) > 0 && p.Has.Len()+len(p.Clauses) > p.NumCards {
		if x, ok := forcedCard(p.Clauses, p.NumCards-p.Has.Len()); ok {
			s.logger.Debug("card forced by hand size",
				zap.Int("player", s.player),
				zap.String("card", s.reg.Name(x)),
			)
			p.learn(s, x, true)
		}
	}
}
