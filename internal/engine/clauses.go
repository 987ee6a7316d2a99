package engine

// eliminateSubsumed drops every clause that is a superset of another
// clause. Of two identical clauses the later one is dropped. The input
// slice is reused.
func eliminateSubsumed(clauses []CardSet) []CardSet {
	for {
		removed := false
		for i := 0; i < len(clauses) && !removed; i++ {
			for j := range clauses {
				if i == j {
					continue
				}
				if clauses[j].IsSubsetOf(clauses[i]) && (clauses[j] != clauses[i] || j < i) {
					clauses = append(clauses[:i], clauses[i+1:]...)
					removed = true
					break
				}
			}
		}
		if !removed {
			return clauses
		}
	}
}

// unionOf returns every card mentioned by the clauses.
func unionOf(clauses []CardSet) CardSet {
	var u CardSet
	for _, c := range clauses {
		u |= c
	}
	return u
}

// satisfiable reports whether the clauses can all be satisfied by at most
// k distinct witness cards, where a witness satisfies every clause that
// contains it.
//
// The search branches on the cards of the first clause, so its cost is
// exponential in k in the worst case. Hand sizes keep k small.
func satisfiable(clauses []CardSet, k int) bool {
	if len(clauses) == 0 {
		return true
	}
	for _, c := range clauses {
		if c.IsEmpty() {
			return false
		}
	}
	if k <= 0 {
		return false
	}
	// One witness per clause is always enough.
	if len(clauses) <= k {
		return true
	}

	rest := make([]CardSet, 0, len(clauses)-1)
	for _, witness := range clauses[0].Cards() {
		rest = rest[:0]
		for _, c := range clauses[1:] {
			if !c.Contains(witness) {
				rest = append(rest, c)
			}
		}
		if satisfiable(rest, k-1) {
			return true
		}
	}
	return false
}

// forcedCard looks for a card the player must hold: a card whose removal
// from every clause leaves clauses that cannot be satisfied within the k
// unknown slots of the hand. The first such card in ordinal order is
// returned.
func forcedCard(clauses []CardSet, k int) (Card, bool) {
	reduced := make([]CardSet, len(clauses))
	for _, x := range unionOf(clauses).Cards() {
		for i, c := range clauses {
			reduced[i] = c.Without(x)
		}
		if !satisfiable(reduced, k) {
			return x, true
		}
	}
	return NoCard, false
}
