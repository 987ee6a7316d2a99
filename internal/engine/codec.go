package engine

import (
	"strings"
)

// Session layout:
//
//	<numPlayers> then, for every player with the solution player last,
//	<capacity><owned>-<rejected>(-<clause>)*.
//
// Counts are single digits and capacity 0 means unknown. Card groups are
// runs of codes in ordinal order.

// Serialize encodes the engine as a session string. The output is
// deterministic.
func (e *Engine) Serialize() string {
	var b strings.Builder
	b.WriteByte('0' + byte(e.NumPlayers()))
	for i := range e.players {
		p := &e.players[i]
		capacity := p.NumCards
		if capacity == UnknownNumCards {
			capacity = 0
		}
		b.WriteByte('0' + byte(capacity))
		b.WriteString(e.reg.Codes(p.Has))
		b.WriteByte('-')
		b.WriteString(e.reg.Codes(p.NotHas))
		for _, cl := range p.Clauses {
			b.WriteByte('-')
			b.WriteString(e.reg.Codes(cl))
		}
		b.WriteByte('.')
	}
	return b.String()
}

type playerBlock struct {
	capacity int
	has      CardSet
	notHas   CardSet
	clauses  []CardSet
}

type sessionParser struct {
	reg *Registry
	s   string
	pos int
}

func (p *sessionParser) fail(reason string) error {
	return &MalformedSessionError{Pos: p.pos, Remaining: p.s[p.pos:], Reason: reason}
}

func (p *sessionParser) digit() (int, error) {
	if p.pos >= len(p.s) {
		return 0, p.fail("expected a digit, found end of input")
	}
	ch := p.s[p.pos]
	if ch < '0' || ch > '9' {
		return 0, p.fail("expected a digit")
	}
	p.pos++
	return int(ch - '0'), nil
}

// codes reads card codes up to the next '-' or '.', which is not consumed.
func (p *sessionParser) codes() (CardSet, error) {
	var set CardSet
	for p.pos < len(p.s) {
		ch := p.s[p.pos]
		if ch == '-' || ch == '.' {
			return set, nil
		}
		c, err := p.reg.CardFromCode(ch)
		if err != nil {
			return 0, p.fail(err.Error())
		}
		set = set.With(c)
		p.pos++
	}
	return 0, p.fail("unterminated card group")
}

func (p *sessionParser) expect(ch byte) error {
	if p.pos >= len(p.s) {
		return p.fail("expected " + string(ch) + ", found end of input")
	}
	if p.s[p.pos] != ch {
		return p.fail("expected " + string(ch))
	}
	p.pos++
	return nil
}

func (p *sessionParser) block() (playerBlock, error) {
	var b playerBlock
	var err error
	if b.capacity, err = p.digit(); err != nil {
		return b, err
	}
	if b.has, err = p.codes(); err != nil {
		return b, err
	}
	if err = p.expect('-'); err != nil {
		return b, err
	}
	if b.notHas, err = p.codes(); err != nil {
		return b, err
	}
	for {
		if p.pos < len(p.s) && p.s[p.pos] == '.' {
			p.pos++
			return b, nil
		}
		if err = p.expect('-'); err != nil {
			return b, err
		}
		cl, err := p.codes()
		if err != nil {
			return b, err
		}
		b.clauses = append(b.clauses, cl)
	}
}

// Deserialize rebuilds an engine from a session string and returns the
// unconsumed remainder of s. The recorded facts are replayed through the
// usual propagation, so a session that was saved at a fixed point loads
// unchanged.
func Deserialize(s string, opts ...Option) (*Engine, string, error) {
	o := options{reg: Classic}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reg == nil {
		o.reg = Classic
	}

	p := &sessionParser{reg: o.reg, s: s}
	n, err := p.digit()
	if err != nil {
		return nil, "", err
	}
	if n == 0 {
		p.pos--
		return nil, "", p.fail("a session needs at least one player")
	}

	blocks := make([]playerBlock, n+1)
	for i := range blocks {
		if blocks[i], err = p.block(); err != nil {
			return nil, "", err
		}
	}

	caps := make([]int, n+1)
	for i, b := range blocks {
		caps[i] = b.capacity
	}
	e, err := New(n, append(opts, WithCapacities(caps))...)
	if err != nil {
		return nil, "", err
	}

	var changed CardSet
	for i, b := range blocks {
		for _, c := range b.has.Cards() {
			changed |= e.learn(i, c, true)
		}
		for _, c := range b.notHas.Cards() {
			changed |= e.learn(i, c, false)
		}
		for _, cl := range b.clauses {
			changed |= e.hasOneOf(i, cl)
		}
	}
	e.propagate(changed)
	return e, s[p.pos:], nil
}
