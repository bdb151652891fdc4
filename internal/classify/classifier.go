package classify

import "sync/atomic"

// Classifier maps one line to its match events. Patterns are compiled once in
// New; Classify is safe for concurrent use.
type Classifier struct {
	ip           []Matcher
	keywords     []Matcher
	skipReserved bool

	suppressed atomic.Int64
}

// New compiles every keyword and IP pattern. An empty ipPatterns slice
// selects the built-in IPv4 matcher. The first pattern that fails to compile
// is returned as a *PatternError.
func New(keywords, ipPatterns []string, skipReserved bool) (*Classifier, error) {
	c := &Classifier{skipReserved: skipReserved}

	if len(ipPatterns) == 0 {
		c.ip = []Matcher{ipv4Matcher{}}
	}
	for i, p := range ipPatterns {
		m, err := NewMatcher(p)
		if err != nil {
			return nil, &PatternError{Kind: KindIP, Index: i, Pattern: p, Err: err}
		}
		c.ip = append(c.ip, m)
	}
	for i, k := range keywords {
		m, err := NewMatcher(k)
		if err != nil {
			return nil, &PatternError{Kind: KindKeyword, Index: i, Pattern: k, Err: err}
		}
		c.keywords = append(c.keywords, m)
	}
	return c, nil
}

// Classify returns the events for line: IP events in pattern order, then
// keyword events in keyword order. A nil result means no match.
func (c *Classifier) Classify(line string) []Event {
	return c.ClassifyInto(nil, line)
}

// ClassifyInto appends the events for line to dst and returns it.
//
// Each IP pattern contributes at most one event (its first match), so two
// patterns matching the same address yield two events for that address.
func (c *Classifier) ClassifyInto(dst []Event, line string) []Event {
	for _, m := range c.ip {
		addr, ok := m.Find(line)
		if !ok {
			continue
		}
		if c.skipReserved && IsReserved(addr) {
			c.suppressed.Add(1)
			continue
		}
		dst = append(dst, Event{Kind: KindIP, Key: addr})
	}
	for _, m := range c.keywords {
		if _, ok := m.Find(line); ok {
			dst = append(dst, Event{Kind: KindKeyword, Key: m.Pattern()})
		}
	}
	return dst
}

// Suppressed returns how many IP matches were dropped as reserved.
func (c *Classifier) Suppressed() int64 { return c.suppressed.Load() }

// IPPatterns returns the effective IP pattern texts.
func (c *Classifier) IPPatterns() []string { return patterns(c.ip) }

// Keywords returns the keyword pattern texts.
func (c *Classifier) Keywords() []string { return patterns(c.keywords) }

func patterns(ms []Matcher) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Pattern()
	}
	return out
}
