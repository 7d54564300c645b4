// Package ids produces the namespaced identifiers used across the case store.
package ids

import (
	"fmt"
	"sync"
	"time"
)

// Generator issues identifiers for cases, quotes, payments and documents.
// Case ids are FP<year><3-digit sequence>; the others are a type prefix plus
// a millisecond timestamp. Two ids requested within the same millisecond get
// a monotonically increasing suffix so they cannot collide in-process. The
// caller supplies the clock reading, so ids and record timestamps come from
// one clock.
type Generator struct {
	mu        sync.Mutex
	lastStamp int64
	seq       int
}

func NewGenerator() *Generator {
	return &Generator{}
}

// CaseID formats the case identifier for the given creation time and
// sequence number.
func (g *Generator) CaseID(at time.Time, sequence int) string {
	return fmt.Sprintf("FP%d%03d", at.UTC().Year(), sequence)
}

func (g *Generator) QuoteID(at time.Time) string    { return g.stamped("Q", at) }
func (g *Generator) PaymentID(at time.Time) string  { return g.stamped("P", at) }
func (g *Generator) DocumentID(at time.Time) string { return g.stamped("D", at) }

func (g *Generator) stamped(prefix string, at time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ms := at.UnixMilli()
	if ms == g.lastStamp {
		g.seq++
		return fmt.Sprintf("%s%d-%d", prefix, ms, g.seq)
	}
	g.lastStamp = ms
	g.seq = 0
	return fmt.Sprintf("%s%d", prefix, ms)
}
