package stage

import (
	"fmt"
	"sync/atomic"
)

// TurnGenerator hands out sequential turn IDs within a session.
type TurnGenerator struct {
	counter uint64
}

// NewTurnGenerator creates a generator starting at turn 1.
func NewTurnGenerator() *TurnGenerator {
	return &TurnGenerator{}
}

// Next returns the next turn ID for sessionId.
func (g *TurnGenerator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-turn-%d", sessionId, n)
}

// Count returns how many turn IDs have been issued.
func (g *TurnGenerator) Count() uint64 {
	return atomic.LoadUint64(&g.counter)
}
