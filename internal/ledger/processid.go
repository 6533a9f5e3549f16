package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"InboxRPA/internal/domain"
)

const processIDPrefix = "RPA"

// IDGenerator produces process identifiers from a clock and a random source.
type IDGenerator struct {
	mu     sync.Mutex
	now    func() time.Time
	random io.Reader
}

// NewIDGenerator builds a generator; nil arguments fall back to time.Now and crypto/rand.
func NewIDGenerator(now func() time.Time, random io.Reader) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	if random == nil {
		random = rand.Reader
	}
	return &IDGenerator{now: now, random: random}
}

// Next returns RPA_<date>_<time>_<16 hex chars> taken from a version 4 UUID.
func (g *IDGenerator) Next() domain.ProcessID {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := uuid.NewRandomFromReader(g.random)
	if err != nil {
		// A short read from a custom source should not stop the run.
		id = uuid.New()
	}
	stamp := g.now().Format("20060102_150405")
	return domain.ProcessID(processIDPrefix + "_" + stamp + "_" + hex.EncodeToString(id[:8]))
}
