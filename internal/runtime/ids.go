package runtime

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGenerator hands out lexically sortable ULIDs. Monotonic entropy is not
// safe for concurrent use, hence the mutex.
type idGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDGenerator() *idGenerator {
	return &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGenerator) New(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), g.entropy).String()
}
