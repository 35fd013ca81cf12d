package part

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is the sortable identifier of a part: a ULID whose lexicographic order
// equals chronological order. Monotonic entropy breaks ties for parts
// created within the same millisecond, so the process-wide order is total.
type ID string

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID mints an identifier for a part created at ts.
func NewID(ts time.Time) ID {
	idMu.Lock()
	defer idMu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(ts.UTC()), idEntropy).String())
}
