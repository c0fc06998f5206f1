package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// genID returns a time-ordered identifier with the given prefix: a
// nanosecond timestamp, a process-local counter and random bytes. Sortable
// by creation time and collision-safe across processes.
func genID(prefix string) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("%s_%d_%d_%s", prefix, time.Now().UTC().UnixNano(), s%1000000, hex.EncodeToString(b[:]))
}

// GenSessionID returns a new session (room) identifier.
func GenSessionID() string { return genID("sess") }

// GenAnnotationID returns a new annotation identifier.
func GenAnnotationID() string { return genID("ann") }

// GenMessageID returns a new chat message identifier.
func GenMessageID() string { return genID("msg") }

// GenActionID returns a new local queued-action identifier.
func GenActionID() string { return genID("act") }
