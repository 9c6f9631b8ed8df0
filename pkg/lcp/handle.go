package lcp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/readium/lcp-client-go/pkg/keyprovider"
	"github.com/readium/lcp-client-go/pkg/license"
	"github.com/readium/lcp-client-go/pkg/profile"
	"github.com/readium/lcp-client-go/pkg/rights"
)

// HandleID identifies an open license handle.
type HandleID string

func newHandleID() HandleID {
	return HandleID(uuid.NewString())
}

// handle is one opened, verified license and whatever key material and
// rights view its passphrase has unlocked so far. Per spec §5, a
// handle's own mutex serializes operations against it; facade-level
// bookkeeping (adding/removing a handle from the registry) is guarded
// separately by Service.mu, and lock order is always facade → handle →
// CRL cache, never reversed.
type handle struct {
	mu sync.Mutex

	id       HandleID
	license  *license.License
	profile  *profile.Profile
	rights   rights.Set
	openedAt time.Time

	cek keyprovider.ContentKey // nil until a passphrase check succeeds
}

// zeroCEK overwrites the content key bytes in place before dropping the
// reference, so closing a handle leaves no plaintext key material
// reachable (spec §4.9 "closing a handle releases its CEK... atomically").
func (h *handle) zeroCEK() {
	for i := range h.cek {
		h.cek[i] = 0
	}
	h.cek = nil
}
