// Package lcp is the service facade: it orchestrates license opening,
// passphrase unlocking, stream decryption, rights, and acquisition,
// owning the profile registry, the CRL cache and all open handles (spec
// §4.9). Grounded on the handle-registry shape of the teacher's
// pkg/manager.Manager (a single owner holding a locked map of live
// objects, each independently serialized).
package lcp

import (
	"sync"
	"time"

	"github.com/readium/lcp-client-go/pkg/crl"
	"github.com/readium/lcp-client-go/pkg/decrypt"
	"github.com/readium/lcp-client-go/pkg/keyprovider"
	"github.com/readium/lcp-client-go/pkg/lcplog"
	"github.com/readium/lcp-client-go/pkg/license"
	"github.com/readium/lcp-client-go/pkg/metrics"
	"github.com/readium/lcp-client-go/pkg/profile"
	"github.com/readium/lcp-client-go/pkg/rights"
	"github.com/readium/lcp-client-go/pkg/status"
)

// Service is the facade entry point hosts interact with.
type Service struct {
	profiles *profile.Registry
	crls     *crl.Cache
	rights   *rights.Manager

	mu      sync.RWMutex
	handles map[HandleID]*handle
}

// NewService builds a facade over a pre-built profile registry, CRL
// cache and rights manager (spec §9 "no implicit singleton" — all three
// are constructed by the host and handed in explicitly).
func NewService(profiles *profile.Registry, crls *crl.Cache, rightsMgr *rights.Manager) *Service {
	return &Service{
		profiles: profiles,
		crls:     crls,
		rights:   rightsMgr,
		handles:  make(map[HandleID]*handle),
	}
}

// OpenLicense parses and verifies a license document, returning an
// opaque handle on success. No content-key material is available until
// AddPassphrase succeeds.
func (s *Service) OpenLicense(raw []byte) (HandleID, error) {
	lic, err := license.Parse(raw)
	if err != nil {
		metrics.LicenseOpensTotal.WithLabelValues("malformed").Inc()
		return "", err
	}

	now := time.Now()
	if err := license.Verify(lic, s.profiles, s.crls, now); err != nil {
		metrics.LicenseOpensTotal.WithLabelValues("verify_failed").Inc()
		return "", err
	}

	set, err := rights.ParseSet(lic.Rights)
	if err != nil {
		metrics.LicenseOpensTotal.WithLabelValues("malformed").Inc()
		return "", err
	}
	if err := s.rights.CheckTimeWindow(set, now); err != nil {
		metrics.LicenseOpensTotal.WithLabelValues("rights_expired").Inc()
		return "", err
	}

	prof, err := s.profiles.Lookup(lic.Encryption.Profile)
	if err != nil {
		return "", err
	}

	h := &handle{
		id:       newHandleID(),
		license:  lic,
		profile:  prof,
		rights:   set,
		openedAt: now,
	}

	s.mu.Lock()
	s.handles[h.id] = h
	s.mu.Unlock()

	metrics.LicenseOpensTotal.WithLabelValues("ok").Inc()
	lcplog.WithLicense(lic.ID).Info().Msg("license opened")
	return h.id, nil
}

// AddPassphrase checks a candidate passphrase against the handle's
// license and, on success, unwraps and stores the content key. A failed
// check leaves no content-key material reachable (spec §4.5 ordering).
func (s *Service) AddPassphrase(id HandleID, passphrase string) error {
	h, err := s.lookup(id)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	uk := keyprovider.DeriveUserKey(h.profile, passphrase)
	ok, err := keyprovider.CheckUserKey(h.license, uk)
	if err != nil {
		return err
	}
	if !ok {
		return status.New(status.UserKeyCheckFailed, "passphrase does not match license")
	}

	cek, err := keyprovider.UnwrapContentKey(h.license, uk)
	if err != nil {
		return err
	}
	h.cek = cek
	return nil
}

// DecryptStream returns a random-access plaintext view over resource,
// using the handle's content key. The returned stream observes the CEK
// as of this call (spec §5 "sees the CEK at creation time").
func (s *Service) DecryptStream(id HandleID, resource decrypt.Source) (*decrypt.Stream, error) {
	h, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cek == nil {
		return nil, status.New(status.ContentKeyDecryptFailed, "content key not unlocked: call AddPassphrase first")
	}

	return decrypt.New(resource, h.cek), nil
}

// Rights returns the handle's current rights view.
func (s *Service) Rights(id HandleID) (rights.Set, error) {
	h, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rights, nil
}

// Consume decrements a countable right on the handle's license.
func (s *Service) Consume(id HandleID, name string, delta int64) error {
	h, err := s.lookup(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	err = s.rights.Consume(h.rights, h.license.ID, name, delta)
	result := "ok"
	if err != nil {
		result = "denied"
	}
	metrics.RightsConsumeTotal.WithLabelValues(name, result).Inc()
	return err
}

// Acquire builds an idle acquisition driven by fetcher, reporting
// progress to cb (spec §4.8). It does not start the download; the caller
// starts it with Run.
func (s *Service) Acquire(id HandleID, fetcher HTTPFetcher, url, destPath string, cb AcquisitionCallback) (*Acquisition, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	acq := NewAcquisition(fetcher, url, destPath, cb)
	return acq, nil
}

// Close releases a handle, zeroing its content key bytes atomically with
// its removal from the registry.
func (s *Service) Close(id HandleID) error {
	s.mu.Lock()
	h, ok := s.handles[id]
	if !ok {
		s.mu.Unlock()
		return status.New(status.ContextInvalid, "unknown handle")
	}
	delete(s.handles, id)
	s.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.zeroCEK()
	return nil
}

func (s *Service) lookup(id HandleID) (*handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, status.New(status.ContextInvalid, "unknown handle")
	}
	return h, nil
}
