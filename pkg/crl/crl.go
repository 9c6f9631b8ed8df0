// Package crl fetches, caches and queries certificate-revocation lists,
// following the teacher's reader/writer cache pattern (pkg/security's
// CertAuthority.certCache) generalized to a TTL-bounded, per-issuer
// document cache backed by github.com/hashicorp/golang-lru, with
// concurrent fetches for the same issuer collapsed by
// golang.org/x/sync/singleflight and revoked-serial membership answered
// in O(log n) via github.com/google/btree (spec §4.3).
package crl

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/readium/lcp-client-go/pkg/canonicaljson"
	"github.com/readium/lcp-client-go/pkg/certificate"
	lcpcrypto "github.com/readium/lcp-client-go/pkg/crypto"
	"github.com/readium/lcp-client-go/pkg/metrics"
	"github.com/readium/lcp-client-go/pkg/status"
)

// Fetcher retrieves the raw bytes of a CRL document from a distribution
// point URL. The network fetcher itself is an external collaborator
// (spec §1 Out of scope); this package only consumes the interface.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// signature mirrors the license's signature member shape (spec §6), used
// to verify a CRL document the same way a license is verified.
type signature struct {
	Algorithm   string `json:"algorithm"`
	Certificate string `json:"certificate"`
	Value       string `json:"value"`
}

type rawDoc struct {
	Issuer         string    `json:"issuer"`
	ThisUpdate     time.Time `json:"thisUpdate"`
	NextUpdate     time.Time `json:"nextUpdate"`
	RevokedSerials []string  `json:"revoked_serials"`
	Signature      signature `json:"signature"`
}

// List is a parsed, verified CRL: a signed, time-bounded set of revoked
// serials for one issuer (spec §3).
type List struct {
	Issuer     string
	ThisUpdate time.Time
	NextUpdate time.Time
	Revoked    *btree.BTreeG[*big.Int]
}

func serialLess(a, b *big.Int) bool { return a.Cmp(b) < 0 }

// Contains reports whether serial is present in the revoked set,
// O(log n) (spec §4.3).
func (l *List) Contains(serial *big.Int) bool {
	return l.Revoked.Has(serial)
}

// parseAndVerify decodes and verifies a CRL document's signature against
// root, returning the parsed List on success.
func parseAndVerify(raw []byte, root *certificate.Certificate) (*List, error) {
	var doc rawDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, status.Malformed("CRL document decode", err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, status.Malformed("CRL document decode", err)
	}
	canon, err := canonicaljson.Canonicalize(generic, "signature")
	if err != nil {
		return nil, status.Malformed("CRL canonicalization", err)
	}

	signer, err := certificate.ParseBase64DER(doc.Signature.Certificate)
	if err != nil {
		return nil, status.Malformed("CRL signer certificate", err)
	}
	if err := signer.VerifyAgainst(root); err != nil {
		return nil, err
	}

	sigBytes, err := lcpcrypto.Base64ToBytes(doc.Signature.Value)
	if err != nil {
		return nil, status.Malformed("CRL signature value", err)
	}
	digestOID, err := algorithmURIToOID(doc.Signature.Algorithm)
	if err != nil {
		return nil, status.New(status.CertSigAlgoNotFound, err.Error())
	}
	if err := signer.VerifyMessage(canon, sigBytes, digestOID); err != nil {
		return nil, err
	}

	tree := btree.NewG(32, serialLess)
	for _, s := range doc.RevokedSerials {
		serial, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, status.Malformed("CRL revoked serial", fmt.Errorf("invalid serial %q", s))
		}
		tree.ReplaceOrInsert(serial)
	}

	return &List{
		Issuer:     doc.Issuer,
		ThisUpdate: doc.ThisUpdate,
		NextUpdate: doc.NextUpdate,
		Revoked:    tree,
	}, nil
}

func algorithmURIToOID(uri string) (string, error) {
	switch uri {
	case "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256", lcpcrypto.OIDSHA256WithRSA:
		return lcpcrypto.OIDSHA256WithRSA, nil
	case "http://www.w3.org/2000/09/xmldsig#rsa-sha1", lcpcrypto.OIDSHA1WithRSA:
		return lcpcrypto.OIDSHA1WithRSA, nil
	default:
		return "", fmt.Errorf("unsupported signature algorithm URI %q", uri)
	}
}

type cacheEntry struct {
	list      *List
	fetchedAt time.Time
}

// Cache is the shared, per-issuer CRL cache (spec §5 "shared across
// licenses... many readers, single writer").
type Cache struct {
	mu    sync.RWMutex
	docs  *lru.Cache
	group singleflight.Group

	fetcher      Fetcher
	ttl          time.Duration
	fetchTimeout time.Duration

	persist *PersistentStore
}

// NewCache builds a CRL cache bounded to size entries.
func NewCache(fetcher Fetcher, size int, ttl, fetchTimeout time.Duration) (*Cache, error) {
	docs, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create CRL cache: %w", err)
	}
	return &Cache{
		docs:         docs,
		fetcher:      fetcher,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
	}, nil
}

// WithPersistence attaches a durable backing store: cache misses consult
// it before falling back to a network fetch, and successful fetches are
// written through to it, so CRL state survives a process restart.
func (c *Cache) WithPersistence(store *PersistentStore) *Cache {
	c.persist = store
	return c
}

// IsRevoked answers whether serial is revoked for the certificate's
// issuer, fetching/refreshing the CRL as needed (spec §4.3, §4.4 step 3,
// §8 "no network fetch occurs" testable property).
//
// dp is the certificate's CRL distribution point URL list; per spec §9's
// resolved open question, revocation is required whenever dp is
// non-empty and skipped (not failed) when the certificate declares none.
func (c *Cache) IsRevoked(ctx context.Context, issuerKey string, dp []string, serial *big.Int, root *certificate.Certificate, now time.Time) (bool, error) {
	if len(dp) == 0 {
		return false, nil
	}

	if list, fresh := c.freshCached(issuerKey, now); fresh {
		metrics.CRLCacheHitsTotal.Inc()
		return list.Contains(serial), nil
	}
	metrics.CRLCacheMissesTotal.Inc()

	list, err := c.refresh(ctx, issuerKey, dp, root, now)
	if err != nil {
		// A fetch failure with a stale-but-still-inside-its-own-window
		// cached entry is tolerated; outside that window the open fails
		// closed (spec §4.3).
		if list, ok := c.staleCached(issuerKey, now); ok {
			return list.Contains(serial), nil
		}
		return true, status.Wrap(status.LicenseNetworkError, "CRL fetch failed", err)
	}
	return list.Contains(serial), nil
}

func (c *Cache) freshCached(issuerKey string, now time.Time) (*List, bool) {
	entry, ok := c.lookupEntry(issuerKey)
	if !ok {
		return nil, false
	}
	if now.Before(entry.list.ThisUpdate) || now.After(entry.list.NextUpdate) {
		return entry.list, false
	}
	if now.Sub(entry.fetchedAt) > c.ttl {
		return entry.list, false
	}
	return entry.list, true
}

// lookupEntry resolves an issuer's cached entry from the in-memory LRU,
// falling back to the durable store (and repopulating the LRU) when the
// process has just restarted and the LRU is cold.
func (c *Cache) lookupEntry(issuerKey string) (*cacheEntry, bool) {
	c.mu.RLock()
	v, ok := c.docs.Get(issuerKey)
	c.mu.RUnlock()
	if ok {
		return v.(*cacheEntry), true
	}

	if c.persist == nil {
		return nil, false
	}
	entry, found, err := c.persist.load(issuerKey)
	if err != nil || !found {
		return nil, false
	}

	c.mu.Lock()
	c.docs.Add(issuerKey, entry)
	c.mu.Unlock()
	return entry, true
}

// staleCached returns a cached entry regardless of freshness, as long as
// the current time still falls within the CRL's own validity window
// (spec §4.3 "previously cached CRL inside its freshness window").
func (c *Cache) staleCached(issuerKey string, now time.Time) (*List, bool) {
	entry, ok := c.lookupEntry(issuerKey)
	if !ok {
		return nil, false
	}
	if now.Before(entry.list.ThisUpdate) || now.After(entry.list.NextUpdate) {
		return nil, false
	}
	return entry.list, true
}

func (c *Cache) refresh(ctx context.Context, issuerKey string, dp []string, root *certificate.Certificate, now time.Time) (*List, error) {
	v, err, _ := c.group.Do(issuerKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()

		var lastErr error
		for _, url := range dp {
			raw, err := c.fetcher.Fetch(fetchCtx, url)
			if err != nil {
				metrics.CRLFetchesTotal.WithLabelValues(issuerKey, "error").Inc()
				lastErr = err
				continue
			}
			list, err := parseAndVerify(raw, root)
			if err != nil {
				metrics.CRLFetchesTotal.WithLabelValues(issuerKey, "error").Inc()
				lastErr = err
				continue
			}
			metrics.CRLFetchesTotal.WithLabelValues(issuerKey, "ok").Inc()

			entry := &cacheEntry{list: list, fetchedAt: now}
			c.mu.Lock()
			c.docs.Add(issuerKey, entry)
			c.mu.Unlock()
			if c.persist != nil {
				// A durability write failure doesn't fail this lookup; the
				// freshly fetched list is already usable from the LRU.
				_ = c.persist.save(issuerKey, entry)
			}
			return list, nil
		}
		return nil, fmt.Errorf("all distribution points failed: %w", lastErr)
	})
	if err != nil {
		return nil, err
	}
	return v.(*List), nil
}
