package crl

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/btree"
	bolt "go.etcd.io/bbolt"

	"github.com/readium/lcp-client-go/pkg/status"
)

// persistedList is the on-disk shape of a verified List, so a restarted
// process can serve CRL lookups from the last fetch instead of treating
// every cold cache as a forced refresh. Grounded on the teacher's
// pkg/storage.BoltStore bucket-per-kind persistence pattern, generalized
// from one bucket per orchestration resource kind to one bucket for CRL
// documents keyed by issuer.
type persistedList struct {
	Issuer         string    `json:"issuer"`
	ThisUpdate     time.Time `json:"this_update"`
	NextUpdate     time.Time `json:"next_update"`
	FetchedAt      time.Time `json:"fetched_at"`
	RevokedSerials []string  `json:"revoked_serials"`
}

var bucketCRLDocuments = []byte("crl_documents")

// PersistentStore durably keeps the last verified CRL per issuer, so a
// process restart doesn't force an immediate network fetch before the
// first license open can complete.
type PersistentStore struct {
	db *bolt.DB
}

// NewPersistentStore opens (creating if absent) a bbolt-backed CRL
// document store at path.
func NewPersistentStore(path string) (*PersistentStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "open CRL store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCRLDocuments)
		return err
	})
	if err != nil {
		db.Close()
		return nil, status.Wrap(status.LicenseStorageError, "initialize CRL store", err)
	}
	return &PersistentStore{db: db}, nil
}

func (p *PersistentStore) Close() error { return p.db.Close() }

func (p *PersistentStore) save(issuerKey string, entry *cacheEntry) error {
	serials := make([]string, 0, entry.list.Revoked.Len())
	entry.list.Revoked.Ascend(func(s *big.Int) bool {
		serials = append(serials, s.String())
		return true
	})

	rec := persistedList{
		Issuer:         entry.list.Issuer,
		ThisUpdate:     entry.list.ThisUpdate,
		NextUpdate:     entry.list.NextUpdate,
		FetchedAt:      entry.fetchedAt,
		RevokedSerials: serials,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return status.Wrap(status.LicenseStorageError, "marshal CRL record", err)
	}

	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCRLDocuments)
		return b.Put([]byte(issuerKey), data)
	})
}

func (p *PersistentStore) load(issuerKey string) (*cacheEntry, bool, error) {
	var data []byte
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCRLDocuments)
		v := b.Get([]byte(issuerKey))
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, status.Wrap(status.LicenseStorageError, "read CRL record", err)
	}
	if data == nil {
		return nil, false, nil
	}

	var rec persistedList
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, status.Malformed("CRL record decode", err)
	}

	tree := btree.NewG(32, serialLess)
	for _, s := range rec.RevokedSerials {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			continue
		}
		tree.ReplaceOrInsert(n)
	}

	return &cacheEntry{
		list: &List{
			Issuer:     rec.Issuer,
			ThisUpdate: rec.ThisUpdate,
			NextUpdate: rec.NextUpdate,
			Revoked:    tree,
		},
		fetchedAt: rec.FetchedAt,
	}, true, nil
}
