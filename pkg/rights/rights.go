// Package rights tracks and enforces the countable and time-bounded
// rights a license grants, persisting countable-right state via an
// injected Store (spec §4.6), grounded on the bucket-per-kind BoltDB
// pattern of the teacher's pkg/storage.BoltStore.
package rights

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/readium/lcp-client-go/pkg/status"
)

// Kind discriminates the shape of a right's value (spec §3 "Unknown
// names are preserved and returned verbatim").
type Kind int

const (
	KindUnknown Kind = iota
	KindInt
	KindBool
	KindTime
)

// Value is a single right's typed value.
type Value struct {
	Kind Kind
	Int  int64
	Bool bool
	Time time.Time
	Raw  json.RawMessage
}

// Set is the parsed rights member of a license: right name → value.
type Set map[string]Value

// ParseSet decodes a license's rights member. Known countable/boolean/
// time-bounded names (print, copy, tts, start, end) are typed; anything
// else is kept as raw JSON and returned verbatim.
func ParseSet(raw json.RawMessage) (Set, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, status.Malformed("rights decode", err)
	}

	set := make(Set, len(generic))
	for name, v := range generic {
		switch name {
		case "print", "copy":
			var n int64
			if err := json.Unmarshal(v, &n); err != nil {
				return nil, status.Malformed("rights."+name, err)
			}
			set[name] = Value{Kind: KindInt, Int: n, Raw: v}
		case "tts":
			var b bool
			if err := json.Unmarshal(v, &b); err != nil {
				return nil, status.Malformed("rights."+name, err)
			}
			set[name] = Value{Kind: KindBool, Bool: b, Raw: v}
		case "start", "end":
			var t time.Time
			if err := json.Unmarshal(v, &t); err != nil {
				return nil, status.Malformed("rights."+name, err)
			}
			set[name] = Value{Kind: KindTime, Time: t, Raw: v}
		default:
			set[name] = Value{Kind: KindUnknown, Raw: v}
		}
	}
	return set, nil
}

// Has reports whether name is present in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Get returns the named right's value.
func (s Set) Get(name string) (Value, bool) {
	v, ok := s[name]
	return v, ok
}

// Store persists countable-right counters keyed by (license ID, right
// name), surviving a process restart (spec §4.6 "injected storage
// provider").
type Store interface {
	Get(licenseID, name string) (int64, bool, error)
	Put(licenseID, name string, value int64) error
	Remove(licenseID, name string) error
}

var bucketRights = []byte("rights")

// BoltRightsStore is the default Store, persisting decimal counters in a
// single bbolt bucket keyed by "lcp/<license-id>/rights/<right-name>".
type BoltRightsStore struct {
	db *bolt.DB
}

// NewBoltRightsStore opens (creating if absent) a bbolt-backed rights
// store at path.
func NewBoltRightsStore(path string) (*BoltRightsStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "open rights store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRights)
		return err
	})
	if err != nil {
		db.Close()
		return nil, status.Wrap(status.LicenseStorageError, "initialize rights store", err)
	}
	return &BoltRightsStore{db: db}, nil
}

func rightsKey(licenseID, name string) []byte {
	return []byte("lcp/" + licenseID + "/rights/" + name)
}

func (s *BoltRightsStore) Get(licenseID, name string) (int64, bool, error) {
	var value int64
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRights)
		data := b.Get(rightsKey(licenseID, name))
		if data == nil {
			return nil
		}
		v, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return 0, false, status.Wrap(status.LicenseStorageError, "read right counter", err)
	}
	return value, found, nil
}

func (s *BoltRightsStore) Put(licenseID, name string, value int64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRights)
		return b.Put(rightsKey(licenseID, name), []byte(strconv.FormatInt(value, 10)))
	})
	if err != nil {
		return status.Wrap(status.LicenseStorageError, "write right counter", err)
	}
	return nil
}

func (s *BoltRightsStore) Remove(licenseID, name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRights)
		return b.Delete(rightsKey(licenseID, name))
	})
	if err != nil {
		return status.Wrap(status.LicenseStorageError, "remove right counter", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltRightsStore) Close() error { return s.db.Close() }

// Manager enforces rights consumption and time-window checks, holding a
// per-(licenseID,name) mutex so concurrent consume calls serialize
// instead of racing (spec §5 "shared resources... serialized per key",
// §8 scenario: two concurrent consume(copy,7) calls, exactly one wins).
type Manager struct {
	store Store
	locks sync.Map // key: licenseID+"/"+name -> *sync.Mutex
}

// NewManager builds a rights manager backed by store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) lockFor(licenseID, name string) *sync.Mutex {
	key := licenseID + "/" + name
	v, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Consume atomically decrements a countable right (print, copy) by delta,
// failing with RightsInsufficient if the current balance is below delta.
// The persisted write happens before the in-memory view is considered
// updated (spec §7 "write-then-update ordering", §3 "persistence writes
// are idempotent for the same (license-id, right-name, new-value)").
func (m *Manager) Consume(set Set, licenseID, name string, delta int64) error {
	val, ok := set.Get(name)
	if !ok || val.Kind != KindInt {
		return status.New(status.ContextInvalid, "right "+name+" is not a countable right")
	}

	lock := m.lockFor(licenseID, name)
	lock.Lock()
	defer lock.Unlock()

	current, found, err := m.store.Get(licenseID, name)
	if err != nil {
		return err
	}
	if !found {
		current = val.Int
	}

	if current < delta {
		return status.New(status.RightsInsufficient, "insufficient remaining "+name+" right")
	}

	newValue := current - delta
	if err := m.store.Put(licenseID, name, newValue); err != nil {
		return err
	}

	set[name] = Value{Kind: KindInt, Int: newValue}
	return nil
}

// CheckTimeWindow evaluates the license's start/end rights against now,
// failing with RightsExpired if now falls outside [start, end] (spec
// §4.6 "the facade refuses to open if the clock is outside [start,
// end]").
func (m *Manager) CheckTimeWindow(set Set, now time.Time) error {
	if start, ok := set.Get("start"); ok && start.Kind == KindTime {
		if now.Before(start.Time) {
			return status.New(status.RightsExpired, "license not yet valid: before start")
		}
	}
	if end, ok := set.Get("end"); ok && end.Kind == KindTime {
		if now.After(end.Time) {
			return status.New(status.RightsExpired, "license has expired: after end")
		}
	}
	return nil
}
