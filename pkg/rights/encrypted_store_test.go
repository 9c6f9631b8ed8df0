package rights

import (
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"testing"
)

func openEncryptedTestStore(t *testing.T) *EncryptedStore {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("random key: %v", err)
	}
	store, err := NewEncryptedStore(filepath.Join(t.TempDir(), "rights-enc.db"), key)
	if err != nil {
		t.Fatalf("NewEncryptedStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	store := openEncryptedTestStore(t)

	if err := store.Put("lic-enc-1", "copy", 42); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value, found, err := store.Get("lic-enc-1", "copy")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || value != 42 {
		t.Fatalf("Get = %d, found=%v, want 42, true", value, found)
	}

	if err := store.Remove("lic-enc-1", "copy"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, found, err := store.Get("lic-enc-1", "copy"); err != nil || found {
		t.Fatalf("expected removed counter to be absent, found=%v err=%v", found, err)
	}
}

func TestEncryptedStoreRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rights-enc.db")

	key1 := make([]byte, 32)
	rand.Read(key1)
	store1, err := NewEncryptedStore(path, key1)
	if err != nil {
		t.Fatalf("NewEncryptedStore: %v", err)
	}
	if err := store1.Put("lic-enc-2", "print", 5); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store1.Close()

	key2 := make([]byte, 32)
	rand.Read(key2)
	store2, err := NewEncryptedStore(path, key2)
	if err != nil {
		t.Fatalf("NewEncryptedStore: %v", err)
	}
	defer store2.Close()

	if _, _, err := store2.Get("lic-enc-2", "print"); err == nil {
		t.Fatal("expected authentication failure when opening with the wrong key")
	}
}

func TestEncryptedStoreBacksManagerConsume(t *testing.T) {
	store := openEncryptedTestStore(t)
	mgr := NewManager(store)

	set, err := ParseSet(json.RawMessage(`{"copy":10}`))
	if err != nil {
		t.Fatalf("ParseSet: %v", err)
	}

	if err := mgr.Consume(set, "lic-enc-3", "copy", 4); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	remaining, found, err := store.Get("lic-enc-3", "copy")
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if !found || remaining != 6 {
		t.Fatalf("expected persisted remaining 6, got %d (found=%v)", remaining, found)
	}
}
