package rights

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/readium/lcp-client-go/pkg/status"
)

var bucketEncryptedRights = []byte("rights_encrypted")

// EncryptedStore is a Store that AES-256-GCM-seals each counter value
// before writing it to its own BoltDB bucket (nonce-prepended, the same
// convention as the rest of this codebase's ciphertexts). Grounded on
// the teacher's pkg/security.SecretsManager, generalized from encrypting
// whole secret blobs to encrypting individual right counters so a host
// can protect rights state at rest (e.g. a shared or removable BoltDB
// file) without Manager needing to know the values are encrypted.
type EncryptedStore struct {
	db  *bolt.DB
	key []byte // 32 bytes, AES-256
}

// NewEncryptedStore opens (creating if absent) a bbolt-backed encrypted
// rights store at path, keyed by key.
func NewEncryptedStore(path string, key []byte) (*EncryptedStore, error) {
	if len(key) != 32 {
		return nil, status.New(status.ContextInvalid, "rights store encryption key must be 32 bytes")
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "open encrypted rights store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEncryptedRights)
		return err
	})
	if err != nil {
		db.Close()
		return nil, status.Wrap(status.LicenseStorageError, "initialize encrypted rights store", err)
	}
	return &EncryptedStore{db: db, key: key}, nil
}

// DeriveStoreKey derives a 32-byte store encryption key from an
// arbitrary passphrase, for hosts that would rather configure a
// passphrase than manage a raw key file.
func DeriveStoreKey(passphrase string) []byte {
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

func (s *EncryptedStore) Close() error { return s.db.Close() }

func (s *EncryptedStore) seal(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "rights store cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "rights store GCM", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "rights store nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *EncryptedStore) open(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "rights store cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "rights store GCM", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, status.New(status.LicenseStorageError, "rights counter ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, status.Wrap(status.LicenseStorageError, "rights counter authentication failed", err)
	}
	return plain, nil
}

// Get decrypts and returns the counter persisted for (licenseID, name).
func (s *EncryptedStore) Get(licenseID, name string) (int64, bool, error) {
	var sealed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEncryptedRights)
		v := b.Get(rightsKey(licenseID, name))
		if v != nil {
			sealed = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return 0, false, status.Wrap(status.LicenseStorageError, "read encrypted right counter", err)
	}
	if sealed == nil {
		return 0, false, nil
	}

	plain, err := s.open(sealed)
	if err != nil {
		return 0, false, err
	}
	value, err := strconv.ParseInt(string(plain), 10, 64)
	if err != nil {
		return 0, false, status.Wrap(status.LicenseStorageError, "decode decrypted rights counter", err)
	}
	return value, true, nil
}

// Put encrypts value and persists it.
func (s *EncryptedStore) Put(licenseID, name string, value int64) error {
	sealed, err := s.seal([]byte(strconv.FormatInt(value, 10)))
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEncryptedRights)
		return b.Put(rightsKey(licenseID, name), sealed)
	})
	if err != nil {
		return status.Wrap(status.LicenseStorageError, "write encrypted right counter", err)
	}
	return nil
}

// Remove deletes the persisted counter for (licenseID, name).
func (s *EncryptedStore) Remove(licenseID, name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEncryptedRights)
		return b.Delete(rightsKey(licenseID, name))
	})
	if err != nil {
		return status.Wrap(status.LicenseStorageError, "remove encrypted right counter", err)
	}
	return nil
}
