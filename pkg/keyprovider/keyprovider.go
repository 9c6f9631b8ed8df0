// Package keyprovider derives the user key from a passphrase and unwraps
// a license's content key. UnwrapContentKey must only be called with a
// UserKey that CheckUserKey has already reported as correct (spec §4.5,
// §3 invariant 2); callers enforce this ordering themselves (see
// pkg/lcp.Service.AddPassphrase). DecryptCBCIVPrepended only validates
// the PKCS#7 padding, so UnwrapContentKey alone does not reliably reject
// a wrong key.
package keyprovider

import (
	"bytes"

	lcpcrypto "github.com/readium/lcp-client-go/pkg/crypto"
	"github.com/readium/lcp-client-go/pkg/license"
	"github.com/readium/lcp-client-go/pkg/profile"
	"github.com/readium/lcp-client-go/pkg/status"
)

// UserKey is a derived symmetric key, distinct from ContentKey to
// prevent accidental mixing at call sites.
type UserKey []byte

// ContentKey is the unwrapped AES-256 content encryption key.
type ContentKey []byte

// DeriveUserKey derives a candidate user key from a UTF-8 passphrase
// using the profile's KDF. The default profile's KDF is a bare
// SHA-256 of the passphrase bytes (spec §8 scenario 1's test vector).
func DeriveUserKey(prof *profile.Profile, passphrase string) UserKey {
	return UserKey(prof.KDF([]byte(passphrase)))
}

// CheckUserKey decrypts the license's user_key.key_check with uk and
// reports whether the result equals the license's own ID.
func CheckUserKey(lic *license.License, uk UserKey) (bool, error) {
	keyCheck, err := lcpcrypto.Base64ToBytes(lic.Encryption.UserKey.KeyCheck)
	if err != nil {
		return false, status.Malformed("user_key.key_check", err)
	}

	plaintext, err := lcpcrypto.DecryptCBCIVPrepended(uk, keyCheck)
	if err != nil {
		return false, status.Wrap(status.UserKeyCheckFailed, "user key check decrypt failed", err)
	}

	return bytes.Equal(plaintext, []byte(lic.ID)), nil
}

// UnwrapContentKey decrypts the license's content_key.encrypted_value
// with uk, returning the content encryption key bytes. Callers must call
// CheckUserKey first and only proceed on a true result (spec §4.5
// ordering); this function does not itself re-check.
func UnwrapContentKey(lic *license.License, uk UserKey) (ContentKey, error) {
	wrapped, err := lcpcrypto.Base64ToBytes(lic.Encryption.ContentKey.EncryptedValue)
	if err != nil {
		return nil, status.Malformed("content_key.encrypted_value", err)
	}

	cek, err := lcpcrypto.DecryptCBCIVPrepended(uk, wrapped)
	if err != nil {
		return nil, status.Wrap(status.ContentKeyDecryptFailed, "content key unwrap failed", err)
	}

	return ContentKey(cek), nil
}
