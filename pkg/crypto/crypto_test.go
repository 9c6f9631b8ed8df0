package crypto

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"testing"
)

func TestSHA256KDFVector(t *testing.T) {
	got := SHA256KDF([]byte("White whales are huge!"))
	want, err := hex.DecodeString("b5cd1260cd3dbdd29a57873ffd2dddd64c79c40e9eaf3425423d6aaf19d31385")
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("SHA256KDF mismatch: got %x want %x", got, want)
	}
	if len(got) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(got))
	}
}

func TestDigestForOID(t *testing.T) {
	cases := []struct {
		oid  string
		want crypto.Hash
	}{
		{OIDMD5WithRSA, crypto.MD5},
		{OIDSHA1WithRSA, crypto.SHA1},
		{OIDSHA256WithRSA, crypto.SHA256},
	}
	for _, c := range cases {
		h, err := DigestForOID(c.oid)
		if err != nil {
			t.Fatalf("DigestForOID(%s): %v", c.oid, err)
		}
		if h != c.want {
			t.Fatalf("DigestForOID(%s) = %v, want %v", c.oid, h, c.want)
		}
	}

	if _, err := DigestForOID("1.2.3.4"); err == nil {
		t.Fatal("expected error for unknown OID")
	}
}

func TestDecryptCBCIVPrepended_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext := encryptCBCIVPrepended(t, key, plaintext)

	got, err := DecryptCBCIVPrepended(key, ciphertext)
	if err != nil {
		t.Fatalf("DecryptCBCIVPrepended: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptCBCIVPrepended_FullBlockPadding(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	// Exactly two blocks of plaintext forces a full padding block.
	plaintext := bytes.Repeat([]byte{'a'}, 32)
	ciphertext := encryptCBCIVPrepended(t, key, plaintext)

	got, err := DecryptCBCIVPrepended(key, ciphertext)
	if err != nil {
		t.Fatalf("DecryptCBCIVPrepended: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestUnpadPKCS7_Invalid(t *testing.T) {
	if _, err := unpadPKCS7([]byte{1, 2, 3, 0}, 16); err == nil {
		t.Fatal("expected error for zero padding byte")
	}
	if _, err := unpadPKCS7(bytes.Repeat([]byte{17}, 16), 16); err == nil {
		t.Fatal("expected error for padding value exceeding block size")
	}
}

// encryptCBCIVPrepended is test-only scaffolding producing ciphertext in
// the IV-prepended convention DecryptCBCIVPrepended expects.
func encryptCBCIVPrepended(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	bs := block.BlockSize()

	padded, err := padPKCS7(plaintext, bs)
	if err != nil {
		t.Fatalf("padPKCS7: %v", err)
	}

	iv := make([]byte, bs)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	out := make([]byte, bs+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[bs:], padded)
	return out
}

func padPKCS7(data []byte, blockSize int) ([]byte, error) {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out, nil
}
