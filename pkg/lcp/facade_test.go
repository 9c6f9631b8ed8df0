package lcp

import (
	"context"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	lcpconfig "github.com/readium/lcp-client-go/pkg/config"
	"github.com/readium/lcp-client-go/pkg/crl"
	"github.com/readium/lcp-client-go/pkg/profile"
	"github.com/readium/lcp-client-go/pkg/rights"
	"github.com/readium/lcp-client-go/pkg/status"
)

const testPassphrase = "correct horse battery staple"

type testFetcher struct{}

func (testFetcher) Fetch(_ context.Context, _ string) ([]byte, error) { return nil, nil }

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func encryptIVPrepended(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	padded := padPKCS7(plaintext, aes.BlockSize)
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("random iv: %v", err)
	}
	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)
	return out
}

func canonicalizeForTest(m map[string]interface{}) []byte {
	raw, _ := json.Marshal(m)
	var generic map[string]json.RawMessage
	_ = json.Unmarshal(raw, &generic)
	keys := make([]string, 0, len(generic))
	for k := range generic {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	out := []byte("{")
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		kj, _ := json.Marshal(k)
		out = append(out, kj...)
		out = append(out, ':')
		out = append(out, generic[k]...)
	}
	out = append(out, '}')
	return out
}

// buildTestService returns a Service with a registered profile whose
// root matches a freshly-signed test license, along with the license's
// raw bytes, a content-encryption key, and the license id.
func buildTestService(t *testing.T, rightsCfg map[string]int) (*Service, []byte, []byte, string) {
	t.Helper()

	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test License Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}

	providerKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate provider key: %v", err)
	}
	providerTmpl := &x509.Certificate{
		SerialNumber:       big.NewInt(2),
		Subject:            pkix.Name{CommonName: "Test Provider"},
		NotBefore:          time.Now().Add(-time.Hour),
		NotAfter:           time.Now().Add(24 * time.Hour),
		SignatureAlgorithm: x509.SHA256WithRSA,
	}
	providerDER, err := x509.CreateCertificate(rand.Reader, providerTmpl, rootCert, &providerKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create provider cert: %v", err)
	}

	licenseID := "test-license-id"
	uk := sha256.Sum256([]byte(testPassphrase))
	keyCheck := encryptIVPrepended(t, uk[:], []byte(licenseID))
	cek := make([]byte, 32)
	if _, err := rand.Read(cek); err != nil {
		t.Fatalf("random cek: %v", err)
	}
	encryptedCEK := encryptIVPrepended(t, uk[:], cek)

	rightsDoc := map[string]interface{}{}
	for name, v := range rightsCfg {
		rightsDoc[name] = v
	}

	doc := map[string]interface{}{
		"id":       licenseID,
		"issued":   time.Now().UTC().Format(time.RFC3339),
		"provider": "https://example.com/provider",
		"encryption": map[string]interface{}{
			"profile": profile.BasicProfileID,
			"content_key": map[string]interface{}{
				"algorithm":       "http://www.w3.org/2001/04/xmlenc#aes256-cbc",
				"encrypted_value": base64.StdEncoding.EncodeToString(encryptedCEK),
			},
			"user_key": map[string]interface{}{
				"algorithm": "http://www.w3.org/2001/04/xmlenc#sha256",
				"key_check": base64.StdEncoding.EncodeToString(keyCheck),
				"text_hint": "your favorite passphrase",
			},
		},
		"links":  []interface{}{},
		"rights": rightsDoc,
		"user": map[string]interface{}{
			"id": "test-user-id",
		},
	}

	canon := canonicalizeForTest(doc)
	digest := sha256.Sum256(canon)
	sig, err := rsa.SignPKCS1v15(rand.Reader, providerKey, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	doc["signature"] = map[string]interface{}{
		"algorithm":   "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256",
		"certificate": base64.StdEncoding.EncodeToString(providerDER),
		"value":       base64.StdEncoding.EncodeToString(sig),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	reg, err := profile.NewRegistry([]lcpconfig.ProfileConfig{
		{ID: profile.BasicProfileID, RootCertificate: base64.StdEncoding.EncodeToString(rootDER)},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	crlCache, err := crl.NewCache(testFetcher{}, 16, time.Hour, 10*time.Second)
	if err != nil {
		t.Fatalf("crl.NewCache: %v", err)
	}
	store, err := rights.NewBoltRightsStore(filepath.Join(t.TempDir(), "rights.db"))
	if err != nil {
		t.Fatalf("NewBoltRightsStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	rightsMgr := rights.NewManager(store)

	return NewService(reg, crlCache, rightsMgr), raw, cek, licenseID
}

func TestOpenLicenseAddPassphraseAndDecrypt(t *testing.T) {
	svc, raw, cek, _ := buildTestService(t, map[string]int{"print": 10, "copy": 100})

	id, err := svc.OpenLicense(raw)
	if err != nil {
		t.Fatalf("OpenLicense: %v", err)
	}

	if err := svc.AddPassphrase(id, testPassphrase); err != nil {
		t.Fatalf("AddPassphrase: %v", err)
	}

	resource := encryptIVPrepended(t, cek, []byte("the rain in spain falls mainly on the plain"))
	stream, err := svc.DecryptStream(id, &memorySource{data: resource})
	if err != nil {
		t.Fatalf("DecryptStream: %v", err)
	}
	size, err := stream.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	got := make([]byte, size)
	if _, err := stream.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "the rain in spain falls mainly on the plain" {
		t.Fatalf("decrypted resource mismatch: %q", got)
	}

	if err := svc.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Rights(id); !status.Is(err, status.ContextInvalid) {
		t.Fatalf("expected ContextInvalid after Close, got %v", err)
	}
}

func TestAddPassphraseWrongPassphraseFails(t *testing.T) {
	svc, raw, _, _ := buildTestService(t, map[string]int{"print": 10})

	id, err := svc.OpenLicense(raw)
	if err != nil {
		t.Fatalf("OpenLicense: %v", err)
	}
	if err := svc.AddPassphrase(id, "definitely not it"); err == nil {
		t.Fatal("expected AddPassphrase to fail for a wrong passphrase")
	}
	if _, err := svc.DecryptStream(id, &memorySource{data: []byte{}}); err == nil {
		t.Fatal("expected DecryptStream to fail before a passphrase has unlocked the content key")
	}
}

func TestConsumeRights(t *testing.T) {
	svc, raw, _, _ := buildTestService(t, map[string]int{"copy": 2})

	id, err := svc.OpenLicense(raw)
	if err != nil {
		t.Fatalf("OpenLicense: %v", err)
	}

	if err := svc.Consume(id, "copy", 1); err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if err := svc.Consume(id, "copy", 1); err != nil {
		t.Fatalf("second Consume: %v", err)
	}
	if err := svc.Consume(id, "copy", 1); err == nil {
		t.Fatal("expected third Consume to fail with insufficient rights")
	}
}

// memorySource adapts a byte slice to decrypt.Source for tests.
type memorySource struct{ data []byte }

func (m *memorySource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, errOutOfRange
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, errShort
	}
	return n, nil
}

func (m *memorySource) Size() (int64, error) { return int64(len(m.data)), nil }

var errOutOfRange = status.New(status.DecryptOutOfRange, "out of range")
var errShort = status.New(status.DecryptShortRead, "short read")
