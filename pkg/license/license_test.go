package license

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
	"testing"
	"time"

	lcpconfig "github.com/readium/lcp-client-go/pkg/config"
	"github.com/readium/lcp-client-go/pkg/crl"
	"github.com/readium/lcp-client-go/pkg/profile"
)

func buildTestLicense(t *testing.T) (raw []byte, rootB64 string) {
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
	uk := sha256.Sum256([]byte("correct horse battery staple"))
	keyCheck := encryptIVPrepended(t, uk[:], []byte(licenseID))
	cek := make([]byte, 32)
	if _, err := rand.Read(cek); err != nil {
		t.Fatalf("random cek: %v", err)
	}
	encryptedCEK := encryptIVPrepended(t, uk[:], cek)

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
		"links": []interface{}{},
		"rights": map[string]interface{}{
			"print": 10,
			"copy":  100,
		},
		"user": map[string]interface{}{
			"id": "test-user-id",
		},
	}

	canon, err := canonicalizeForTest(doc)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
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
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return out, base64.StdEncoding.EncodeToString(rootDER)
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

func padPKCS7(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func canonicalizeForTest(m map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
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
	return out, nil
}

func TestParseAndVerify(t *testing.T) {
	raw, rootB64 := buildTestLicense(t)

	lic, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if lic.ID != "test-license-id" {
		t.Fatalf("unexpected license id %q", lic.ID)
	}

	reg, err := profile.NewRegistry([]lcpconfig.ProfileConfig{
		{ID: profile.BasicProfileID, RootCertificate: rootB64},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	cache, err := crl.NewCache(testFetcher{}, 16, time.Hour, 10*time.Second)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if err := Verify(lic, reg, cache, time.Now()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedDocument(t *testing.T) {
	raw, rootB64 := buildTestLicense(t)

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	doc["provider"] = json.RawMessage(`"https://tampered.example.com"`)
	tampered, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	lic, err := Parse(tampered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	reg, err := profile.NewRegistry([]lcpconfig.ProfileConfig{
		{ID: profile.BasicProfileID, RootCertificate: rootB64},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cache, err := crl.NewCache(testFetcher{}, 16, time.Hour, 10*time.Second)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if err := Verify(lic, reg, cache, time.Now()); err == nil {
		t.Fatal("expected signature verification to fail for a tampered document")
	}
}

type testFetcher struct{}

func (testFetcher) Fetch(_ context.Context, _ string) ([]byte, error) { return nil, nil }
