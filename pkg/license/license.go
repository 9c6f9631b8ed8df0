// Package license parses and verifies LCP license documents: structural
// decode, canonical-JSON re-serialization for signature checking, and the
// chain of certificate/CRL/time checks that decide whether a license may
// be considered open (spec §4.4), grounded on the field shape of
// other_examples/edrlab-lcp-server's License struct.
package license

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/text/cases"

	"github.com/readium/lcp-client-go/pkg/canonicaljson"
	"github.com/readium/lcp-client-go/pkg/certificate"
	lcpcrypto "github.com/readium/lcp-client-go/pkg/crypto"
	"github.com/readium/lcp-client-go/pkg/crl"
	"github.com/readium/lcp-client-go/pkg/profile"
	"github.com/readium/lcp-client-go/pkg/status"
)

var textHintFolder = cases.Fold()

// ContentKeyInfo is the encryption.content_key member.
type ContentKeyInfo struct {
	Algorithm      string `json:"algorithm"`
	EncryptedValue string `json:"encrypted_value"`
}

// UserKeyInfo is the encryption.user_key member.
type UserKeyInfo struct {
	Algorithm string `json:"algorithm"`
	KeyCheck  string `json:"key_check"`
	TextHint  string `json:"text_hint,omitempty"`
}

// Encryption is the license's encryption member.
type Encryption struct {
	Profile    string         `json:"profile"`
	ContentKey ContentKeyInfo `json:"content_key"`
	UserKey    UserKeyInfo    `json:"user_key"`
}

// Link is a single entry of the license's links array.
type Link struct {
	Rel    string `json:"rel"`
	Href   string `json:"href"`
	Type   string `json:"type,omitempty"`
	Length int64  `json:"length,omitempty"`
}

// User is the license's user member.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Signature is the license's signature member.
type Signature struct {
	Algorithm   string `json:"algorithm"`
	Certificate string `json:"certificate"`
	Value       string `json:"value"`
}

// License is a parsed, not-yet-verified LCP license document (spec §3).
type License struct {
	ID         string          `json:"id"`
	Issued     time.Time       `json:"issued"`
	Updated    *time.Time      `json:"updated,omitempty"`
	Provider   string          `json:"provider"`
	Encryption Encryption      `json:"encryption"`
	Links      []Link          `json:"links"`
	Rights     json.RawMessage `json:"rights"`
	User       User            `json:"user"`
	Signature  Signature       `json:"signature"`

	canonical []byte
}

// Parse decodes a UTF-8 JSON license document. Unknown top-level members
// are preserved in the retained raw document for canonicalization (spec
// §4.4 step 1) but otherwise ignored.
func Parse(raw []byte) (*License, error) {
	var lic License
	if err := json.Unmarshal(raw, &lic); err != nil {
		return nil, status.Malformed("license decode", err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, status.Malformed("license decode", err)
	}
	canon, err := canonicaljson.Canonicalize(generic, "signature")
	if err != nil {
		return nil, status.Malformed("license canonicalization", err)
	}
	lic.canonical = canon

	return &lic, nil
}

// Canonical returns the canonical-JSON bytes the signature is computed
// over (the document with its signature member removed).
func (l *License) Canonical() []byte { return l.canonical }

// TextHintFolded returns the user_key.text_hint member case-folded under
// the root locale so a passphrase prompt can compare hints without
// Unicode case variants causing a spurious mismatch.
func (l *License) TextHintFolded() string {
	return textHintFolder.String(l.Encryption.UserKey.TextHint)
}

// Verify runs the spec §4.4 verification chain: signer certificate chain,
// certificate validity window, CRL revocation, and finally the license
// signature itself. It returns the first applicable failure from the
// taxonomy of status codes.
func Verify(lic *License, profiles *profile.Registry, crls *crl.Cache, now time.Time) error {
	prof, err := profiles.Lookup(lic.Encryption.Profile)
	if err != nil {
		return err
	}

	signer, err := certificate.ParseBase64DER(lic.Signature.Certificate)
	if err != nil {
		return status.Malformed("license signer certificate", err)
	}

	if err := signer.VerifyAgainst(prof.Root); err != nil {
		return err
	}

	if err := signer.CheckValidity(now); err != nil {
		return err
	}

	if prof.RequireCRL && len(signer.CRLDistributionPoints()) > 0 {
		issuerKey := signer.Subject().CommonName
		revoked, err := crls.IsRevoked(context.Background(), issuerKey, signer.CRLDistributionPoints(), signer.Serial(), prof.Root, now)
		if err != nil {
			return err
		}
		if revoked {
			return status.New(status.CertRevoked, "signer certificate is revoked")
		}
	}

	sigBytes, err := lcpcrypto.Base64ToBytes(lic.Signature.Value)
	if err != nil {
		return status.Malformed("license signature value", err)
	}
	digestOID, err := signatureURIToOID(lic.Signature.Algorithm)
	if err != nil {
		return status.New(status.CertSigAlgoNotFound, err.Error())
	}
	if err := signer.VerifyMessage(lic.canonical, sigBytes, digestOID); err != nil {
		return err
	}

	return nil
}

func signatureURIToOID(uri string) (string, error) {
	switch uri {
	case "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256", lcpcrypto.OIDSHA256WithRSA:
		return lcpcrypto.OIDSHA256WithRSA, nil
	case "http://www.w3.org/2000/09/xmldsig#rsa-sha1", lcpcrypto.OIDSHA1WithRSA:
		return lcpcrypto.OIDSHA1WithRSA, nil
	case "http://www.w3.org/2001/04/xmldsig-more#rsa-md5", lcpcrypto.OIDMD5WithRSA:
		return lcpcrypto.OIDMD5WithRSA, nil
	default:
		return "", errUnsupportedSignatureAlgorithm(uri)
	}
}

type errUnsupportedSignatureAlgorithm string

func (e errUnsupportedSignatureAlgorithm) Error() string {
	return "unsupported license signature algorithm URI: " + string(e)
}
