// Package certificate parses X.509 provider/root certificates and
// verifies their signatures, following the design of
// original_source/src/LcpCryptoLib/Certificate.cpp: a certificate keeps
// its exact to-be-signed byte range for re-verification, dispatches the
// verifying digest by the signer's algorithm OID rather than a fixed
// choice, and distinguishes "unsupported algorithm" from "signature
// doesn't verify".
package certificate

import (
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	lcpcrypto "github.com/readium/lcp-client-go/pkg/crypto"
	"github.com/readium/lcp-client-go/pkg/status"
)

// Certificate is the subset of an X.509 certificate the LCP profile
// needs: serial, validity window, RSA public key, signature algorithm OID,
// the exact TBS byte range it was signed over, the signature bits, and
// any CRL distribution point URLs.
type Certificate struct {
	raw        *x509.Certificate
	sigAlgoOID string
}

// ParseBase64DER decodes and parses a base64 DER-encoded certificate.
func ParseBase64DER(certB64 string) (*Certificate, error) {
	der, err := lcpcrypto.Base64ToBytes(certB64)
	if err != nil {
		return nil, status.Malformed("certificate base64 decode", err)
	}
	return ParseDER(der)
}

// ParseDER parses a raw DER-encoded certificate.
func ParseDER(der []byte) (*Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, status.Malformed("certificate DER decode", err)
	}

	if err := validateVersionShape(der); err != nil {
		return nil, err
	}

	oid, err := oidString(cert)
	if err != nil {
		return nil, status.Malformed("certificate signature algorithm", err)
	}

	return &Certificate{raw: cert, sigAlgoOID: oid}, nil
}

// oidString maps the parsed x509.SignatureAlgorithm back to the dotted
// OID string the rest of this package dispatches on, since Go's x509
// package normalizes the OID into an enum during parsing.
func oidString(cert *x509.Certificate) (string, error) {
	switch cert.SignatureAlgorithm {
	case x509.MD5WithRSA:
		return lcpcrypto.OIDMD5WithRSA, nil
	case x509.SHA1WithRSA:
		return lcpcrypto.OIDSHA1WithRSA, nil
	case x509.SHA256WithRSA:
		return lcpcrypto.OIDSHA256WithRSA, nil
	default:
		return "", fmt.Errorf("unsupported certificate signature algorithm %v", cert.SignatureAlgorithm)
	}
}

const contextTagZero = 0xA0

// validateVersionShape re-walks the raw TBSCertificate and rejects it
// unless its first element is either context-specific tag [0] (explicit
// version) or an INTEGER (the serialNumber of a certificate whose version
// is omitted, which Go's x509.ParseCertificate treats as v1). It does not
// itself tell a bare INTEGER version apart from a serialNumber; that
// shape is already rejected by x509.ParseCertificate, which then finds an
// INTEGER where the signature AlgorithmIdentifier SEQUENCE belongs.
func validateVersionShape(der []byte) error {
	var outer asn1.RawValue
	if _, err := asn1.Unmarshal(der, &outer); err != nil {
		return status.Malformed("certificate outer SEQUENCE", err)
	}

	var tbs asn1.RawValue
	if _, err := asn1.Unmarshal(outer.Bytes, &tbs); err != nil {
		return status.Malformed("certificate TBS SEQUENCE", err)
	}

	if len(tbs.Bytes) == 0 {
		return status.Malformed("certificate TBS SEQUENCE", fmt.Errorf("empty"))
	}

	// The TBS content starts with either the [0] context-specific
	// constructed tag (version present) or the serialNumber INTEGER
	// (version absent, defaults to v1); any other leading tag is
	// rejected here.
	if tbs.Bytes[0] != contextTagZero && tbs.Bytes[0] != 0x02 {
		return status.Malformed("certificate version shape", fmt.Errorf("unexpected TBS leading tag 0x%02x", tbs.Bytes[0]))
	}
	return nil
}

// VerifyMessage verifies an RSA-PKCS1v15 signature over msg using this
// certificate's public key and the digest named by digestOID — the
// signer's own algorithm, not necessarily this certificate's (spec §4.2).
func (c *Certificate) VerifyMessage(msg, sig []byte, digestOID string) error {
	h, err := lcpcrypto.DigestForOID(digestOID)
	if err != nil {
		return status.New(status.CertSigAlgoNotFound, err.Error())
	}
	pub, err := c.RSAPublicKey()
	if err != nil {
		return status.New(status.ProviderCertNotValid, err.Error())
	}
	if err := lcpcrypto.VerifyPKCS1v15(pub, h, msg, sig); err != nil {
		return status.Wrap(status.LicenseSignatureInvalid, "signature verification failed", err)
	}
	return nil
}

// VerifyAgainst verifies this certificate's own signature using root's
// public key and this certificate's signature-algorithm OID, following
// Certificate::VerifyCertificate in original_source.
func (c *Certificate) VerifyAgainst(root *Certificate) error {
	h, err := lcpcrypto.DigestForOID(c.sigAlgoOID)
	if err != nil {
		return status.New(status.CertSigAlgoNotFound, "root certificate signature algorithm not found")
	}

	rootPub, err := root.RSAPublicKey()
	if err != nil {
		return status.New(status.ProviderCertNotValid, err.Error())
	}

	sig := c.raw.Signature
	if len(sig) != rootPub.Size() {
		return status.New(status.CertNotChained, "signature length does not match root modulus size")
	}

	if err := lcpcrypto.VerifyPKCS1v15(rootPub, h, c.raw.RawTBSCertificate, sig); err != nil {
		return status.New(status.CertNotChained, "certificate signature does not verify against root")
	}
	return nil
}

// RSAPublicKey returns the certificate's RSA public key, failing if the
// certificate doesn't carry one (the only kind this profile supports).
func (c *Certificate) RSAPublicKey() (*rsa.PublicKey, error) {
	pub, ok := c.raw.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate public key is not RSA")
	}
	return pub, nil
}

func (c *Certificate) Serial() *big.Int { return c.raw.SerialNumber }

func (c *Certificate) NotBefore() time.Time { return c.raw.NotBefore }

func (c *Certificate) NotAfter() time.Time { return c.raw.NotAfter }

func (c *Certificate) CRLDistributionPoints() []string { return c.raw.CRLDistributionPoints }

// CheckValidity fails with CertNotStarted/CertExpired if now is outside
// [NotBefore, NotAfter].
func (c *Certificate) CheckValidity(now time.Time) error {
	if now.Before(c.raw.NotBefore) {
		return status.New(status.CertNotStarted, "certificate not yet valid")
	}
	if now.After(c.raw.NotAfter) {
		return status.New(status.CertExpired, "certificate has expired")
	}
	return nil
}

// Subject exposes the certificate's distinguished name, used as the CRL
// cache's issuer key when no distribution point is present.
func (c *Certificate) Subject() pkix.Name { return c.raw.Subject }

// Raw returns the underlying parsed certificate for callers (e.g. the CRL
// package) that need full stdlib x509 behavior.
func (c *Certificate) Raw() *x509.Certificate { return c.raw }
