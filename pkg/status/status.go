// Package status defines the stable result codes returned at the LCP
// client's API boundary, replacing the exception-based control flow of
// the original implementation with plain error values.
package status

import "fmt"

// Code is one of the stable integer codes from the LCP status taxonomy.
type Code int

// Status codes, grouped as in the external interface contract.
const (
	Ok Code = 0

	LicenseOutOfDate       Code = 11
	CertRevoked            Code = 12
	CertSigAlgoNotFound    Code = 13
	ProviderCertNotValid   Code = 14
	LicenseSignatureInvalid Code = 15
	ContextInvalid         Code = 16

	UserKeyCheckFailed    Code = 21
	ContentKeyDecryptFailed Code = 22

	LicenseNetworkError Code = 31
	LicenseStorageError Code = 32

	DecryptPaddingInvalid Code = 41
	DecryptShortRead      Code = 42
	DecryptOutOfRange     Code = 43

	RightsInsufficient Code = 51
	RightsExpired      Code = 52

	// LicenseMalformed, CertNotStarted and CertExpired and CertNotChained
	// don't appear in the numbered table of spec §6 but are named
	// explicitly in the failure taxonomy of §4.4; they're assigned
	// adjacent codes in the same families.
	LicenseMalformed Code = 17
	CertNotStarted   Code = 18
	CertExpired      Code = 19
	CertNotChained   Code = 20
)

var names = map[Code]string{
	Ok:                      "Ok",
	LicenseOutOfDate:        "LicenseOutOfDate",
	CertRevoked:             "CertRevoked",
	CertSigAlgoNotFound:     "CertSigAlgoNotFound",
	ProviderCertNotValid:    "ProviderCertNotValid",
	LicenseSignatureInvalid: "LicenseSignatureInvalid",
	ContextInvalid:          "ContextInvalid",
	UserKeyCheckFailed:      "UserKeyCheckFailed",
	ContentKeyDecryptFailed: "ContentKeyDecryptFailed",
	LicenseNetworkError:     "LicenseNetworkError",
	LicenseStorageError:     "LicenseStorageError",
	DecryptPaddingInvalid:   "DecryptPaddingInvalid",
	DecryptShortRead:        "DecryptShortRead",
	DecryptOutOfRange:       "DecryptOutOfRange",
	RightsInsufficient:      "RightsInsufficient",
	RightsExpired:           "RightsExpired",
	LicenseMalformed:        "LicenseMalformed",
	CertNotStarted:          "CertNotStarted",
	CertExpired:             "CertExpired",
	CertNotChained:          "CertNotChained",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Status is the error value returned at every public operation boundary.
// It carries a stable Code plus an optional diagnostic message and
// wrapped cause.
type Status struct {
	Code    Code
	Message string
	Err     error
}

func New(code Code, message string) *Status {
	return &Status{Code: code, Message: message}
}

func Wrap(code Code, message string, err error) *Status {
	return &Status{Code: code, Message: message, Err: err}
}

// Malformed builds the single "decode failed" variant parsers use
// internally before a component boundary translates it to the nearest
// public code (spec §9: exceptions become a sum type, not a hierarchy).
func Malformed(context string, cause error) *Status {
	return Wrap(LicenseMalformed, context, cause)
}

func (s *Status) Error() string {
	if s.Err != nil {
		if s.Message != "" {
			return fmt.Sprintf("%s: %s: %v", s.Code, s.Message, s.Err)
		}
		return fmt.Sprintf("%s: %v", s.Code, s.Err)
	}
	if s.Message != "" {
		return fmt.Sprintf("%s: %s", s.Code, s.Message)
	}
	return s.Code.String()
}

func (s *Status) Unwrap() error {
	return s.Err
}

// Is reports whether err carries the given code, unwrapping plain Go
// errors along the way.
func Is(err error, code Code) bool {
	var st *Status
	for err != nil {
		if s, ok := err.(*Status); ok {
			st = s
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return st != nil && st.Code == code
}
