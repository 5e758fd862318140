// Package canonical implements the RFC 8785 canonical-JSON serializer that
// spec §4.7 requires wherever a hash must be reproducible: the approval
// binding hash and the audit chain hash both go through Canonicalize.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Canonicalize serializes v to standard JSON and then transforms it into its
// RFC 8785 canonical form: object keys sorted lexicographically by UTF-16
// code unit, no insignificant whitespace, numbers in shortest round-trip
// form. encoding/json already produces syntactically valid JSON (and, for
// struct values, respects json tags and omitempty); jcs.Transform does the
// normalization standard Marshal does not guarantee.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 digest of v's canonical form.
func Hash(v any) (string, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// BindingTuple is the frozen action tuple §4.7 hashes to produce an
// ApprovalRequest's bindingHash. Field order here is irrelevant — JCS sorts
// keys — but the set of fields is exactly the set the spec names, no more,
// no less, so that re-deriving the hash on a patched envelope reproduces the
// same value iff none of these five fields changed.
type BindingTuple struct {
	ActionType     string         `json:"actionType"`
	Parameters     map[string]any `json:"parameters"`
	PrincipalID    string         `json:"principalId"`
	OrganizationID string         `json:"organizationId"`
	RiskCategory   string         `json:"riskCategory"`
}

// BindingHash computes the §4.7 binding hash for a frozen action tuple.
func BindingHash(tuple BindingTuple) (string, error) {
	return Hash(tuple)
}
