package audit

import (
	"regexp"
	"sort"
)

// Redactor replaces snapshot fields matching any of its patterns with the
// string "[redacted]" before an entry is hashed (spec §4.9 "Redaction": "the list of redacted
// paths is itself part of the hashed entry"). Patterns match top-level
// snapshot keys case-sensitively as plain strings or, when wrapped in
// slashes ("/.../"), as regular expressions.
type Redactor struct {
	literal map[string]bool
	regexes []*regexp.Regexp
}

// NewRedactor compiles patterns into a Redactor. A pattern of the form
// "/re/" is compiled as a regular expression; anything else is matched
// literally against a snapshot key.
func NewRedactor(patterns []string) (*Redactor, error) {
	r := &Redactor{literal: map[string]bool{}}
	for _, p := range patterns {
		if len(p) >= 2 && p[0] == '/' && p[len(p)-1] == '/' {
			re, err := regexp.Compile(p[1 : len(p)-1])
			if err != nil {
				return nil, err
			}
			r.regexes = append(r.regexes, re)
			continue
		}
		r.literal[p] = true
	}
	return r, nil
}

// DefaultRedactor flags the field names Switchboard cartridges most commonly
// surface as sensitive: credentials, tokens, and raw PII columns.
func DefaultRedactor() *Redactor {
	r, _ := NewRedactor([]string{"password", "secret", "token", "apiKey", "ssn", "creditCard"})
	return r
}

func (r *Redactor) matches(key string) bool {
	if r == nil {
		return false
	}
	if r.literal[key] {
		return true
	}
	for _, re := range r.regexes {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// apply returns a copy of snapshot with matching keys replaced by "[redacted]",
// whether any redaction occurred, and the sorted list of redacted field names.
func (r *Redactor) apply(snapshot map[string]any) (out map[string]any, applied bool, fields []string) {
	if snapshot == nil {
		return nil, false, nil
	}
	out = make(map[string]any, len(snapshot))
	for k, v := range snapshot {
		if r.matches(k) {
			out[k] = "[redacted]"
			fields = append(fields, k)
			applied = true
			continue
		}
		out[k] = v
	}
	sort.Strings(fields)
	return out, applied, fields
}
