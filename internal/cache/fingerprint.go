// Package cache implements the read-through query cache: a normalized
// fingerprint keys each entry, writes invalidate by entity pattern,
// and a failing backend degrades to pass-through instead of failing
// the caller.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Fingerprint identifies one logical query: the normalized statement
// plus its ordered parameter values.
type Fingerprint struct {
	Statement string
	Params    []any
}

// NewFingerprint normalizes the statement and captures the parameters.
func NewFingerprint(statement string, params []any) Fingerprint {
	return Fingerprint{Statement: Normalize(statement), Params: params}
}

// Key renders the cache key as <entity>:<digest>. Embedding the entity
// lets invalidation target every cached query touching one table.
func (f Fingerprint) Key() string {
	h := sha256.New()
	h.Write([]byte(f.Statement))
	for _, p := range f.Params {
		fmt.Fprintf(h, "\x00%v", p)
	}
	return f.Entity() + ":" + hex.EncodeToString(h.Sum(nil))[:32]
}

// Entity extracts the first table name the statement touches, or
// "unknown" when none can be found.
func (f Fingerprint) Entity() string {
	return ExtractEntity(f.Statement)
}

// Normalize lowercases the statement and collapses runs of whitespace,
// so formatting differences do not fragment the cache.
func Normalize(statement string) string {
	return strings.Join(strings.Fields(strings.ToLower(statement)), " ")
}

// IsReadOnly reports whether the statement can be served from cache.
// Only plain reads qualify; anything else must hit the database.
func IsReadOnly(statement string) bool {
	head := Normalize(statement)
	return strings.HasPrefix(head, "select ") ||
		strings.HasPrefix(head, "show ") ||
		(strings.HasPrefix(head, "with ") && !strings.Contains(head, " insert ") &&
			!strings.Contains(head, " update ") && !strings.Contains(head, " delete "))
}

// ExtractEntity finds the table targeted by a statement by scanning
// for the keyword that precedes the table name.
func ExtractEntity(statement string) string {
	fields := strings.Fields(Normalize(statement))
	for i, f := range fields {
		switch f {
		case "from", "into", "update", "join":
			if f == "update" && i != 0 {
				continue
			}
			if i+1 < len(fields) {
				return trimIdentifier(fields[i+1])
			}
		}
	}
	return "unknown"
}

func trimIdentifier(s string) string {
	s = strings.Trim(s, `"'(),;`)
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return s
}
