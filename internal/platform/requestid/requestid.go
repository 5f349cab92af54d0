// Package requestid mints the opaque identifiers stamped on every incoming
// request and echoed back in error bodies, audit rows, and lineage edges.
package requestid

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

const prefix = "req_"

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New returns a fresh identifier of the form req_<26 lowercase base32
// characters>, carrying 128 bits of randomness.
func New() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return prefix + strings.ToLower(encoding.EncodeToString(raw[:])), nil
}
