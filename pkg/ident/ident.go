// Package ident generates the human-readable business identifiers printed on
// tickets and schedules, e.g. "Q-20240301-7KX2QD".
package ident

import (
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Random returns n characters drawn uniformly from A-Z and 0-9.
func Random(n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String()
}

// Dated returns PREFIX-YYYYMMDD-XXXXXX using the calendar date of t.
func Dated(prefix string, t time.Time) string {
	return prefix + "-" + t.Format("20060102") + "-" + Random(6)
}

// Prefixed returns PREFIX-X... with n random characters.
func Prefixed(prefix string, n int) string {
	return prefix + "-" + Random(n)
}
