// Package oracle holds the capabilities the scheduler is handed from outside:
// the predicate that recognises the right key and the transform that renders
// the final plaintext. The scheduler treats both as opaque.
//
// The bundled DES implementation reproduces the classic known-plaintext
// setup: every candidate key decrypts a ciphertext in ECB mode and the result
// is searched for a keyword.
package oracle

import (
	"errors"
	"fmt"
)

// ErrPayload is returned (wrapped) when ciphertext or keyword material cannot
// be used for a search.
var ErrPayload = errors.New("invalid payload")

// Oracle tests one candidate key. Implementations must be safe for concurrent
// use and must accept any uint64 without failing.
type Oracle interface {
	Try(key uint64) bool
}

// OracleFunc adapts a plain function to Oracle.
type OracleFunc func(key uint64) bool

// Try calls f(key).
func (f OracleFunc) Try(key uint64) bool { return f(key) }

// Decrypter renders a payload under a key. Used only to display the result.
type Decrypter interface {
	Decrypt(key uint64, payload []byte) []byte
}

// DecryptFunc adapts a plain function to Decrypter.
type DecryptFunc func(key uint64, payload []byte) []byte

// Decrypt calls f(key, payload).
func (f DecryptFunc) Decrypt(key uint64, payload []byte) []byte { return f(key, payload) }

// Equals returns an oracle that accepts exactly the given key.
// Handy for benchmarks and scheduling tests.
func Equals(want uint64) Oracle {
	return OracleFunc(func(key uint64) bool { return key == want })
}

// Never returns an oracle that rejects every key.
func Never() Oracle {
	return OracleFunc(func(uint64) bool { return false })
}

// Safe wraps o so that a panicking probe counts as a rejection.
func Safe(o Oracle) Oracle {
	return OracleFunc(func(key uint64) (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		return o.Try(key)
	})
}

func payloadErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPayload}, args...)...)
}
