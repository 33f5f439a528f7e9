package oracle

import (
	"bytes"
	"crypto/des"
	"encoding/binary"
	"math/bits"
	"sync"
)

const (
	// MaxPayload is the largest ciphertext a probe can decode; the scratch
	// buffer keeps one byte for the string terminator.
	MaxPayload = 4095

	// MaxKeyword is the longest keyword kept from a keyword file.
	MaxKeyword = 511

	// MaxPlaintext is the largest input Encrypt accepts.
	MaxPlaintext = 3500
)

// weakKeys lists the DES weak and semi-weak keys (with odd parity) that a
// checked key schedule refuses.
var weakKeys = map[uint64]struct{}{
	0x0101010101010101: {}, 0xFEFEFEFEFEFEFEFE: {},
	0x1F1F1F1F0E0E0E0E: {}, 0xE0E0E0E0F1F1F1F1: {},
	0x01FE01FE01FE01FE: {}, 0xFE01FE01FE01FE01: {},
	0x1FE01FE00EF10EF1: {}, 0xE01FE01FF10EF10E: {},
	0x01E001E001F101F1: {}, 0xE001E001F101F101: {},
	0x1FFE1FFE0EFE0EFE: {}, 0xFE1FFE1FFE0EFE0E: {},
	0x011F011F010E010E: {}, 0x1F011F010E010E01: {},
	0xE0FEE0FEF1FEF1FE: {}, 0xFEE0FEE0FEF1FEF1: {},
}

// KeyBlock converts a candidate into DES key material: the little-endian
// bytes of key with every byte forced to odd parity. ok is false for weak
// and semi-weak keys.
func KeyBlock(key uint64) (block [8]byte, ok bool) {
	binary.LittleEndian.PutUint64(block[:], key)
	for i, b := range block {
		if bits.OnesCount8(b&0xFE)%2 == 0 {
			block[i] = b | 0x01
		} else {
			block[i] = b &^ 0x01
		}
	}
	_, weak := weakKeys[binary.BigEndian.Uint64(block[:])]
	return block, !weak
}

// transform runs DES-ECB over every whole 8-byte block of buf in place.
// A trailing partial block is left untouched. It reports false when the key
// is rejected, in which case buf is unchanged.
func transform(key uint64, buf []byte, encrypt bool) bool {
	kb, ok := KeyBlock(key)
	if !ok {
		return false
	}
	c, err := des.NewCipher(kb[:])
	if err != nil {
		return false
	}
	for off := 0; off+des.BlockSize <= len(buf); off += des.BlockSize {
		blk := buf[off : off+des.BlockSize]
		if encrypt {
			c.Encrypt(blk, blk)
		} else {
			c.Decrypt(blk, blk)
		}
	}
	return true
}

// Decrypt returns a decrypted copy of payload under key. Rejected keys
// return an unmodified copy. Only whole 8-byte blocks are decrypted: when
// len(payload) is not a multiple of 8 the last len(payload)%8 bytes are
// copied through as they are. Encrypt output is always block aligned.
func Decrypt(key uint64, payload []byte) []byte {
	out := bytes.Clone(payload)
	transform(key, out, false)
	return out
}

// Encrypt zero-pads plaintext to a multiple of the block size and encrypts
// it under key.
func Encrypt(key uint64, plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintext {
		return nil, payloadErrorf("plaintext is %d bytes, limit %d", len(plaintext), MaxPlaintext)
	}
	padded := make([]byte, (len(plaintext)+des.BlockSize-1)/des.BlockSize*des.BlockSize)
	copy(padded, plaintext)
	if !transform(key, padded, true) {
		return nil, payloadErrorf("key %d is a weak DES key", key)
	}
	return padded, nil
}

// Keyword is the DES known-plaintext oracle: a key matches when the
// decrypted ciphertext, read up to its first NUL byte, contains the keyword.
// The ciphertext and keyword are copied at construction and never modified.
//
// As with Decrypt, a ciphertext that is not block aligned keeps its trailing
// partial block raw, so those bytes are matched against the keyword
// undecrypted under every key.
type Keyword struct {
	cipher  []byte
	keyword []byte
	scratch sync.Pool
}

// NewKeyword builds the oracle for a ciphertext and keyword.
func NewKeyword(cipherText, keyword []byte) (*Keyword, error) {
	if len(cipherText) > MaxPayload {
		return nil, payloadErrorf("ciphertext is %d bytes, scratch buffer holds %d", len(cipherText), MaxPayload)
	}
	if len(keyword) == 0 {
		return nil, payloadErrorf("empty keyword")
	}
	k := &Keyword{
		cipher:  bytes.Clone(cipherText),
		keyword: bytes.Clone(keyword),
	}
	size := len(cipherText)
	k.scratch.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return k, nil
}

// Try decrypts the ciphertext under key and looks for the keyword. The
// trailing partial block of a non-aligned ciphertext is searched as is.
func (k *Keyword) Try(key uint64) bool {
	bp := k.scratch.Get().(*[]byte)
	defer k.scratch.Put(bp)

	buf := *bp
	copy(buf, k.cipher)
	if !transform(key, buf, false) {
		return false
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return bytes.Contains(buf, k.keyword)
}

// Decrypt renders the oracle's ciphertext under key.
func (k *Keyword) Decrypt(key uint64, payload []byte) []byte {
	return Decrypt(key, payload)
}

// Ciphertext returns a copy of the ciphertext the oracle probes.
func (k *Keyword) Ciphertext() []byte { return bytes.Clone(k.cipher) }
