package oracle

import (
	"bytes"
	"fmt"
	"os"
)

// LoadCiphertext reads a ciphertext file and checks it fits a probe buffer.
func LoadCiphertext(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ciphertext: %w", err)
	}
	if len(data) > MaxPayload {
		return nil, payloadErrorf("%s is %d bytes, limit %d", path, len(data), MaxPayload)
	}
	return data, nil
}

// LoadKeyword reads a keyword file, keeps at most MaxKeyword bytes and trims
// trailing CR/LF. An empty keyword is an error.
func LoadKeyword(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword: %w", err)
	}
	return ParseKeyword(data, path)
}

// ParseKeyword applies the keyword file rules to raw bytes; source names the
// origin in errors.
func ParseKeyword(data []byte, source string) ([]byte, error) {
	if len(data) > MaxKeyword {
		data = data[:MaxKeyword]
	}
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, payloadErrorf("empty keyword in %s", source)
	}
	return data, nil
}

// LoadKeywordOracle loads both files and builds the DES keyword oracle.
func LoadKeywordOracle(cipherPath, keywordPath string) (*Keyword, error) {
	ct, err := LoadCiphertext(cipherPath)
	if err != nil {
		return nil, err
	}
	kw, err := LoadKeyword(keywordPath)
	if err != nil {
		return nil, err
	}
	return NewKeyword(ct, kw)
}
