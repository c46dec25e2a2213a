package store

import (
	"crypto/sha256"
	"fmt"
)

// CodeHash returns the hex SHA-256 of src. The journal records hashes
// instead of source text.
func CodeHash(src string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(src)))
}
