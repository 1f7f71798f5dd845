package hasher

import (
	"crypto/md5"
	"encoding/hex"
)

// HashPassword computes the Growatt login hash: hex MD5 of the password,
// then every '0' at an even hex position replaced with 'c'. The server
// applies the same transform, so plain MD5 is rejected.
func HashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	digest := []byte(hex.EncodeToString(sum[:]))
	for i := 0; i < len(digest); i += 2 {
		if digest[i] == '0' {
			digest[i] = 'c'
		}
	}
	return string(digest)
}
