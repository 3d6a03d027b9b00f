package manifest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes the canonical content digest of raw manifest bytes, rendered
// as a prefixed hex string. It is an opaque identity token used for change
// detection; callers must hash the same serialization they fetched.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
