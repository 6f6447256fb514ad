package utils

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// DigestToUUID turns a hex encoded content digest into a blob id by keeping
// its first 16 bytes. Truncation trades collision resistance for a compact
// id; two digests sharing a 128-bit prefix map to the same blob data.
func DigestToUUID(digestHex string) (string, error) {
	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return "", fmt.Errorf("invalid digest %q: %w", digestHex, err)
	}
	if len(digest) < 16 {
		return "", fmt.Errorf("digest too short: %d bytes", len(digest))
	}
	id, err := uuid.FromBytes(digest[:16])
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// StringToUUID builds a blob id from the first 16 bytes of s, zero padded
// when s is shorter. It is used for backend etags and must not be mixed
// with DigestToUUID: the same content yields different ids.
func StringToUUID(s string) string {
	var id uuid.UUID
	copy(id[:], s)
	return id.String()
}
