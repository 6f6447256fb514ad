package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestToUUID(t *testing.T) {
	sum := sha256.Sum256([]byte("hello"))
	digest := hex.EncodeToString(sum[:])

	id, err := DigestToUUID(digest)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba-5fb0-a30e-26e8-3b2ac5b9e29e", id)

	again, err := DigestToUUID(digest)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestDigestToUUIDRejectsBadInput(t *testing.T) {
	_, err := DigestToUUID("zz")
	assert.Error(t, err)

	_, err = DigestToUUID("abcd")
	assert.Error(t, err)
}

func TestStringToUUID(t *testing.T) {
	// 16 bytes of ASCII map to their byte values.
	assert.Equal(t, "30313233-3435-3637-3839-616263646566", StringToUUID("0123456789abcdefXYZ"))
	// Shorter input is zero padded.
	assert.Equal(t, "61000000-0000-0000-0000-000000000000", StringToUUID("a"))
}

func TestHashDerivationsDiffer(t *testing.T) {
	sum := sha256.Sum256([]byte("hello"))
	digest := hex.EncodeToString(sum[:])

	fromDigest, err := DigestToUUID(digest)
	require.NoError(t, err)
	assert.NotEqual(t, fromDigest, StringToUUID(digest))
}
