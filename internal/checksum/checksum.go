// Package checksum derives the short content hashes that name call cycles
// and audio artifacts: Blake2b truncated to 4 bytes, hex encoded, inputs
// concatenated without separator. The narrow digest is a deliberate
// trade-off scoped to the retry window.
package checksum

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes; hex strings are twice as long.
const Size = 4

// HexLen is the length of every checksum string.
const HexLen = Size * 2

func sum(parts ...string) string {
	h, _ := blake2b.New(Size, nil)
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Call is the deduplication key for a (phone, message) pair.
func Call(phone, message string) string {
	return sum(phone, message)
}

// Message names the audio artifact carrying the message body.
func Message(message string) string {
	return sum(message)
}

// Unique identifies one attempt sequence: the cycle key extended with the
// textual first-dial instant.
func Unique(phone, message, firstDial string) string {
	return sum(phone, message, firstDial)
}
