package cachestore

import (
	"strconv"

	"github.com/spaolacci/murmur3"
)

// fingerprintWindow is how many leading and trailing characters feed the content hash.
const fingerprintWindow = 500

// ComputeKey derives the cache key of one analyzed document instance.
func ComputeKey(url, contentHash string) string {
	return strconv.FormatUint(murmur3.Sum64([]byte(url)), 36) + "-" + contentHash
}

// ContentHash fingerprints document text from its first and last characters and its length.
//
// Edits in the middle of long documents that keep the length unchanged are
// not detected.
func ContentHash(text string) string {
	runes := []rune(text)
	head := runes[:min(fingerprintWindow, len(runes))]
	tail := runes[max(0, len(runes)-fingerprintWindow):]

	hasher := murmur3.New64()
	_, _ = hasher.Write([]byte(string(head)))
	_, _ = hasher.Write([]byte(string(tail)))
	_, _ = hasher.Write([]byte(strconv.Itoa(len(runes))))

	return strconv.FormatUint(hasher.Sum64(), 36)
}
