package tilecache

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// keyDelimiter separates key fields. Source references that could contain it
// are hashed before encoding so the key stays collision-free.
const keyDelimiter = ":"

// maxPlainRef is the longest source reference embedded verbatim in a key.
// Longer references (typically full URLs) are hashed.
const maxPlainRef = 64

// Key identifies a tile variant. Two requests with equal Key fields address
// the same cached bytes.
type Key struct {
	// SourceRef is the local image identifier or external image URL.
	SourceRef string

	// Pyramid address.
	Z, X, Y int

	// Rendering flags; each variant caches separately.
	Enhance             bool
	Labels              bool
	ConfidenceThreshold float64
	Quality             int
}

// String generates the canonical cache key.
// Format: tile:<ref>:<z>:<x>:<y>:e<0|1>:l<0|1>:c<threshold>:q<quality>
//
// The encoding is deterministic: fixed field order, fixed separators, and a
// shortest-round-trip float rendering for the confidence threshold.
func (k Key) String() string {
	parts := []string{
		"tile",
		SanitizeRef(k.SourceRef),
		strconv.Itoa(k.Z),
		strconv.Itoa(k.X),
		strconv.Itoa(k.Y),
		"e" + flag(k.Enhance),
		"l" + flag(k.Labels),
		"c" + strconv.FormatFloat(k.ConfidenceThreshold, 'g', -1, 64),
		"q" + strconv.Itoa(k.Quality),
	}
	return strings.Join(parts, keyDelimiter)
}

// SourcePrefix returns the key prefix shared by every cached variant of a
// source image. Used for bulk invalidation when the source changes.
func SourcePrefix(sourceRef string) string {
	return "tile" + keyDelimiter + SanitizeRef(sourceRef) + keyDelimiter
}

// SanitizeRef makes a source reference safe for key embedding. References
// containing the delimiter or exceeding maxPlainRef bytes (URLs, mostly) are
// replaced by their md5 hex digest, mirroring how external references are
// identified elsewhere in the API.
func SanitizeRef(ref string) string {
	if len(ref) <= maxPlainRef && !strings.Contains(ref, keyDelimiter) && !strings.Contains(ref, "/") {
		return ref
	}
	sum := md5.Sum([]byte(ref))
	return hex.EncodeToString(sum[:])
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
