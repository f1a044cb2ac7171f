package task

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrUnknownHash     = errors.New("task: unknown hash function")
	ErrUnknownEncoding = errors.New("task: unknown digest encoding")
)

// HashOptions mirrors the host's output hashing settings.
type HashOptions struct {
	Function string
	Digest   string
	Length   int
	Salt     string
}

var hashers = map[string]func() hash.Hash{
	"md5":      md5.New,
	"sha1":     sha1.New,
	"sha256":   sha256.New,
	"sha512":   sha512.New,
	"xxhash64": func() hash.Hash { return xxhash.New() },
}

// HashFunctions lists the supported hash function names.
func HashFunctions() []string {
	return []string{"md5", "sha1", "sha256", "sha512", "xxhash64"}
}

// ContentHash digests salt+input and returns the first o.Length characters
// of the encoded digest (all of it when Length <= 0).
func ContentHash(o HashOptions, input string) (string, error) {
	newHash, ok := hashers[strings.ToLower(o.Function)]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownHash, o.Function)
	}
	h := newHash()
	if o.Salt != "" {
		h.Write([]byte(o.Salt))
	}
	h.Write([]byte(input))
	sum := h.Sum(nil)

	var digest string
	switch strings.ToLower(o.Digest) {
	case "", "hex":
		digest = hex.EncodeToString(sum)
	case "base64":
		digest = base64.StdEncoding.EncodeToString(sum)
	case "base64url":
		digest = base64.RawURLEncoding.EncodeToString(sum)
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownEncoding, o.Digest)
	}
	if o.Length > 0 && o.Length < len(digest) {
		digest = digest[:o.Length]
	}
	return digest, nil
}
