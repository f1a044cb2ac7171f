// Package host describes the build system a minification pass runs against.
package host

import (
	"regexp"
)

// DefaultPattern matches script assets, optionally followed by a query.
const DefaultPattern = `(?i)\.m?js(\?.*)?$`

// OutputOptions are the build's output hashing settings.
type OutputOptions struct {
	HashFunction     string
	HashDigest       string
	HashDigestLength int
	HashSalt         string
}

// Compilation is the slice of a build that a pass reads and mutates.
type Compilation interface {
	Assets() []string
	Source(name string) (string, error)
	Update(name, code string) // replace an existing asset
	Emit(name, code string)   // add a new asset
	PushError(err error)
	PushWarning(msg string)
	Output() OutputOptions
}

// Candidates returns the assets of c whose names match pattern, in asset
// order. A nil pattern uses DefaultPattern.
func Candidates(c Compilation, pattern *regexp.Regexp) []string {
	if pattern == nil {
		pattern = defaultPattern
	}
	var out []string
	for _, name := range c.Assets() {
		if pattern.MatchString(name) {
			out = append(out, name)
		}
	}
	return out
}

var defaultPattern = regexp.MustCompile(DefaultPattern)
