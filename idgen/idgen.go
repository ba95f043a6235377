// Package idgen generates identifiers for capture events and analysis jobs.
//
// Constructors that mint ids accept a Generator so tests can pin them.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Ids sort by creation time.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Capture mints capture event ids ("cap_<uuidv7>").
var Capture = Prefixed("cap_", UUIDv7())

// Job mints analysis job ids ("job_<uuidv7>").
var Job = Prefixed("job_", UUIDv7())

// Sequence returns a deterministic Generator for tests: prefix1, prefix2, ...
// It is not safe for concurrent use.
func Sequence(prefix string) Generator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// Valid reports whether id is a prefixed UUID as produced by Prefixed(prefix, UUIDv7()).
func Valid(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
