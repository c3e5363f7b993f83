// Package id generates correlation identifiers for bridged requests.
//
// A request id has the form <pathname>__<METHOD>__<ulid>. The pathname and
// method prefix make pending-table dumps and logs readable; the ULID suffix
// carries 80 bits of crypto entropy, which keeps collisions negligible for
// the lifetime of any pending request.
package id

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Separator joins the parts of a request id.
const Separator = "__"

// Generator generates ULIDs from a shared entropy source.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// RequestID builds a correlation id for a request to pathname using method.
// An empty method means GET.
func (g *Generator) RequestID(pathname, method string) string {
	if method == "" {
		method = "GET"
	}
	return pathname + Separator + strings.ToUpper(method) + Separator + g.GenerateString()
}

// NewRequestID builds a correlation id with the default generator.
func NewRequestID(pathname, method string) string {
	return Default().RequestID(pathname, method)
}

// Suffix returns the ULID part of a request id, or "" if the id was not
// produced by this package.
func Suffix(requestID string) string {
	i := strings.LastIndex(requestID, Separator)
	if i < 0 {
		return ""
	}
	s := requestID[i+len(Separator):]
	if !IsValid(s) {
		return ""
	}
	return s
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Age reports how long ago the request id was minted. It returns zero for
// ids without a ULID suffix.
func Age(requestID string, now time.Time) time.Duration {
	s := Suffix(requestID)
	if s == "" {
		return 0
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return 0
	}
	return now.Sub(ulid.Time(parsed.Time()))
}
