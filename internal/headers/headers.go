// Package headers supplies browser-like request headers for outbound fetches.
package headers

import (
	"math/rand/v2"
	"net/http"
	"strings"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

// DefaultUserAgents is the desktop browser pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Rotating picks a User-Agent from a fixed pool for every request.
type Rotating struct {
	agents  []string
	referer string
	pick    func(n int) int
}

// NewRotating builds a Rotating source. An empty pool falls back to DefaultUserAgents.
// referer is sent with document downloads.
func NewRotating(agents []string, referer string) *Rotating {
	pool := make([]string, 0, len(agents))
	for _, a := range agents {
		if strings.TrimSpace(a) != "" {
			pool = append(pool, a)
		}
	}
	if len(pool) == 0 {
		pool = append(pool, DefaultUserAgents...)
	}
	return &Rotating{
		agents:  pool,
		referer: referer,
		pick:    rand.IntN,
	}
}

// Headers returns the header set for the given request kind.
// Accept-Encoding is left to the transport so responses are decompressed transparently.
func (r *Rotating) Headers(kind gazette.RequestKind) http.Header {
	h := http.Header{}
	h.Set("User-Agent", r.agents[r.pick(len(r.agents))])
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Cache-Control", "no-cache")

	switch kind {
	case gazette.RequestDocument:
		h.Set("Accept", "application/pdf,*/*")
		if r.referer != "" {
			h.Set("Referer", r.referer)
		}
	default:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		h.Set("Pragma", "no-cache")
	}
	return h
}
