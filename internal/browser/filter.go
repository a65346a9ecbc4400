package browser

import (
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

// Decision is the outcome of filtering one outgoing request.
type Decision int

const (
	// Allow lets the request continue unchanged.
	Allow Decision = iota
	// Block fails the request before it leaves the browser.
	Block
)

// String returns the decision name for logging.
func (d Decision) String() string {
	if d == Block {
		return "block"
	}
	return "allow"
}

// RequestFilter decides which requests a session tab may send.
// It holds no browser state, so Decide can be called from any goroutine.
type RequestFilter struct {
	blockedTypes    map[proto.NetworkResourceType]struct{}
	blockedPatterns []string
}

// NewRequestFilter builds a filter from resource type names
// ("image", "stylesheet", ...) and URL substrings.
// Type names are matched case-insensitively against CDP resource types.
func NewRequestFilter(resourceTypes, urlPatterns []string) *RequestFilter {
	f := &RequestFilter{
		blockedTypes:    make(map[proto.NetworkResourceType]struct{}, len(resourceTypes)),
		blockedPatterns: make([]string, 0, len(urlPatterns)),
	}
	for _, t := range resourceTypes {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		f.blockedTypes[normalizeResourceType(t)] = struct{}{}
	}
	for _, p := range urlPatterns {
		if p = strings.TrimSpace(p); p != "" {
			f.blockedPatterns = append(f.blockedPatterns, p)
		}
	}
	return f
}

// Decide returns Block for blocked resource types and for URLs containing
// any blocked substring, Allow otherwise.
func (f *RequestFilter) Decide(resourceType proto.NetworkResourceType, url string) Decision {
	if _, ok := f.blockedTypes[resourceType]; ok {
		return Block
	}
	for _, p := range f.blockedPatterns {
		if strings.Contains(url, p) {
			return Block
		}
	}
	return Allow
}

// normalizeResourceType maps a lower-case name such as "stylesheet" to the
// CDP enum value "Stylesheet".
func normalizeResourceType(name string) proto.NetworkResourceType {
	lower := strings.ToLower(name)
	switch lower {
	case "xhr":
		return proto.NetworkResourceTypeXHR
	case "texttrack":
		return proto.NetworkResourceTypeTextTrack
	case "eventsource":
		return proto.NetworkResourceTypeEventSource
	case "websocket":
		return proto.NetworkResourceTypeWebSocket
	case "signedexchange":
		return proto.NetworkResourceTypeSignedExchange
	}
	return proto.NetworkResourceType(strings.ToUpper(lower[:1]) + lower[1:])
}
