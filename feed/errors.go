package feed

import "fmt"

// ErrorKind classifies why a feed document could not be produced.
type ErrorKind int

const (
	// KindInvalidURL means the URL is not an absolute http(s) URL.
	KindInvalidURL ErrorKind = iota
	// KindUnreachable means the fetch failed at the network or HTTP
	// level. Status carries the HTTP status when one was received.
	KindUnreachable
	// KindAuthRequired means the server answered 401 or 403.
	KindAuthRequired
	// KindNotAFeed means the document is not recognizable as RSS/Atom.
	KindNotAFeed
)

// ParseError describes a validation, fetch, or parse failure.
type ParseError struct {
	Kind   ErrorKind
	Status int
	cause  error
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case KindInvalidURL:
		return "invalid URL format: only absolute http and https URLs are supported"
	case KindAuthRequired:
		return "feed requires authentication, ensure the URL is publicly accessible"
	case KindUnreachable:
		if e.Status > 0 {
			return fmt.Sprintf("could not reach URL: HTTP %d", e.Status)
		}
		if e.cause != nil {
			return fmt.Sprintf("could not reach URL: %v", e.cause)
		}
		return "could not reach URL"
	case KindNotAFeed:
		return "URL does not point to a valid RSS or Atom feed"
	}
	return "feed error"
}

func (e *ParseError) Unwrap() error {
	return e.cause
}
