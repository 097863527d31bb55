package asyncq

import (
	"fmt"
	"strings"
)

// QueueKind classifies a queue identity.
type QueueKind int8

const (
	KindPublic QueueKind = iota
	KindPrivate
	KindRemotePrivate
	KindFormatName
)

func (k QueueKind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindPrivate:
		return "private"
	case KindRemotePrivate:
		return "remote-private"
	case KindFormatName:
		return "format-name"
	default:
		return fmt.Sprintf("QueueKind(%d)", int8(k))
	}
}

const (
	privateSegment   = "private$"
	formatNamePrefix = "formatname:"
)

// Identity is a parsed queue identity.
//
// Identities follow the familiar path grammar: "name", "host/name",
// "private$/name", "./private$/name", "host/private$/name" or
// "FormatName:...". Backslashes and slashes are interchangeable, and
// identities compare case-insensitively.
type Identity struct {
	raw  string
	key  string
	kind QueueKind
}

// ParseIdentity parses s. It fails with ErrInvalidIdentity when s is empty
// or has an empty path segment.
func ParseIdentity(s string) (Identity, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, ErrInvalidIdentity
	}
	key := strings.ToLower(strings.ReplaceAll(s, `\`, "/"))
	if strings.HasPrefix(key, formatNamePrefix) {
		if len(key) == len(formatNamePrefix) {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
		}
		return Identity{raw: raw, key: key, kind: KindFormatName}, nil
	}
	parts := strings.Split(key, "/")
	for _, p := range parts {
		if p == "" {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
		}
	}
	id := Identity{raw: raw, kind: KindPublic}
	switch {
	case len(parts) == 1:
		if parts[0] == privateSegment {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
		}
	case len(parts) == 2 && parts[0] == privateSegment:
		id.kind = KindPrivate
	case len(parts) == 2:
		if parts[1] == privateSegment {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
		}
		if isLocalHost(parts[0]) {
			parts = parts[1:]
		}
	case len(parts) == 3 && parts[1] == privateSegment:
		if isLocalHost(parts[0]) {
			id.kind = KindPrivate
			parts = parts[1:]
		} else {
			id.kind = KindRemotePrivate
		}
	default:
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)
	}
	id.key = strings.Join(parts, "/")
	return id, nil
}

func isLocalHost(h string) bool {
	return h == "." || h == "localhost"
}

// String returns the identity as it was given.
func (id Identity) String() string {
	return id.raw
}

// Key is the canonical form used by transports to address storage.
func (id Identity) Key() string {
	return id.key
}

func (id Identity) Kind() QueueKind {
	return id.kind
}

// Creatable reports whether a transport may create the queue. Remote
// private queues and format-name addresses can only be opened.
func (id Identity) Creatable() bool {
	return id.kind == KindPublic || id.kind == KindPrivate
}
