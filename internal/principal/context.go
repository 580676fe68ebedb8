package principal

import (
	"context"
	"strings"
)

// Principal identifies the caller on whose behalf work is performed. It is an
// opaque value resolved at the edge and carried explicitly through the call
// chain so deferred jobs record who scheduled them.
type Principal struct {
	Name string
	Type string
}

const (
	TypeUser   = "user"
	TypeSystem = "system"
)

// System is the principal attached to work the service starts on its own.
var System = Principal{Name: "capstan", Type: TypeSystem}

func (p Principal) String() string {
	if p.Name == "" {
		return ""
	}
	return p.Type + ":" + p.Name
}

// Parse reverses String. Unknown shapes are treated as user principals.
func Parse(raw string) Principal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Principal{}
	}
	if typ, name, ok := strings.Cut(raw, ":"); ok {
		switch typ {
		case TypeUser, TypeSystem:
			return Principal{Name: name, Type: typ}
		}
	}
	return Principal{Name: raw, Type: TypeUser}
}

type contextKey struct{}

// WithPrincipal stores the principal in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal from context, if set.
func FromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok || p.Name == "" {
		return Principal{}, false
	}
	return p, true
}
