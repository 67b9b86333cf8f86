package auth

import (
	"errors"
	"strings"
)

// RouteRule is the static admission requirement attached to a route when it
// is registered. The zero value admits everyone with no principal attached.
type RouteRule struct {
	RequiresLogin       bool
	RequiredPermissions []string
}

// RouteRules maps route identifiers to their admission requirements. Rules
// are registered at startup and read-only at request time, so lookups take
// no lock.
type RouteRules struct {
	rules map[string]RouteRule
}

// NewRouteRules returns an empty registry.
func NewRouteRules() *RouteRules {
	return &RouteRules{rules: make(map[string]RouteRule)}
}

// Register attaches a rule to a route identifier, replacing any previous one.
func (r *RouteRules) Register(routeID string, rule RouteRule) {
	r.rules[routeID] = rule
}

// Lookup returns the rule for a route identifier. Unregistered routes get the
// zero rule and are therefore public.
func (r *RouteRules) Lookup(routeID string) RouteRule {
	return r.rules[routeID]
}

// RejectKind classifies a guard rejection.
type RejectKind string

const (
	// RejectUnauthenticated covers a missing bearer header and every token
	// verification failure.
	RejectUnauthenticated RejectKind = "unauthenticated"
	// RejectForbidden means the principal authenticated but lacks a required
	// permission.
	RejectForbidden RejectKind = "forbidden"
)

// Admission is the outcome of evaluating a route rule against a request.
// Principal is nil when the route did not require login.
type Admission struct {
	Admitted  bool
	Principal *Snapshot
	Kind      RejectKind
	Message   string
}

func rejected(kind RejectKind, msg string) Admission {
	return Admission{Kind: kind, Message: msg}
}

// Guard evaluates route admission requirements against bearer credentials.
type Guard struct {
	issuer *Issuer
}

// NewGuard constructs a Guard verifying tokens with the given issuer.
func NewGuard(issuer *Issuer) *Guard {
	return &Guard{issuer: issuer}
}

// Admit runs the two-stage admission pipeline. The ordering is load-bearing:
// the permission stage never evaluates without an authenticated principal,
// so a login-exempt route is admitted even when a permission requirement is
// registered against it by mistake.
func (g *Guard) Admit(rule RouteRule, authorization string) Admission {
	// Login stage.
	if !rule.RequiresLogin {
		return Admission{Admitted: true}
	}
	token, err := ExtractBearerToken(authorization)
	if err != nil {
		return rejected(RejectUnauthenticated, "login required")
	}
	claims, err := g.issuer.VerifyAccess(token)
	if err != nil {
		return rejected(RejectUnauthenticated, "session invalid, please re-authenticate")
	}
	snap := claims.Snapshot()

	// Permission stage. All required codes must be present; the first missing
	// code rejects.
	for _, code := range rule.RequiredPermissions {
		if !snap.HasPermission(code) {
			return rejected(RejectForbidden, "insufficient permission")
		}
	}
	return Admission{Admitted: true, Principal: &snap}
}

// ExtractBearerToken parses an Authorization header value of the form
// "Bearer <token>".
func ExtractBearerToken(header string) (string, error) {
	const bearer = "Bearer "
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
