package ratelimit

import (
	"fmt"
	"strings"
	"time"

	"clinic-gateway/internal/common/errors"
	"clinic-gateway/internal/identity"
)

// Kind classifies a rate-limit policy.
type Kind string

const (
	// KindRole limits authenticated callers by their role name.
	KindRole Kind = "role"
	// KindEndpoint limits by request path prefix, first match wins.
	KindEndpoint Kind = "endpoint"
	// KindAnonymous limits unauthenticated traffic per origin.
	KindAnonymous Kind = "anonymous"
	// KindDefault is the fallback for roles without an explicit entry.
	KindDefault Kind = "default"
)

// DefaultMessage is the rejection message used when a policy does not
// override it.
const DefaultMessage = "Too many requests, please try again later"

// Policy is one validated rate-limit rule.
type Policy struct {
	Kind    Kind
	Matcher string // role name or path prefix; empty for anonymous/default
	Limit   int
	Window  time.Duration

	Message         string
	StandardHeaders bool
	LegacyHeaders   bool
	SkipSuccessful  bool
}

// Validate checks a single policy. Misconfiguration is a startup
// error, never a runtime fault.
func (p Policy) Validate() error {
	switch p.Kind {
	case KindRole:
		if p.Matcher == "" {
			return errors.ConfigError("role policy requires a role name")
		}
	case KindEndpoint:
		if !strings.HasPrefix(p.Matcher, "/") {
			return errors.ConfigError(fmt.Sprintf("endpoint policy prefix %q must start with /", p.Matcher))
		}
	case KindAnonymous, KindDefault:
		if p.Matcher != "" {
			return errors.ConfigError(fmt.Sprintf("%s policy must not carry a matcher", p.Kind))
		}
	default:
		return errors.ConfigError(fmt.Sprintf("unknown policy kind %q", p.Kind))
	}

	if p.Limit <= 0 {
		return errors.ConfigError(fmt.Sprintf("%s policy limit must be positive, got %d", p.Kind, p.Limit))
	}
	if p.Window <= 0 {
		return errors.ConfigError(fmt.Sprintf("%s policy window must be positive, got %s", p.Kind, p.Window))
	}
	if p.StandardHeaders && p.LegacyHeaders {
		return errors.ConfigError("policy cannot enable both standard and legacy headers")
	}
	return nil
}

// Registry holds the validated policy tables and dispatches each
// request to exactly one policy per dimension.
type Registry struct {
	store CounterStore

	defaultPolicy   Policy
	anonymousPolicy Policy
	roles           []Policy // ordered as declared
	endpoints       []Policy // ordered as declared, first prefix match wins
}

// NewRegistry validates the declared policies and builds the registry.
// Exactly one default and one anonymous policy are required; role and
// endpoint tables may be empty.
func NewRegistry(store CounterStore, policies []Policy) (*Registry, error) {
	reg := &Registry{store: store}

	var haveDefault, haveAnonymous bool
	seenRoles := make(map[string]bool)

	for _, p := range policies {
		if p.Message == "" {
			p.Message = DefaultMessage
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}

		switch p.Kind {
		case KindDefault:
			if haveDefault {
				return nil, errors.ConfigError("duplicate default policy")
			}
			haveDefault = true
			reg.defaultPolicy = p
		case KindAnonymous:
			if haveAnonymous {
				return nil, errors.ConfigError("duplicate anonymous policy")
			}
			haveAnonymous = true
			reg.anonymousPolicy = p
		case KindRole:
			if seenRoles[p.Matcher] {
				return nil, errors.ConfigError(fmt.Sprintf("duplicate role policy %q", p.Matcher))
			}
			seenRoles[p.Matcher] = true
			reg.roles = append(reg.roles, p)
		case KindEndpoint:
			reg.endpoints = append(reg.endpoints, p)
		}
	}

	if !haveDefault {
		return nil, errors.ConfigError("missing default policy")
	}
	if !haveAnonymous {
		return nil, errors.ConfigError("missing anonymous policy")
	}

	return reg, nil
}

// RolePolicy resolves the identity dimension: anonymous traffic gets
// the anonymous policy, authenticated callers their role policy or the
// default fallback.
func (reg *Registry) RolePolicy(id *identity.Identity) Policy {
	if id == nil {
		return reg.anonymousPolicy
	}
	for _, p := range reg.roles {
		if p.Matcher == id.Role {
			return p
		}
	}
	return reg.defaultPolicy
}

// EndpointPolicy resolves the endpoint dimension: the first declared
// prefix matching the path wins; paths matching no prefix skip this
// dimension entirely.
func (reg *Registry) EndpointPolicy(path string) (Policy, bool) {
	for _, p := range reg.endpoints {
		if strings.HasPrefix(path, p.Matcher) {
			return p, true
		}
	}
	return Policy{}, false
}
