package access

import (
	"errors"

	"github.com/Upreak/Upjobv1-sub001/internal/session"
)

var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInsufficientRole = errors.New("insufficient role")
)

type Reason string

const (
	ReasonNoRule           Reason = "no-rule"
	ReasonRolePermitted    Reason = "role-permitted"
	ReasonUnauthenticated  Reason = "unauthenticated"
	ReasonInsufficientRole Reason = "insufficient-role"
)

// Decision is the outcome of one gate evaluation.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Rule is the rule that governed the decision; zero when none matched.
	Rule Rule
}

// Err maps a denial onto the error taxonomy; nil for allowed decisions.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonUnauthenticated:
		return ErrUnauthenticated
	case ReasonInsufficientRole:
		return ErrInsufficientRole
	}
	return nil
}

// Evaluate decides whether a caller holding s may reach path. s is nil when
// no valid session could be resolved. Paths no rule covers are allowed
// whether or not a session exists.
func Evaluate(t *Table, s *session.Session, path string) Decision {
	rule, ok := t.Match(path)
	if !ok {
		return Decision{Allowed: true, Reason: ReasonNoRule}
	}
	return EvaluateRule(rule, s)
}

// EvaluateRule applies a single, already matched rule.
func EvaluateRule(rule Rule, s *session.Session) Decision {
	if s == nil {
		return Decision{Reason: ReasonUnauthenticated, Rule: rule}
	}
	if !rule.Permits(s.Role) {
		return Decision{Reason: ReasonInsufficientRole, Rule: rule}
	}
	return Decision{Allowed: true, Reason: ReasonRolePermitted, Rule: rule}
}
