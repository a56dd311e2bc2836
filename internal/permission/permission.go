// Package permission implements C5: a compiled-in, totally ordered
// role×intent matrix. The table is a constant, not a runtime-loaded
// policy, per spec.md §9's "dynamic module dispatch" redesign note —
// closed tagged variants beat reflective dispatch for a fixed intent set.
package permission

import (
	"github.com/triflow-ai/core/internal/classifier"
)

// Role is one of the five totally ordered authority tiers.
type Role int

const (
	RoleViewer Role = iota
	RoleUser
	RoleOperator
	RoleApprover
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleUser:
		return "user"
	case RoleOperator:
		return "operator"
	case RoleApprover:
		return "approver"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name to its Role, defaulting to RoleViewer (the
// least-privileged role) for an unrecognized string.
func ParseRole(s string) Role {
	switch s {
	case "user":
		return RoleUser
	case "operator":
		return RoleOperator
	case "approver":
		return RoleApprover
	case "admin":
		return RoleAdmin
	default:
		return RoleViewer
	}
}

// required is the compiled-in intent -> minimum role table. Intents
// absent from this map default to RoleAdmin (spec.md §4.2).
var required = map[classifier.Intent]Role{
	classifier.IntentCheck:         RoleViewer,
	classifier.IntentTrend:         RoleViewer,
	classifier.IntentCompare:       RoleViewer,
	classifier.IntentRank:          RoleViewer,
	classifier.IntentReport:        RoleViewer,
	classifier.IntentFindCause:     RoleUser,
	classifier.IntentDetectAnomaly: RoleUser,
	classifier.IntentPredict:       RoleOperator,
	classifier.IntentWhatIf:        RoleUser,
	classifier.IntentContinue:      RoleUser,
	classifier.IntentClarify:       RoleUser,
	classifier.IntentNotify:        RoleOperator,
	classifier.IntentStop:          RoleOperator,
	classifier.IntentSystem:        RoleAdmin,
}

// Required returns the minimum role an intent needs, defaulting to
// RoleAdmin when the intent is not registered.
func Required(intent classifier.Intent) Role {
	if r, ok := required[intent]; ok {
		return r
	}
	return RoleAdmin
}

// CheckResult is what C6 annotates the routing result with on denial.
type CheckResult struct {
	Allowed      bool
	PermissionDenied bool
	RequiredRole Role
	UserRole     Role
}

// Check reports whether role may invoke intent. A nil-equivalent role
// value is never produced here; callers representing an unauthenticated
// internal caller (background schedulers) should bypass Check entirely
// rather than pass a sentinel role, per spec.md §4.2.
func Check(role Role, intent classifier.Intent) CheckResult {
	req := Required(intent)
	allowed := role >= req
	return CheckResult{Allowed: allowed, PermissionDenied: !allowed, RequiredRole: req, UserRole: role}
}
