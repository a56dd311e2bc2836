// Package scope implements C15: the per-user data-scope filter of
// spec.md §4.13, carried on the request context and composed into
// store queries as parameterized WHERE fragments.
//
// The predicate-builder style is grounded on the teacher's
// hand-written parameterized queries in internal/db (no query-builder
// library appears anywhere in the retrieved corpus, so this core
// doesn't introduce one either).
package scope

import (
	"context"
	"fmt"

	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/permission"
)

// Scope is an alias for the shared data-model type so both the HTTP
// layer and the store package speak the same shape.
type Scope = models.DataScope

type ctxKey struct{}

// WithContext attaches a scope to ctx, for the orchestrator/httpapi
// layer to set once per request after authentication.
func WithContext(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the request's scope, or an intentionally empty,
// no-access scope when none was attached — a missing scope must never
// default to all_access.
func FromContext(ctx context.Context) Scope {
	if s, ok := ctx.Value(ctxKey{}).(Scope); ok {
		return s
	}
	return Scope{}
}

// ForUser derives a scope from a resolved role and the user's stored
// metadata sets. Admin always yields all_access=true (spec.md §4.13);
// every other role is restricted to exactly the sets it was granted.
func ForUser(role permission.Role, factoryCodes, lineCodes, productFamilies, shiftCodes, equipmentIDs []string) Scope {
	if role == permission.RoleAdmin {
		return Scope{AllAccess: true}
	}
	return Scope{
		FactoryCodes:    factoryCodes,
		LineCodes:       lineCodes,
		ProductFamilies: productFamilies,
		ShiftCodes:      shiftCodes,
		EquipmentIDs:    equipmentIDs,
	}
}

// column maps a scope dimension to the database column store callers
// should filter on; kept here so every call site names the dimension,
// not the column.
type column struct {
	name   string
	values []string
}

// AppendPredicate appends this scope's restrictions to an existing
// parameterized WHERE clause list, using $N placeholders continuing
// from len(args)+1 (Postgres positional style, matching sqlx/lib/pq).
// AllAccess appends nothing. A scope with every set empty and
// AllAccess=false appends a predicate that can never match, so the
// query returns zero rows rather than leaking unscoped data.
func AppendPredicate(clauses []string, args []interface{}, s Scope) ([]string, []interface{}) {
	if s.AllAccess {
		return clauses, args
	}

	columns := []column{
		{"factory_code", s.FactoryCodes},
		{"line_code", s.LineCodes},
		{"product_family", s.ProductFamilies},
		{"shift_code", s.ShiftCodes},
		{"equipment_id", s.EquipmentIDs},
	}

	matched := false
	for _, c := range columns {
		if len(c.values) == 0 {
			continue
		}
		matched = true
		placeholders := make([]string, len(c.values))
		for i, v := range c.values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", c.name, joinComma(placeholders)))
	}

	if !matched {
		clauses = append(clauses, "1 = 0")
	}
	return clauses, args
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
