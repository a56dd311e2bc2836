package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triflow-ai/core/internal/permission"
)

func TestForUserAdminGetsAllAccess(t *testing.T) {
	s := ForUser(permission.RoleAdmin, nil, nil, nil, nil, nil)
	assert.True(t, s.AllAccess)
}

func TestForUserNonAdminScoped(t *testing.T) {
	s := ForUser(permission.RoleOperator, []string{"fac-1"}, nil, nil, nil, nil)
	assert.False(t, s.AllAccess)
	assert.Equal(t, []string{"fac-1"}, s.FactoryCodes)
}

func TestAppendPredicateAllAccessAppendsNothing(t *testing.T) {
	clauses, args := AppendPredicate(nil, nil, Scope{AllAccess: true})
	assert.Empty(t, clauses)
	assert.Empty(t, args)
}

func TestAppendPredicateBuildsInClause(t *testing.T) {
	s := Scope{FactoryCodes: []string{"fac-1", "fac-2"}}
	clauses, args := AppendPredicate([]string{"tenant_id = $1"}, []interface{}{"t1"}, s)
	assert.Equal(t, []string{"tenant_id = $1", "factory_code IN ($2, $3)"}, clauses)
	assert.Equal(t, []interface{}{"t1", "fac-1", "fac-2"}, args)
}

func TestAppendPredicateEmptyScopeNeverMatches(t *testing.T) {
	clauses, _ := AppendPredicate(nil, nil, Scope{})
	assert.Equal(t, []string{"1 = 0"}, clauses)
}

func TestFromContextDefaultsToEmptyScope(t *testing.T) {
	s := FromContext(context.Background())
	assert.False(t, s.AllAccess)
	assert.Empty(t, s.FactoryCodes)
}

func TestWithContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), Scope{AllAccess: true})
	assert.True(t, FromContext(ctx).AllAccess)
}
