package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/triflow-ai/core/internal/classifier"
)

func TestCheckAllowsSufficientRole(t *testing.T) {
	res := Check(RoleOperator, classifier.IntentNotify)
	assert.True(t, res.Allowed)
	assert.False(t, res.PermissionDenied)
}

func TestCheckDeniesInsufficientRole(t *testing.T) {
	res := Check(RoleViewer, classifier.IntentStop)
	assert.False(t, res.Allowed)
	assert.Equal(t, RoleOperator, res.RequiredRole)
}

func TestUnknownIntentDefaultsToAdmin(t *testing.T) {
	assert.Equal(t, RoleAdmin, Required(classifier.Intent("UNKNOWN")))
}

func TestParseRoleDefaultsToViewer(t *testing.T) {
	assert.Equal(t, RoleViewer, ParseRole("bogus"))
	assert.Equal(t, RoleAdmin, ParseRole("admin"))
}
