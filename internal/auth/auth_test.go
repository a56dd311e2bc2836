package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triflow-ai/core/internal/permission"
)

const testSecret = "test-signing-key"

func signToken(t *testing.T, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func baseClaims(subject, tenantID, role string) claims {
	now := time.Now()
	return claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		TenantID: tenantID,
		Role:     role,
	}
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	v := New(testSecret)
	c := baseClaims("user-1", "tenant-1", "operator")
	c.FactoryCodes = []string{"fac-1"}
	token := signToken(t, c)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "tenant-1", id.TenantID)
	assert.Equal(t, permission.RoleOperator, id.Role)
	assert.Equal(t, []string{"fac-1"}, id.Scope.FactoryCodes)
	assert.False(t, id.Scope.AllAccess)
}

func TestVerifyAdminGetsAllAccessScope(t *testing.T) {
	v := New(testSecret)
	token := signToken(t, baseClaims("user-2", "tenant-1", "admin"))

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.True(t, id.Scope.AllAccess)
}

func TestVerifyRejectsWrongSigningKey(t *testing.T) {
	v := New(testSecret)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims("user-1", "tenant-1", "user"))
	signed, err := token.SignedString([]byte("some-other-key"))
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := New(testSecret)
	c := baseClaims("user-1", "tenant-1", "user")
	past := time.Now().Add(-time.Hour)
	c.ExpiresAt = jwt.NewNumericDate(past)
	token := signToken(t, c)

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	v := New(testSecret)
	c := baseClaims("user-1", "tenant-1", "user")
	c.Issuer = "someone-else"
	token := signToken(t, c)

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsMissingTenantID(t *testing.T) {
	v := New(testSecret)
	c := baseClaims("user-1", "", "user")
	token := signToken(t, c)

	_, err := v.Verify(token)
	assert.Error(t, err)
}

func TestExtractBearerTokenRejectsNonBearer(t *testing.T) {
	_, err := ExtractBearerToken("Basic abc123")
	assert.Error(t, err)
}

func TestExtractBearerTokenAcceptsBearer(t *testing.T) {
	token, err := ExtractBearerToken("Bearer abc.def.ghi")
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func TestMiddlewareRejectsMissingAuthorization(t *testing.T) {
	v := New(testSecret)
	handlerCalled := false
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, handlerCalled)
}

func TestMiddlewareAttachesIdentityOnSuccess(t *testing.T) {
	v := New(testSecret)
	token := signToken(t, baseClaims("user-1", "tenant-1", "operator"))

	var gotID Identity
	var gotOK bool
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, gotOK)
	assert.Equal(t, "tenant-1", gotID.TenantID)
}
