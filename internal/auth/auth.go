// Package auth resolves a bearer JWT on an incoming request into the
// caller's identity: user id, tenant id, role, and the data-scope
// dimensions the token carries. It does not issue tokens — token
// issuance for this core's tenants is out of scope (spec.md
// Non-goals); this package only validates and decodes what an
// upstream identity provider already signed.
//
// The claims shape and validation sequence (signing method check,
// issuer check, expiry via the library's own exp validation) are
// grounded on the teacher's internal/auth/jwt.go JWTManager.
// ValidateAccessToken, narrowed to verification only.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/triflow-ai/core/internal/permission"
	"github.com/triflow-ai/core/internal/scope"
)

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	UserID   string
	TenantID string
	Role     permission.Role
	Scope    scope.Scope
}

type ctxKey struct{}

// WithContext attaches an identity to ctx.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request's identity and whether one was set.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// claims is the expected token payload. scope fields are optional; a
// token that omits them resolves to an empty scope, except that the
// admin role always resolves to an all-access scope.
type claims struct {
	jwt.RegisteredClaims
	TenantID        string   `json:"tenant_id"`
	Role            string   `json:"role"`
	FactoryCodes    []string `json:"factory_codes"`
	LineCodes       []string `json:"line_codes"`
	ProductFamilies []string `json:"product_families"`
	ShiftCodes      []string `json:"shift_codes"`
	EquipmentIDs    []string `json:"equipment_ids"`
}

// issuer is the expected RegisteredClaims.Issuer, matching the value
// the identity provider signs tokens with for this core.
const issuer = "triflow-core"

// Verifier validates bearer tokens signed with a shared HMAC secret.
type Verifier struct {
	signingKey []byte
}

// New constructs a Verifier from the configured signing secret.
func New(signingKey string) *Verifier {
	return &Verifier{signingKey: []byte(signingKey)}
}

// Verify parses and validates tokenString, returning the identity it
// encodes.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}
	c, ok := token.Claims.(*claims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	if c.Issuer != issuer {
		return Identity{}, fmt.Errorf("invalid token issuer")
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("token missing subject")
	}
	if c.TenantID == "" {
		return Identity{}, fmt.Errorf("token missing tenant_id")
	}

	role := permission.ParseRole(c.Role)
	return Identity{
		UserID:   c.Subject,
		TenantID: c.TenantID,
		Role:     role,
		Scope:    scope.ForUser(role, c.FactoryCodes, c.LineCodes, c.ProductFamilies, c.ShiftCodes, c.EquipmentIDs),
	}, nil
}

// ExtractBearerToken pulls the token out of an Authorization header,
// rejecting anything that isn't the "Bearer <token>" form.
func ExtractBearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}
	return token, nil
}

// Middleware authenticates every request, rejecting with 401 on a
// missing or invalid token and otherwise attaching the resolved
// identity and its scope to the request context before calling next.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			unauthorized(w, err.Error())
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}
		ctx := WithContext(r.Context(), id)
		ctx = scope.WithContext(ctx, id.Scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="triflow-core"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
