// Package flags implements C14: the tenant-override, global-override,
// percentage-rollout hierarchy of spec.md §4.12.
//
// The rollout hash reuses the teacher's calculateCanaryHash technique
// (also the basis of internal/canary's bucket function), generalized
// from deployment/identifier pairs to feature/tenant pairs — the same
// md5-mod-100 bucketing serves both domains.
package flags

import (
	"context"
	"crypto/md5"
	"encoding/binary"

	"github.com/triflow-ai/core/internal/store"
)

// globalTenant is the sentinel tenant_id for a cross-tenant override
// row (spec.md §4.12's "global override" tier).
const globalTenant = ""

// Store is C14.
type Store struct {
	store *store.Store
}

func New(s *store.Store) *Store {
	return &Store{store: s}
}

// Enabled resolves a feature for a tenant through the override
// hierarchy: explicit per-tenant override, then global override, then
// percentage rollout, defaulting to off when nothing matches.
func (s *Store) Enabled(ctx context.Context, tenantID, feature string) bool {
	if f, err := s.store.GetFeatureFlag(ctx, tenantID, feature); err == nil && f != nil {
		if f.Enabled != nil {
			return *f.Enabled
		}
		return bucket(tenantID, feature) < f.RolloutPercentage
	}

	if f, err := s.store.GetFeatureFlag(ctx, globalTenant, feature); err == nil && f != nil {
		if f.Enabled != nil {
			return *f.Enabled
		}
		return bucket(tenantID, feature) < f.RolloutPercentage
	}

	return false
}

// bucket deterministically maps (tenant, feature) to [0, 100), so a
// rollout percentage increase only ever adds tenants, never removes
// one already included.
func bucket(tenantID, feature string) int {
	sum := md5.Sum([]byte(tenantID + "|" + feature))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}
