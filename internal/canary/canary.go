// Package canary implements C9: sticky version assignment for a
// deployment under canary rollout.
//
// Bucketing is grounded directly on the teacher's
// OPAEngine.calculateCanaryHash (md5 of a composite key, mod 100),
// generalized here from policy-mode selection to version selection.
package canary

import (
	"context"
	"crypto/md5"
	"encoding/binary"

	"github.com/triflow-ai/core/internal/errs"
	"github.com/triflow-ai/core/internal/models"
	"github.com/triflow-ai/core/internal/store"
)

// identifierPriority orders multiple supplied identifiers so the
// assigner picks the most specific one, per spec.md §4.6.
var identifierPriority = []models.IdentifierType{
	models.IdentifierWorkflowInstance,
	models.IdentifierSession,
	models.IdentifierUser,
}

// Identifiers is the caller-supplied bag of candidate sticky keys for
// one request; not every field need be set.
type Identifiers struct {
	WorkflowInstance string
	Session          string
	User             string
}

func (i Identifiers) pick() (value string, kind models.IdentifierType, ok bool) {
	if i.WorkflowInstance != "" {
		return i.WorkflowInstance, models.IdentifierWorkflowInstance, true
	}
	if i.Session != "" {
		return i.Session, models.IdentifierSession, true
	}
	if i.User != "" {
		return i.User, models.IdentifierUser, true
	}
	return "", "", false
}

// Assigner is C9.
type Assigner struct {
	store *store.Store
}

func New(s *store.Store) *Assigner {
	return &Assigner{store: s}
}

// Assign resolves the version to serve for this request, persisting a
// sticky assignment the first time an identifier is seen.
func (a *Assigner) Assign(ctx context.Context, deployment *models.Deployment, ids Identifiers) (models.CanaryVersion, error) {
	value, kind, ok := ids.pick()
	if !ok {
		return models.VersionV1, errs.New(errs.Validation, "canary routing requires at least one identifier")
	}

	existing, err := a.store.GetCanaryAssignment(ctx, deployment.ID, value, kind)
	if err != nil && err != errs.ErrNotFound {
		return "", err
	}
	if existing != nil {
		return existing.Version, nil
	}

	version := bucket(deployment.ID, value, deployment.CanaryTrafficPercentage)
	saved, err := a.store.UpsertCanaryAssignment(ctx, &models.CanaryAssignment{
		DeploymentID:   deployment.ID,
		Identifier:     value,
		IdentifierType: kind,
		Version:        version,
	})
	if err != nil {
		return "", err
	}
	return saved.Version, nil
}

// bucket computes the deterministic md5(deploymentID|identifier) mod 100
// hash and compares it against the traffic percentage, so a fixed
// percentage always maps the same identifier to the same version.
func bucket(deploymentID, identifier string, trafficPercent int) models.CanaryVersion {
	sum := md5.Sum([]byte(deploymentID + "|" + identifier))
	n := binary.BigEndian.Uint32(sum[:4]) % 100
	if int(n) < trafficPercent {
		return models.VersionV2
	}
	return models.VersionV1
}

// Drain removes every sticky assignment for a deployment, called on
// rollback or promotion (spec.md §4.6).
func (a *Assigner) Drain(ctx context.Context, deploymentID string) error {
	return a.store.DeleteCanaryAssignments(ctx, deploymentID)
}

// SweepExpired deletes assignments past their expiry, for the
// assignment_sweeper scheduler driver.
func (a *Assigner) SweepExpired(ctx context.Context) (int64, error) {
	return a.store.DeleteExpiredCanaryAssignments(ctx)
}
