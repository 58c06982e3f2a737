package catalog

import (
	"context"
	"errors"
)

// ErrAssetNotFound is returned when no asset matches an ID.
var ErrAssetNotFound = errors.New("asset not found")

// RequirementStore provides access to security requirements.
type RequirementStore interface {
	// Search returns requirements whose text or category contains the
	// query, case-insensitive, ordered by ID.
	Search(ctx context.Context, query string) ([]*Requirement, error)

	// Create stores a new requirement.
	Create(ctx context.Context, req *Requirement) error
}

// AssetStore provides access to the asset inventory.
type AssetStore interface {
	// Search returns assets whose name or description contains the query,
	// case-insensitive, ordered by ID.
	Search(ctx context.Context, query string) ([]*Asset, error)

	// Get retrieves an asset by ID.
	// Returns ErrAssetNotFound if no asset matches.
	Get(ctx context.Context, id string) (*Asset, error)
}

// RiskStore provides access to risk assessments.
type RiskStore interface {
	// ListByAsset returns the assessments for an asset, ordered by ID.
	ListByAsset(ctx context.Context, assetID string) ([]*RiskAssessment, error)
}
