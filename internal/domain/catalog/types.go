// Package catalog holds the security-catalog entities exposed through the
// business tools: requirements, assets and per-asset risk assessments.
// The entities are collaborators of the tool layer; seclens does not own
// their lifecycle beyond what the tools need.
package catalog

import "time"

// Requirement is a security requirement.
type Requirement struct {
	// ID is the unique identifier.
	ID string
	// ShortText is the display summary, truncated from Details.
	ShortText string
	// Details is the full requirement text.
	Details string
	// Category groups requirements into chapters.
	Category string
	// CreatedAt is when the requirement was created (UTC).
	CreatedAt time.Time
}

// Asset is an inventoried system or application.
type Asset struct {
	// ID is the unique identifier.
	ID string
	// Name is the asset's display name.
	Name string
	// Description is the asset's free-text description.
	Description string
	// Owner is the responsible team or person.
	Owner string
}

// RiskAssessment is one assessed risk on an asset.
type RiskAssessment struct {
	// ID is the unique identifier.
	ID string
	// AssetID references the assessed asset.
	AssetID string
	// Threat names the assessed threat.
	Threat string
	// Likelihood is the assessed probability (LOW, MEDIUM, HIGH).
	Likelihood string
	// Impact is the assessed impact (LOW, MEDIUM, HIGH).
	Impact string
	// Mitigation describes the planned or implemented mitigation.
	Mitigation string
	// AssessedAt is when the assessment was made (UTC).
	AssessedAt time.Time
}
