package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/seclens/seclens/internal/domain/catalog"
)

// CatalogStore implements the catalog store interfaces with in-memory
// maps. Thread-safe for concurrent access. For development/testing only.
type CatalogStore struct {
	requirements map[string]*catalog.Requirement
	assets       map[string]*catalog.Asset
	risks        map[string][]*catalog.RiskAssessment // assetID -> assessments
	nextReqID    int
	mu           sync.RWMutex
}

// NewCatalogStore creates a new in-memory catalog store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		requirements: make(map[string]*catalog.Requirement),
		assets:       make(map[string]*catalog.Asset),
		risks:        make(map[string][]*catalog.RiskAssessment),
		nextReqID:    1,
	}
}

// Search implements catalog.RequirementStore.
func (s *CatalogStore) Search(ctx context.Context, query string) ([]*catalog.Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []*catalog.Requirement
	for _, req := range s.requirements {
		if strings.Contains(strings.ToLower(req.Details), needle) ||
			strings.Contains(strings.ToLower(req.Category), needle) {
			copied := *req
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Create implements catalog.RequirementStore. An empty ID is assigned a
// sequential one.
func (s *CatalogStore) Create(ctx context.Context, req *catalog.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = fmt.Sprintf("REQ-%04d", s.nextReqID)
		s.nextReqID++
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	copied := *req
	s.requirements[req.ID] = &copied
	return nil
}

// SearchAssets implements catalog.AssetStore.Search. The method has a
// distinct name because CatalogStore backs all three store interfaces;
// AssetView adapts it.
func (s *CatalogStore) SearchAssets(ctx context.Context, query string) ([]*catalog.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []*catalog.Asset
	for _, asset := range s.assets {
		if strings.Contains(strings.ToLower(asset.Name), needle) ||
			strings.Contains(strings.ToLower(asset.Description), needle) {
			copied := *asset
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAsset implements catalog.AssetStore.Get.
func (s *CatalogStore) GetAsset(ctx context.Context, id string) (*catalog.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, catalog.ErrAssetNotFound
	}
	copied := *asset
	return &copied, nil
}

// ListByAsset implements catalog.RiskStore.
func (s *CatalogStore) ListByAsset(ctx context.Context, assetID string) ([]*catalog.RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assessments := s.risks[assetID]
	out := make([]*catalog.RiskAssessment, 0, len(assessments))
	for _, ra := range assessments {
		copied := *ra
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddAsset seeds an asset (for testing/startup seeding).
func (s *CatalogStore) AddAsset(asset *catalog.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *asset
	s.assets[asset.ID] = &copied
}

// AddRisk seeds a risk assessment (for testing/startup seeding).
func (s *CatalogStore) AddRisk(ra *catalog.RiskAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ra
	s.risks[ra.AssetID] = append(s.risks[ra.AssetID], &copied)
}

// AssetView adapts CatalogStore to catalog.AssetStore, whose method names
// collide with RequirementStore's on the combined type.
type AssetView struct {
	*CatalogStore
}

// Search implements catalog.AssetStore.
func (v AssetView) Search(ctx context.Context, query string) ([]*catalog.Asset, error) {
	return v.SearchAssets(ctx, query)
}

// Get implements catalog.AssetStore.
func (v AssetView) Get(ctx context.Context, id string) (*catalog.Asset, error) {
	return v.GetAsset(ctx, id)
}

var (
	_ catalog.RequirementStore = (*CatalogStore)(nil)
	_ catalog.AssetStore       = AssetView{}
	_ catalog.RiskStore        = (*CatalogStore)(nil)
)
