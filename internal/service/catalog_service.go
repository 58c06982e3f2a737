package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seclens/seclens/internal/domain/auth"
	"github.com/seclens/seclens/internal/domain/catalog"
	"github.com/seclens/seclens/internal/domain/delegation"
	"github.com/seclens/seclens/internal/domain/tool"
	"github.com/seclens/seclens/internal/domain/workflow"
)

// CatalogDeps are the collaborators backing the business tools.
type CatalogDeps struct {
	Requirements catalog.RequirementStore
	Assets       catalog.AssetStore
	Risks        catalog.RiskStore
	Exceptions   *workflow.Engine
}

// RegisterCatalog registers the full tool set on the registry: the
// security-catalog tools plus the exception-request workflow tools.
// Called once at startup, before Seal.
func RegisterCatalog(registry *tool.Registry, deps CatalogDeps) error {
	defs := []tool.Definition{
		searchRequirementsTool(deps.Requirements),
		createRequirementTool(deps.Requirements),
		searchAssetsTool(deps.Assets),
		getRiskAssessmentTool(deps.Assets, deps.Risks),
		requestExceptionTool(deps.Exceptions),
		approveExceptionTool(deps.Exceptions),
		rejectExceptionTool(deps.Exceptions),
		cancelExceptionTool(deps.Exceptions),
		listExceptionRequestsTool(deps.Exceptions),
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func searchRequirementsTool(store catalog.RequirementStore) tool.Definition {
	return tool.Definition{
		Name:        "search_requirements",
		Description: "Search security requirements by text or category",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"query": {Type: "string", Description: "Search query text", MinLength: 1, MaxLength: 256},
			},
			Required: []string{"query"},
		},
		Auth: tool.RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, _ *delegation.ExecutionContext) (any, error) {
			query, _ := args["query"].(string)
			reqs, err := store.Search(ctx, query)
			if err != nil {
				return nil, tool.E(tool.CodeUnavailable, "requirement search failed")
			}
			items := make([]map[string]any, 0, len(reqs))
			for _, r := range reqs {
				items = append(items, map[string]any{
					"id":       r.ID,
					"text":     r.ShortText,
					"category": r.Category,
				})
			}
			return map[string]any{"count": len(items), "requirements": items}, nil
		},
	}
}

func createRequirementTool(store catalog.RequirementStore) tool.Definition {
	return tool.Definition{
		Name:        "create_requirement",
		Description: "Create a new security requirement",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"text":     {Type: "string", Description: "Requirement text", MinLength: 1, MaxLength: 4096},
				"category": {Type: "string", Description: "Requirement category", MaxLength: 256},
			},
			Required: []string{"text"},
		},
		Auth: tool.RequireAdmin(),
		Handler: func(ctx context.Context, args map[string]any, _ *delegation.ExecutionContext) (any, error) {
			text, _ := args["text"].(string)
			category, _ := args["category"].(string)
			req := &catalog.Requirement{
				ShortText: shorten(text, 100),
				Details:   text,
				Category:  category,
			}
			if err := store.Create(ctx, req); err != nil {
				return nil, tool.E(tool.CodeUnavailable, "requirement creation failed")
			}
			return map[string]any{"id": req.ID, "text": req.Details, "category": req.Category}, nil
		},
	}
}

func searchAssetsTool(store catalog.AssetStore) tool.Definition {
	return tool.Definition{
		Name:        "search_assets",
		Description: "Search assets by name or description",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"query": {Type: "string", Description: "Search query text", MinLength: 1, MaxLength: 256},
			},
			Required: []string{"query"},
		},
		Auth: tool.RequirePermission(auth.PermRead),
		Handler: func(ctx context.Context, args map[string]any, _ *delegation.ExecutionContext) (any, error) {
			query, _ := args["query"].(string)
			assets, err := store.Search(ctx, query)
			if err != nil {
				return nil, tool.E(tool.CodeUnavailable, "asset search failed")
			}
			items := make([]map[string]any, 0, len(assets))
			for _, a := range assets {
				items = append(items, map[string]any{
					"id":          a.ID,
					"name":        a.Name,
					"description": a.Description,
					"owner":       a.Owner,
				})
			}
			return map[string]any{"count": len(items), "assets": items}, nil
		},
	}
}

func getRiskAssessmentTool(assets catalog.AssetStore, risks catalog.RiskStore) tool.Definition {
	return tool.Definition{
		Name:        "get_risk_assessment",
		Description: "Get the risk assessments recorded for an asset",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"asset_id": {Type: "string", Description: "Asset ID", MinLength: 1, MaxLength: 128},
			},
			Required: []string{"asset_id"},
		},
		Auth: tool.RequirePermission(auth.PermVulnRead),
		Handler: func(ctx context.Context, args map[string]any, _ *delegation.ExecutionContext) (any, error) {
			assetID, _ := args["asset_id"].(string)
			asset, err := assets.Get(ctx, assetID)
			if err != nil {
				if errors.Is(err, catalog.ErrAssetNotFound) {
					return nil, tool.E(tool.CodeNotFound, "asset %s not found", assetID)
				}
				return nil, tool.E(tool.CodeUnavailable, "asset lookup failed")
			}
			assessments, err := risks.ListByAsset(ctx, assetID)
			if err != nil {
				return nil, tool.E(tool.CodeUnavailable, "risk assessment lookup failed")
			}
			items := make([]map[string]any, 0, len(assessments))
			for _, ra := range assessments {
				items = append(items, map[string]any{
					"id":         ra.ID,
					"threat":     ra.Threat,
					"likelihood": ra.Likelihood,
					"impact":     ra.Impact,
					"mitigation": ra.Mitigation,
				})
			}
			return map[string]any{
				"asset":       map[string]any{"id": asset.ID, "name": asset.Name},
				"count":       len(items),
				"assessments": items,
			}, nil
		},
	}
}

func requestExceptionTool(engine *workflow.Engine) tool.Definition {
	return tool.Definition{
		Name:        "request_vulnerability_exception",
		Description: "Request a time-bound exception for a vulnerability finding",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"vulnerability_id": {Type: "string", Description: "Vulnerability finding ID", MinLength: 1, MaxLength: 128},
				"justification":    {Type: "string", Description: "Why the exception is needed", MinLength: 10, MaxLength: 4096},
				"scope":            {Type: "string", Description: "What the exception covers", Enum: []string{"SINGLE_VULN", "ASSET", "PRODUCT"}},
				"expires_at":       {Type: "string", Description: "Expiration (RFC 3339)", MinLength: 1, MaxLength: 64},
			},
			Required: []string{"vulnerability_id", "justification", "scope", "expires_at"},
		},
		Auth: tool.RequireDelegation(tool.RequirePermission(auth.PermVulnWrite)),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			expiresAt, err := time.Parse(time.RFC3339, args["expires_at"].(string))
			if err != nil {
				return nil, tool.ValidationError(map[string]string{"expires_at": "must be an RFC 3339 timestamp"})
			}
			req, err := engine.Submit(ctx, execCtx, workflow.SubmitInput{
				VulnerabilityID: args["vulnerability_id"].(string),
				Justification:   args["justification"].(string),
				Scope:           workflow.Scope(args["scope"].(string)),
				ExpiresAt:       expiresAt.UTC(),
			})
			if err != nil {
				return nil, mapWorkflowError(err)
			}
			return requestPayload(req), nil
		},
	}
}

func approveExceptionTool(engine *workflow.Engine) tool.Definition {
	return tool.Definition{
		Name:        "approve_exception",
		Description: "Approve a pending exception request, creating its grant",
		InputSchema: exceptionDecisionSchema(),
		Auth:        tool.RequireApprover(),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			comment, _ := args["comment"].(string)
			req, err := engine.Approve(ctx, execCtx, args["request_id"].(string), comment)
			if err != nil {
				return nil, mapWorkflowError(err)
			}
			payload := requestPayload(req)
			if grant, err := engine.GrantFor(ctx, req.ID); err == nil {
				payload["grant_id"] = grant.ID
			}
			return payload, nil
		},
	}
}

func rejectExceptionTool(engine *workflow.Engine) tool.Definition {
	return tool.Definition{
		Name:        "reject_exception",
		Description: "Reject a pending exception request",
		InputSchema: exceptionDecisionSchema(),
		Auth:        tool.RequireApprover(),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			comment, _ := args["comment"].(string)
			req, err := engine.Reject(ctx, execCtx, args["request_id"].(string), comment)
			if err != nil {
				return nil, mapWorkflowError(err)
			}
			return requestPayload(req), nil
		},
	}
}

func cancelExceptionTool(engine *workflow.Engine) tool.Definition {
	return tool.Definition{
		Name:        "cancel_exception",
		Description: "Withdraw your own pending exception request",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"request_id": {Type: "string", Description: "Exception request ID", MinLength: 1, MaxLength: 128},
			},
			Required: []string{"request_id"},
		},
		Auth: tool.RequireDelegation(tool.RequirePermission(auth.PermVulnWrite)),
		Handler: func(ctx context.Context, args map[string]any, execCtx *delegation.ExecutionContext) (any, error) {
			req, err := engine.Cancel(ctx, execCtx, args["request_id"].(string))
			if err != nil {
				return nil, mapWorkflowError(err)
			}
			return requestPayload(req), nil
		},
	}
}

func listExceptionRequestsTool(engine *workflow.Engine) tool.Definition {
	return tool.Definition{
		Name:        "list_exception_requests",
		Description: "List exception requests, optionally filtered",
		InputSchema: tool.Schema{
			Properties: map[string]tool.Property{
				"status":           {Type: "string", Description: "Filter by status", Enum: []string{"PENDING", "APPROVED", "REJECTED", "CANCELLED", "EXPIRED"}},
				"vulnerability_id": {Type: "string", Description: "Filter by vulnerability", MaxLength: 128},
				"requester_id":     {Type: "string", Description: "Filter by requester", MaxLength: 128},
			},
		},
		Auth: tool.RequirePermission(auth.PermVulnRead),
		Handler: func(ctx context.Context, args map[string]any, _ *delegation.ExecutionContext) (any, error) {
			status, _ := args["status"].(string)
			vulnID, _ := args["vulnerability_id"].(string)
			requesterID, _ := args["requester_id"].(string)
			reqs, err := engine.List(ctx, workflow.ListFilter{
				Status:          workflow.Status(status),
				VulnerabilityID: vulnID,
				RequesterID:     requesterID,
			})
			if err != nil {
				return nil, tool.E(tool.CodeUnavailable, "exception request listing failed")
			}
			items := make([]map[string]any, 0, len(reqs))
			for _, req := range reqs {
				items = append(items, requestPayload(req))
			}
			return map[string]any{"count": len(items), "requests": items}, nil
		},
	}
}

func exceptionDecisionSchema() tool.Schema {
	return tool.Schema{
		Properties: map[string]tool.Property{
			"request_id": {Type: "string", Description: "Exception request ID", MinLength: 1, MaxLength: 128},
			"comment":    {Type: "string", Description: "Reviewer comment", MaxLength: 4096},
		},
		Required: []string{"request_id"},
	}
}

// mapWorkflowError converts workflow sentinel and typed errors to the tool
// error taxonomy. Typed tool errors pass through unchanged.
func mapWorkflowError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, workflow.ErrRequestNotFound):
		return tool.E(tool.CodeNotFound, "exception request not found")
	case errors.Is(err, workflow.ErrDuplicateActive):
		return tool.E(tool.CodeConflict, "an active exception request already exists for this vulnerability")
	}
	var conflict *workflow.ConflictError
	if errors.As(err, &conflict) {
		msg := fmt.Sprintf("request was concurrently decided as %s", conflict.Status)
		if conflict.ReviewedBy != "" {
			msg = fmt.Sprintf("request was concurrently %s by %s", conflict.Status, conflict.ReviewedBy)
		}
		return tool.E(tool.CodeConflict, "%s", msg)
	}
	var invalid *workflow.InvalidStateError
	if errors.As(err, &invalid) {
		return tool.E(tool.CodeInvalidState, "cannot %s a request in state %s", invalid.Transition, invalid.Status)
	}
	return err
}

func requestPayload(req *workflow.ExceptionRequest) map[string]any {
	payload := map[string]any{
		"request_id":       req.ID,
		"vulnerability_id": req.VulnerabilityID,
		"requester_id":     req.RequesterID,
		"scope":            string(req.Scope),
		"status":           string(req.Status),
		"auto_approved":    req.AutoApproved,
		"expires_at":       req.ExpiresAt.Format(time.RFC3339),
		"version":          req.Version,
	}
	if req.ReviewedBy != "" {
		payload["reviewed_by"] = req.ReviewedBy
	}
	if req.ReviewComment != "" {
		payload["review_comment"] = req.ReviewComment
	}
	if req.ReviewedAt != nil {
		payload["reviewed_at"] = req.ReviewedAt.Format(time.RFC3339)
	}
	return payload
}

// shorten truncates s to max runes, never splitting a multi-byte character.
func shorten(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
