// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/evanschultz/cadence/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the engine tools.
func NewHandler(cfg Config, service common.EngineService) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("engine service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerCampaignTools(mcpSrv, service)
	registerHealthTools(mcpSrv, service)
	registerGateTools(mcpSrv, service)
	registerBoardTools(mcpSrv, service)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "cadence"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerCampaignTools registers `cadence.list_campaigns`.
func registerCampaignTools(srv *mcpserver.MCPServer, campaigns common.CampaignService) {
	srv.AddTool(
		mcp.NewTool(
			"cadence.list_campaigns",
			mcp.WithDescription("List campaigns with their dates, budget, and team."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			rows, err := campaigns.ListCampaigns(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("list_campaigns", map[string]any{"campaigns": rows})
		},
	)
}

// registerHealthTools registers the drift and operational-health read tools.
func registerHealthTools(srv *mcpserver.MCPServer, health common.HealthService) {
	srv.AddTool(
		mcp.NewTool(
			"cadence.drift_board",
			mcp.WithDescription("Return persisted drift for completed phases and live projected drift for running phases."),
			mcp.WithString("campaign_id", mcp.Required(), mcp.Description("Campaign identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			campaignID, err := req.RequireString("campaign_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			board, err := health.DriftBoard(ctx, campaignID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("drift_board", board)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"cadence.operational_health",
			mcp.WithDescription("Score campaign progress discounted by schedule drift."),
			mcp.WithString("campaign_id", mcp.Required(), mcp.Description("Campaign identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			campaignID, err := req.RequireString("campaign_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			out, err := health.OperationalHealth(ctx, campaignID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("operational_health", out)
		},
	)
}

// registerGateTools registers the risk gate and correlation tools.
func registerGateTools(srv *mcpserver.MCPServer, service common.EngineService) {
	srv.AddTool(
		mcp.NewTool(
			"cadence.assess_risk",
			mcp.WithDescription("Score launch readiness across five weighted factors and store the gate recommendation."),
			mcp.WithString("campaign_id", mcp.Required(), mcp.Description("Campaign identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			campaignID, err := req.RequireString("campaign_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			assessment, err := service.AssessRisk(ctx, campaignID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("assess_risk", assessment)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"cadence.analyze_correlations",
			mcp.WithDescription("Correlate execution events with weekly performance shifts and replace stored insights."),
			mcp.WithString("campaign_id", mcp.Required(), mcp.Description("Campaign identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			campaignID, err := req.RequireString("campaign_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			report, err := service.AnalyzeCorrelations(ctx, campaignID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("analyze_correlations", report)
		},
	)
}

// registerBoardTools registers work-item and phase mutation tools plus the change feed.
func registerBoardTools(srv *mcpserver.MCPServer, service common.EngineService) {
	srv.AddTool(
		mcp.NewTool(
			"cadence.move_item",
			mcp.WithDescription("Move one work item to another phase; an empty to_phase_id returns it to backlog."),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Work item identifier")),
			mcp.WithString("to_phase_id", mcp.Description("Destination phase identifier")),
			mcp.WithBoolean("restart", mcp.Description("Discard time carried over from earlier visits")),
			mcp.WithString("actor_id", mcp.Description("Caller identity recorded on the change event")),
			mcp.WithString("actor_type", mcp.Description("user|agent|system"), mcp.Enum("user", "agent", "system")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := service.MoveWorkItem(ctx, common.MoveWorkItemRequest{
				ItemID:    itemID,
				ToPhaseID: req.GetString("to_phase_id", ""),
				Restart:   req.GetBool("restart", false),
				ActorID:   req.GetString("actor_id", "mcp-agent"),
				ActorType: req.GetString("actor_type", "agent"),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("move_item", item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"cadence.complete_phase",
			mcp.WithDescription("Complete one started phase and record its drift event."),
			mcp.WithString("phase_id", mcp.Required(), mcp.Description("Phase identifier")),
			mcp.WithString("root_cause", mcp.Description("Why the phase drifted")),
			mcp.WithString("attribution", mcp.Description("Who or what the drift is attributed to")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			phaseID, err := req.RequireString("phase_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			result, err := service.CompletePhase(ctx, common.CompletePhaseRequest{
				PhaseID:     phaseID,
				RootCause:   req.GetString("root_cause", ""),
				Attribution: req.GetString("attribution", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("complete_phase", result)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"cadence.list_change_events",
			mcp.WithDescription("List recent work-item activity for one campaign, newest first."),
			mcp.WithString("campaign_id", mcp.Required(), mcp.Description("Campaign identifier")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			campaignID, err := req.RequireString("campaign_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			events, err := service.ListChangeEvents(ctx, campaignID, req.GetInt("limit", 25))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return encodeResult("list_change_events", map[string]any{"events": events})
		},
	)
}

// encodeResult wraps one payload as a structured JSON tool result.
func encodeResult(tool string, payload any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", tool, err)
	}
	return result, nil
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("service_unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
