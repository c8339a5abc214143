package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	serveradapter "github.com/evanschultz/cadence/internal/adapters/server"
	servercommon "github.com/evanschultz/cadence/internal/adapters/server/common"
	"github.com/evanschultz/cadence/internal/app"
	"github.com/evanschultz/cadence/internal/domain"
	"github.com/evanschultz/cadence/internal/report"
	"github.com/spf13/cobra"
)

// markdownWidth is the wrap width for rendered markdown summaries.
const markdownWidth = 96

// openFunc opens the runtime for one command invocation.
type openFunc func(context.Context) (*runtimeEnv, error)

// withRuntime opens the runtime, attributes mutations to the CLI actor, and closes it after fn.
func withRuntime(open openFunc, opts *rootOptions, fn func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt, err := open(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rt.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close runtime: %w", closeErr)
			}
		}()
		actorID := "cli"
		if opts != nil && strings.TrimSpace(opts.actorID) != "" {
			actorID = strings.TrimSpace(opts.actorID)
		}
		ctx = app.WithMutationActor(ctx, app.MutationActor{ActorID: actorID, ActorType: domain.ActorTypeUser})
		rt.logger.Debug("command flow start", "command", cmd.CommandPath())
		if err := fn(ctx, cmd, rt, args); err != nil {
			rt.logger.Debug("command flow failed", "command", cmd.CommandPath(), "err", err)
			return err
		}
		return nil
	}
}

// emit prints value as indented JSON when --json is set, otherwise the rendered text.
func emit(cmd *cobra.Command, opts *rootOptions, value any, render func() string) error {
	out := cmd.OutOrStdout()
	if opts != nil && opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	_, err := io.WriteString(out, render())
	return err
}

func newServeCommand(open openFunc) *cobra.Command {
	var (
		httpBind    string
		apiEndpoint string
		mcpEndpoint string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and MCP tools over HTTP",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, nil, func(ctx context.Context, _ *cobra.Command, rt *runtimeEnv, _ []string) error {
			cfg := serveradapter.Config{
				HTTPBind:      firstNonEmpty(httpBind, rt.cfg.Server.HTTPBind),
				APIEndpoint:   firstNonEmpty(apiEndpoint, rt.cfg.Server.APIEndpoint),
				MCPEndpoint:   firstNonEmpty(mcpEndpoint, rt.cfg.Server.MCPEndpoint),
				ServerName:    "cadence",
				ServerVersion: version,
			}
			if err := serveCommandRunner(ctx, cfg, serveradapter.Dependencies{
				Engine: rt.engine,
				Ping:   rt.repo.Ping,
				Logger: rt.logger,
			}); err != nil {
				return fmt.Errorf("run serve command: %w", err)
			}
			rt.logger.Info("serve stopped")
			return nil
		}),
	}
	cmd.Flags().StringVar(&httpBind, "http", "", "HTTP listen address (defaults to server.http_bind)")
	cmd.Flags().StringVar(&apiEndpoint, "api-endpoint", "", "REST API base path")
	cmd.Flags().StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP endpoint path")
	return cmd
}

func newCampaignCommand(open openFunc, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "campaign", Short: "Create and inspect campaigns"}

	var (
		req     servercommon.CreateCampaignRequest
		members []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, _ []string) error {
			team, err := parseMembers(members)
			if err != nil {
				return err
			}
			req.Team = team
			campaign, err := rt.engine.CreateCampaign(ctx, req)
			if err != nil {
				return fmt.Errorf("create campaign: %w", err)
			}
			return emit(cmd, opts, campaign, func() string {
				return fmt.Sprintf("created campaign %s (%s, %d days)\n", campaign.ID, campaign.Name, campaign.CampaignDays)
			})
		}),
	}
	create.Flags().StringVar(&req.Name, "name", "", "campaign name")
	create.Flags().StringVar(&req.Category, "category", "", "campaign category (awareness, conversion, product_launch, ...)")
	create.Flags().Float64Var(&req.Budget, "budget", 0, "campaign budget")
	create.Flags().StringVar(&req.StartDate, "start", "", "start date (YYYY-MM-DD)")
	create.Flags().StringVar(&req.EndDate, "end", "", "end date (YYYY-MM-DD)")
	create.Flags().StringArrayVar(&members, "member", nil, "team member as id[:name]; repeatable")

	list := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, _ []string) error {
			campaigns, err := rt.engine.ListCampaigns(ctx)
			if err != nil {
				return fmt.Errorf("list campaigns: %w", err)
			}
			return emit(cmd, opts, campaigns, func() string {
				rows := make([][]string, 0, len(campaigns))
				for _, c := range campaigns {
					rows = append(rows, []string{c.ID, c.Name, c.Category, formatMoney(c.Budget), c.StartDate, c.EndDate, strconv.Itoa(len(c.Team))})
				}
				return report.Table([]string{"ID", "Name", "Category", "Budget", "Start", "End", "Team"}, rows)
			})
		}),
	}

	var teamMembers []string
	team := &cobra.Command{
		Use:   "team <campaign-id>",
		Short: "Replace the campaign roster",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			roster, err := parseMembers(teamMembers)
			if err != nil {
				return err
			}
			if _, err := rt.svc.SetCampaignTeam(ctx, args[0], roster); err != nil {
				return fmt.Errorf("set campaign team: %w", err)
			}
			campaign, err := rt.engine.GetCampaign(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get campaign: %w", err)
			}
			return emit(cmd, opts, campaign, func() string {
				return fmt.Sprintf("campaign %s now has %d team members\n", campaign.ID, len(campaign.Team))
			})
		}),
	}
	team.Flags().StringArrayVar(&teamMembers, "member", nil, "team member as id[:name]; repeatable")

	var (
		ctr, cpa, roas float64
		creative       domain.CreativeStrategy
	)
	strategy := &cobra.Command{
		Use:   "strategy <campaign-id>",
		Short: "Record historical benchmarks and the creative brief",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			benchmarks := domain.HistoricalBenchmarks{
				CTR:  optionalFloat(cmd, "ctr", ctr),
				CPA:  optionalFloat(cmd, "cpa", cpa),
				ROAS: optionalFloat(cmd, "roas", roas),
			}
			if _, err := rt.svc.UpdateCampaignStrategy(ctx, args[0], benchmarks, creative); err != nil {
				return fmt.Errorf("update campaign strategy: %w", err)
			}
			campaign, err := rt.engine.GetCampaign(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get campaign: %w", err)
			}
			return emit(cmd, opts, campaign, func() string {
				return fmt.Sprintf("updated strategy for campaign %s\n", campaign.ID)
			})
		}),
	}
	strategy.Flags().Float64Var(&ctr, "ctr", 0, "historical click-through rate (percent)")
	strategy.Flags().Float64Var(&cpa, "cpa", 0, "historical cost per acquisition")
	strategy.Flags().Float64Var(&roas, "roas", 0, "historical return on ad spend")
	strategy.Flags().StringVar(&creative.Format, "format", "", "creative format")
	strategy.Flags().StringVar(&creative.Theme, "theme", "", "creative theme")
	strategy.Flags().StringVar(&creative.Message, "message", "", "key message")
	strategy.Flags().StringVar(&creative.CTA, "cta", "", "call to action")
	strategy.Flags().StringVar(&creative.TestingPlan, "testing-plan", "", "creative testing plan")

	cmd.AddCommand(create, list, team, strategy)
	return cmd
}

func newPhaseCommand(open openFunc, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "phase", Short: "Plan and run campaign phases"}

	var req servercommon.CreatePhaseRequest
	add := &cobra.Command{
		Use:   "add <campaign-id>",
		Short: "Add a phase to a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			req.CampaignID = args[0]
			phase, err := rt.engine.CreatePhase(ctx, req)
			if err != nil {
				return fmt.Errorf("create phase: %w", err)
			}
			return emit(cmd, opts, phase, func() string {
				return fmt.Sprintf("added phase %d %s (%s, %d days planned)\n", phase.PhaseNumber, phase.Name, phase.ID, phase.PlannedDurationDays)
			})
		}),
	}
	add.Flags().StringVar(&req.Name, "name", "", "phase name")
	add.Flags().IntVar(&req.PlannedDurationDays, "days", 0, "planned duration in days")
	add.Flags().StringVar(&req.PlannedEndDate, "end", "", "planned end date (YYYY-MM-DD)")
	add.Flags().IntVar(&req.PhaseNumber, "number", 0, "phase number (appended when omitted)")

	list := &cobra.Command{
		Use:   "list <campaign-id>",
		Short: "List campaign phases",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			phases, err := rt.engine.ListPhases(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list phases: %w", err)
			}
			return emit(cmd, opts, phases, func() string {
				rows := make([][]string, 0, len(phases))
				for _, p := range phases {
					drift := "-"
					if p.DriftDays != nil {
						drift = strconv.Itoa(*p.DriftDays)
					}
					rows = append(rows, []string{strconv.Itoa(p.PhaseNumber), p.ID, p.Name, p.Status, strconv.Itoa(p.PlannedDurationDays), drift})
				}
				return report.Table([]string{"#", "ID", "Name", "Status", "Planned", "Drift"}, rows)
			})
		}),
	}

	start := &cobra.Command{
		Use:   "start <phase-id>",
		Short: "Start a phase",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			phase, err := rt.engine.StartPhase(ctx, args[0])
			if err != nil {
				return fmt.Errorf("start phase: %w", err)
			}
			return emit(cmd, opts, phase, func() string {
				return fmt.Sprintf("started phase %s\n", phase.Name)
			})
		}),
	}

	block := &cobra.Command{
		Use:   "block <phase-id>",
		Short: "Mark a phase blocked",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			phase, err := rt.svc.BlockPhase(ctx, args[0])
			if err != nil {
				return fmt.Errorf("block phase: %w", err)
			}
			summary := map[string]string{"id": phase.ID, "name": phase.Name, "status": string(phase.Status)}
			return emit(cmd, opts, summary, func() string {
				return fmt.Sprintf("blocked phase %s\n", phase.Name)
			})
		}),
	}

	var completeReq servercommon.CompletePhaseRequest
	complete := &cobra.Command{
		Use:   "complete <phase-id>",
		Short: "Complete a phase and record its drift",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			completeReq.PhaseID = args[0]
			result, err := rt.engine.CompletePhase(ctx, completeReq)
			if err != nil {
				return fmt.Errorf("complete phase: %w", err)
			}
			return emit(cmd, opts, result, func() string {
				return fmt.Sprintf("completed phase %s: %d days actual vs %d planned (drift %+d, %s)\n",
					result.Phase.Name,
					result.DriftEvent.ActualDuration,
					result.DriftEvent.PlannedDuration,
					result.DriftEvent.DriftDays,
					result.DriftEvent.DriftType,
				)
			})
		}),
	}
	complete.Flags().StringVar(&completeReq.RootCause, "root-cause", "", "why the phase drifted")
	complete.Flags().StringVar(&completeReq.Attribution, "attribution", "", "who or what the drift is attributed to")

	cmd.AddCommand(add, list, start, block, complete)
	return cmd
}

func newItemCommand(open openFunc, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Track work items through phases"}

	var req servercommon.CreateWorkItemRequest
	add := &cobra.Command{
		Use:   "add <campaign-id>",
		Short: "Add a backlog work item",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			req.CampaignID = args[0]
			item, err := rt.engine.CreateWorkItem(ctx, req)
			if err != nil {
				return fmt.Errorf("create work item: %w", err)
			}
			return emit(cmd, opts, item, func() string {
				return fmt.Sprintf("added item %s (%s)\n", item.ID, item.Title)
			})
		}),
	}
	add.Flags().StringVar(&req.Title, "title", "", "work item title")
	add.Flags().StringVar(&req.AssigneeID, "assignee", "", "assigned team member id")
	add.Flags().StringVar(&req.DueAt, "due", "", "due date (YYYY-MM-DD or RFC3339)")

	list := &cobra.Command{
		Use:   "list <campaign-id>",
		Short: "List work items with live time in phase",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			items, err := rt.engine.ListWorkItems(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list work items: %w", err)
			}
			return emit(cmd, opts, items, func() string {
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					phase := item.PhaseID
					if phase == "" {
						phase = "backlog"
					}
					rows = append(rows, []string{item.ID, item.Title, item.AssigneeID, item.Status, phase, strconv.Itoa(item.LiveElapsedMinutes) + "m"})
				}
				return report.Table([]string{"ID", "Title", "Assignee", "Status", "Phase", "In phase"}, rows)
			})
		}),
	}

	var moveReq servercommon.MoveWorkItemRequest
	move := &cobra.Command{
		Use:   "move <item-id>",
		Short: "Move a work item to another phase (omit --to for backlog)",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			moveReq.ItemID = args[0]
			moveReq.ActorID = opts.actorID
			moveReq.ActorType = string(domain.ActorTypeUser)
			item, err := rt.engine.MoveWorkItem(ctx, moveReq)
			if err != nil {
				return fmt.Errorf("move work item: %w", err)
			}
			return emit(cmd, opts, item, func() string {
				target := item.PhaseID
				if target == "" {
					target = "backlog"
				}
				return fmt.Sprintf("moved item %s to %s (carried %dm)\n", item.ID, target, item.TimeInPhaseMinutes)
			})
		}),
	}
	move.Flags().StringVar(&moveReq.ToPhaseID, "to", "", "destination phase id")
	move.Flags().BoolVar(&moveReq.Restart, "restart", false, "discard time carried over from earlier visits")

	var statusReq servercommon.SetWorkItemStatusRequest
	status := &cobra.Command{
		Use:   "status <item-id> <status>",
		Short: "Set a work item status (planned, in_progress, completed, blocked, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			statusReq.ItemID = args[0]
			statusReq.Status = args[1]
			statusReq.ActorID = opts.actorID
			statusReq.ActorType = string(domain.ActorTypeUser)
			item, err := rt.engine.SetWorkItemStatus(ctx, statusReq)
			if err != nil {
				return fmt.Errorf("set work item status: %w", err)
			}
			return emit(cmd, opts, item, func() string {
				return fmt.Sprintf("item %s is now %s\n", item.ID, item.Status)
			})
		}),
	}
	status.Flags().StringVar(&statusReq.DelayReason, "reason", "", "delay reason recorded with blocked items")

	history := &cobra.Command{
		Use:   "history <item-id>",
		Short: "Show a work item's phase ledger",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			entries, err := rt.engine.ListPhaseHistory(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list phase history: %w", err)
			}
			return emit(cmd, opts, entries, func() string {
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					exited := "open"
					if entry.ExitedAt != nil {
						exited = entry.ExitedAt.UTC().Format(time.RFC3339)
					}
					rows = append(rows, []string{
						entry.PhaseName,
						strconv.Itoa(entry.Sequence),
						entry.EnteredAt.UTC().Format(time.RFC3339),
						exited,
						strconv.Itoa(entry.TimeSpentMinutes) + "m",
						string(entry.CompletionTiming),
					})
				}
				return report.Table([]string{"Phase", "Visit", "Entered", "Exited", "Spent", "Timing"}, rows)
			})
		}),
	}

	cmd.AddCommand(add, list, move, status, history)
	return cmd
}

func newReportCommand(open openFunc, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Record weekly performance reports"}

	var req servercommon.RecordReportRequest
	add := &cobra.Command{
		Use:   "add <campaign-id>",
		Short: "Record one weekly performance report",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			req.CampaignID = args[0]
			rep, err := rt.engine.RecordReport(ctx, req)
			if err != nil {
				return fmt.Errorf("record report: %w", err)
			}
			return emit(cmd, opts, rep, func() string {
				return fmt.Sprintf("recorded report for week %s\n", rep.WeekStarting.Format(servercommon.DateLayout))
			})
		}),
	}
	add.Flags().StringVar(&req.WeekStarting, "week", "", "week start date (YYYY-MM-DD)")
	add.Flags().Float64Var(&req.TotalSales, "sales", 0, "total sales")
	add.Flags().Float64Var(&req.TotalRevenue, "revenue", 0, "total revenue")
	add.Flags().Float64Var(&req.TotalEngagement, "engagement", 0, "total engagement")
	add.Flags().Float64Var(&req.Views, "views", 0, "views")

	list := &cobra.Command{
		Use:   "list <campaign-id>",
		Short: "List performance reports",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			reports, err := rt.engine.ListReports(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list reports: %w", err)
			}
			return emit(cmd, opts, reports, func() string {
				rows := make([][]string, 0, len(reports))
				for _, r := range reports {
					rows = append(rows, []string{
						r.WeekStarting.Format(servercommon.DateLayout),
						formatMoney(r.TotalSales),
						formatMoney(r.TotalRevenue),
						strconv.FormatFloat(r.TotalEngagement, 'f', -1, 64),
						strconv.FormatFloat(r.Views, 'f', -1, 64),
					})
				}
				return report.Table([]string{"Week", "Sales", "Revenue", "Engagement", "Views"}, rows)
			})
		}),
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newRiskCommand(open openFunc, opts *rootOptions) *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "risk <campaign-id>",
		Short: "Assess launch readiness and store the gate recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			var (
				assessment domain.RiskAssessment
				err        error
			)
			if preview {
				assessment, err = rt.svc.PreviewRisk(ctx, args[0])
			} else {
				assessment, err = rt.engine.AssessRisk(ctx, args[0])
			}
			if err != nil {
				return fmt.Errorf("assess risk: %w", err)
			}
			return emit(cmd, opts, assessment, func() string {
				return report.Risk(assessment)
			})
		}),
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "score without storing the assessment")
	return cmd
}

func newOverrideCommand(open openFunc, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "override", Short: "Record and reconcile gate overrides"}

	var req servercommon.RecordOverrideRequest
	record := &cobra.Command{
		Use:   "record <campaign-id>",
		Short: "Record the action actually taken on the latest gate recommendation",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			req.CampaignID = args[0]
			event, err := rt.engine.RecordOverride(ctx, req)
			if err != nil {
				return fmt.Errorf("record override: %w", err)
			}
			return emit(cmd, opts, event, func() string {
				return fmt.Sprintf("recorded override %s: recommended %s, chose %s\n", event.ID, event.OriginalRecommendation, event.ActualAction)
			})
		}),
	}
	record.Flags().StringVar(&req.ActualAction, "action", "", "action taken (proceed, adjust, pause)")
	record.Flags().StringVar(&req.Reason, "reason", "", "why the decision was made")
	record.Flags().StringVar(&req.AssessmentID, "assessment", "", "assessment id (defaults to the latest)")

	var reconcileReq servercommon.ReconcileOverrideRequest
	reconcile := &cobra.Command{
		Use:   "reconcile <override-id>",
		Short: "Record the observed outcome of an override",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			reconcileReq.OverrideID = args[0]
			event, err := rt.engine.ReconcileOverride(ctx, reconcileReq)
			if err != nil {
				return fmt.Errorf("reconcile override: %w", err)
			}
			return emit(cmd, opts, event, func() string {
				justified := "unknown"
				if event.Justified != nil {
					justified = strconv.FormatBool(*event.Justified)
				}
				return fmt.Sprintf("override %s reconciled as %s (justified: %s)\n", event.ID, event.Outcome, justified)
			})
		}),
	}
	reconcile.Flags().StringVar(&reconcileReq.Outcome, "outcome", "", "observed outcome (success, failure, mixed)")
	reconcile.Flags().StringVar(&reconcileReq.Notes, "notes", "", "outcome notes")

	list := &cobra.Command{
		Use:   "list <campaign-id>",
		Short: "List gate overrides",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			events, err := rt.svc.ListOverrides(ctx, args[0])
			if err != nil {
				return fmt.Errorf("list overrides: %w", err)
			}
			return emit(cmd, opts, events, func() string {
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					rows = append(rows, []string{e.ID, string(e.OriginalRecommendation), string(e.ActualAction), strconv.Itoa(e.OverallScore), string(e.Outcome), e.Reason})
				}
				return report.Table([]string{"ID", "Recommended", "Actual", "Score", "Outcome", "Reason"}, rows)
			})
		}),
	}

	cmd.AddCommand(record, reconcile, list)
	return cmd
}

func newDriftCommand(open openFunc, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift <campaign-id>",
		Short: "Show the drift board and operational health",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			board, err := rt.engine.DriftBoard(ctx, args[0])
			if err != nil {
				return fmt.Errorf("drift board: %w", err)
			}
			return emit(cmd, opts, board, func() string {
				return report.DriftBoard(board)
			})
		}),
	}
}

func newWatchCommand(open openFunc, opts *rootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <campaign-id>",
		Short: "Refresh projected drift until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			if interval <= 0 {
				interval = rt.cfg.PollInterval()
			}
			err := rt.svc.WatchProjectedDrift(ctx, args[0], interval, func(board app.DriftBoard) error {
				return emit(cmd, opts, board, func() string {
					return fmt.Sprintf("-- %s --\n%s", board.ComputedAt.Format(time.RFC3339), report.DriftBoard(board))
				})
			})
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (defaults to drift.poll_interval)")
	return cmd
}

func newCorrelateCommand(open openFunc, opts *rootOptions) *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "correlate <campaign-id>",
		Short: "Correlate execution events with performance changes",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			var (
				result app.CorrelationReport
				err    error
			)
			if cached {
				result, err = rt.svc.ListCorrelationInsights(ctx, args[0])
			} else {
				result, err = rt.engine.AnalyzeCorrelations(ctx, args[0])
			}
			if err != nil {
				return fmt.Errorf("correlate: %w", err)
			}
			return emit(cmd, opts, result, func() string {
				return report.Insights(result.Insights) + "\n" + report.RenderMarkdown(report.CorrelationMarkdown(result), markdownWidth) + "\n"
			})
		}),
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "show stored insights without re-running analysis")
	return cmd
}

func newEventsCommand(open openFunc, opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <campaign-id>",
		Short: "Show recent work-item activity, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(open, opts, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, args []string) error {
			events, err := rt.engine.ListChangeEvents(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("list change events: %w", err)
			}
			return emit(cmd, opts, events, func() string {
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					rows = append(rows, []string{e.OccurredAt.UTC().Format(time.RFC3339), e.WorkItemID, e.Operation, e.ActorType + ":" + e.ActorID})
				}
				return report.Table([]string{"When", "Item", "Operation", "Actor"}, rows)
			})
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 25, "maximum rows")
	return cmd
}

func newExportCommand(open openFunc) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all campaign data as a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, nil, func(ctx context.Context, cmd *cobra.Command, rt *runtimeEnv, _ []string) error {
			snap, err := rt.svc.ExportSnapshot(ctx)
			if err != nil {
				return fmt.Errorf("export snapshot: %w", err)
			}
			encoded, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("encode snapshot json: %w", err)
			}
			encoded = append(encoded, '\n')

			if outPath == "-" {
				if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
					return fmt.Errorf("write snapshot to stdout: %w", err)
				}
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create export output dir: %w", err)
			}
			if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write export file: %w", err)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	return cmd
}

func newImportCommand(open openFunc) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON snapshot",
		Args:  cobra.NoArgs,
		RunE: withRuntime(open, nil, func(ctx context.Context, _ *cobra.Command, rt *runtimeEnv, _ []string) error {
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			content, err := os.ReadFile(inPath)
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot json: %w", err)
			}
			if err := rt.svc.ImportSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("import snapshot: %w", err)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file")
	return cmd
}

// parseMembers decodes repeated id[:name] flags into team members.
func parseMembers(raw []string) ([]domain.TeamMember, error) {
	members := make([]domain.TeamMember, 0, len(raw))
	for _, entry := range raw {
		id, name, _ := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid --member %q: id is required", entry)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			name = id
		}
		members = append(members, domain.TeamMember{ID: id, Name: name})
	}
	return members, nil
}

// optionalFloat returns a pointer to value only when the flag was set explicitly.
func optionalFloat(cmd *cobra.Command, name string, value float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v := value
	return &v
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
