// Command approval-agent simulates an autonomous process that pauses at a
// sensitive step until a human approves or rejects it.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"approval-gate/backend/internal/config"
	"approval-gate/backend/internal/logging"
	"approval-gate/backend/pkg/client"
	"approval-gate/backend/pkg/models"
)

type options struct {
	configFile     string
	baseURL        string
	action         string
	requestedBy    string
	contextJSON    string
	timeoutMinutes int
}

func main() {
	var opts options

	cmd := &cobra.Command{
		Use:           "approval-agent",
		Short:         "Request human approval for an action and wait for the decision",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "Path to config file")
	flags.StringVar(&opts.baseURL, "base-url", "", "Approval gate URL (overrides client.base_url)")
	flags.StringVar(&opts.action, "action", "provision-cloud-environment", "Action that needs approval")
	flags.StringVar(&opts.requestedBy, "requested-by", "demo-agent", "Identifier of this agent")
	flags.StringVar(&opts.contextJSON, "context", `{"region":"us-east-1","instance_count":3}`, "JSON object shown to the reviewer")
	flags.IntVar(&opts.timeoutMinutes, "timeout-minutes", 5, "Minutes before the request times out")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "approval-agent:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.Log)
	defer logger.Close()

	baseURL := cfg.Client.BaseURL
	if opts.baseURL != "" {
		baseURL = opts.baseURL
	}

	var wfContext map[string]interface{}
	if err := json.Unmarshal([]byte(opts.contextJSON), &wfContext); err != nil {
		return fmt.Errorf("--context must be a JSON object: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	gate := client.New(baseURL, nil)

	logger.Info("Requesting approval", "action", opts.action, "gate", baseURL, "timeout_minutes", opts.timeoutMinutes)

	created, err := gate.Create(ctx, models.CreateWorkflowRequest{
		Action:         opts.action,
		RequestedBy:    opts.requestedBy,
		Context:        wfContext,
		TimeoutMinutes: opts.timeoutMinutes,
	})
	if err != nil {
		return fmt.Errorf("failed to request approval: %w", err)
	}
	logger.Info("Approval requested", "workflow_id", created.WorkflowID, "expires_at", created.ExpiresAt)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nWaiting for a human decision. In another terminal run one of:\n")
	fmt.Fprintf(out, "  curl -X POST %s/v1/workflows/%s/approve -H 'Content-Type: application/json' -d '{\"reviewed_by\": \"you\"}'\n", baseURL, created.WorkflowID)
	fmt.Fprintf(out, "  curl -X POST %s/v1/workflows/%s/reject  -H 'Content-Type: application/json' -d '{\"reviewed_by\": \"you\"}'\n\n", baseURL, created.WorkflowID)

	// Stop polling at most one interval after the workflow's deadline.
	maxWait := cfg.Client.MaxWait
	if untilDeadline := time.Until(created.ExpiresAt) + cfg.Client.PollInterval; maxWait <= 0 || untilDeadline < maxWait {
		maxWait = untilDeadline
	}

	record, err := gate.Await(ctx, created.WorkflowID, client.AwaitOptions{
		PollInterval:    cfg.Client.PollInterval,
		MaxPollInterval: cfg.Client.PollInterval * 4,
		MaxWait:         maxWait,
		OnPending: func(record *models.WorkflowRecord, next time.Duration) {
			logger.Info("Still waiting", "status", record.Status, "next_poll", next)
		},
	})
	if errors.Is(err, client.ErrAwaitTimeout) {
		// One last read lets the gate apply its own timeout.
		record, err = gate.Get(ctx, created.WorkflowID)
	}
	if err != nil {
		return fmt.Errorf("failed waiting for decision: %w", err)
	}

	switch record.Status {
	case models.WorkflowStatusApproved:
		logger.Info("Approved, proceeding", "action", record.Action, "reviewed_by", deref(record.ResolvedBy), "resolved_at", record.ResolvedAt)
		return nil
	case models.WorkflowStatusRejected:
		logger.Warn("Rejected, aborting", "reviewed_by", deref(record.ResolvedBy))
	case models.WorkflowStatusTimedOut:
		logger.Warn("No decision before the deadline, aborting", "expires_at", record.ExpiresAt)
	default:
		logger.Warn("Still pending after max wait, aborting", "status", record.Status)
	}
	return fmt.Errorf("workflow %s ended %s", record.WorkflowID, record.Status)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
