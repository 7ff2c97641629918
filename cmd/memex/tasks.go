package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewTasksCmd groups task maintenance commands.
func NewTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and recover ingestion tasks",
	}
	cmd.AddCommand(newRequeueStaleCmd(), newShowTaskCmd(), newRetryTaskCmd())
	return cmd
}

func newRequeueStaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue-stale",
		Short: "Requeue tasks stuck in processing, failing those out of retries",
		Long: `Moves tasks that have been processing for longer than --older-than back to
queued. Tasks that already reached worker.max_retries are failed instead.
Run this only when no worker is alive, or with a threshold well above the
longest expected task.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			a, logger, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.Close() }()

			res, err := a.RequeueStale(cmd.Context(), olderThan)
			if err != nil {
				return fmt.Errorf("requeue stale: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d, failed %d\n", res.Requeued, res.Failed)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 30*time.Minute, "Minimum time in processing")
	return cmd
}

func newShowTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a task as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, logger, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.Close() }()

			t, err := a.Ingest.Task(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, taskView{
				ID:         t.ID(),
				DocumentID: t.DocumentID().String(),
				Collection: t.Collection(),
				Kind:       string(t.Kind()),
				Status:     string(t.Status()),
				Retries:    t.Retries(),
				Error:      t.Error(),
				Output:     t.Output(),
				CreatedAt:  t.CreatedAt(),
				UpdatedAt:  t.UpdatedAt(),
			})
		},
	}
}

func newRetryTaskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Enqueue a failed task's document again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, logger, err := openApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer func() { _ = a.Close() }()

			t, err := a.Ingest.Retry(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %d queued\n", t.ID())
			return nil
		},
	}
}

type taskView struct {
	ID         int64     `json:"task_id"`
	DocumentID string    `json:"document_id"`
	Collection string    `json:"collection"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Retries    int       `json:"retries"`
	Error      any       `json:"error,omitempty"`
	Output     any       `json:"output"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("task id must be a positive integer, got %q", s)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
