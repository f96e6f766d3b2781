package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/thumbnail-pipeline/internal/api/dto"
	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
)

func newMigrateCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the job table and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.app.Store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newStatusCommand(s *session) *cobra.Command {
	return &cobra.Command{
		Use:         "status",
		Short:       "Print job counts by status and the queue depth",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsQueue: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := s.app.Store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := s.app.Queue.Stats(cmd.Context())
			if err != nil {
				return err
			}

			parts := make([]string, 0, len(domain.AllStatuses))
			for _, st := range domain.AllStatuses {
				parts = append(parts, fmt.Sprintf("%s=%d", st, counts[st]))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Join(parts, " "))
			fmt.Fprintf(out, "queue waiting=%d in_flight=%d\n", stats.Waiting, stats.InFlight)
			return nil
		},
	}
}

func newListCommand(s *session) *cobra.Command {
	var (
		owner  string
		status string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := domain.Status(strings.ToLower(status))
			if st != "" && !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}

			jobs, err := s.app.Store.ListJobs(cmd.Context(), storage.JobFilter{
				OwnerID:  owner,
				Status:   st,
				PageSize: limit,
			})
			if err != nil {
				return err
			}
			if len(jobs) > limit {
				jobs = jobs[:limit]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				items := make([]dto.JobDTO, 0, len(jobs))
				for i := range jobs {
					items = append(items, dto.FromJob(&jobs[i]))
				}
				data, err := json.MarshalIndent(items, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tKIND\tSTATUS\tCREATED\tDETAIL")
			for _, j := range jobs {
				detail := j.ArtifactRef
				if j.Status == domain.StatusFailed {
					detail = j.ErrorDetail
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.OwnerID, j.MediaKind, j.Status, j.CreatedAt.Format(time.RFC3339), detail)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only jobs of this owner")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending|queued|processing|completed|failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output")
	return cmd
}

func newReconcileCommand(s *session) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:         "reconcile",
		Short:       "Re-enqueue jobs stuck in pending",
		Long:        "Finds jobs that stayed pending longer than --older-than because their enqueue failed, enqueues them again and marks them queued.",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{needsQueue: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := s.app.Reconciler.Reconcile(cmd.Context(), olderThan, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d jobs\n", n)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 10*time.Minute, "Minimum time a job has been pending")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max jobs per run")
	return cmd
}
