// Package cli is the thumbctl operator command tree.
package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/thumbnail-pipeline/internal/domain"
	"github.com/cuongbtq/thumbnail-pipeline/internal/queue"
	"github.com/cuongbtq/thumbnail-pipeline/internal/storage"
)

const (
	defaultConfigPath = "configs/thumbctl/config.yaml"
	configPathEnv     = "THUMBCTL_CONFIG_PATH"

	// commands carrying this annotation need the queue side of App
	needsQueue = "needs-queue"
)

// Store is the part of the job record store the commands use
type Store interface {
	Migrate(ctx context.Context) error
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
}

// QueueStats reports queue depth
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// Reconciler re-enqueues stale pending jobs
type Reconciler interface {
	Reconcile(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// App holds what the commands operate on. Queue and Reconciler are only set
// when withQueue was requested.
type App struct {
	Store      Store
	Queue      QueueStats
	Reconciler Reconciler
}

// Opener builds the App from a config file. The returned func releases it.
type Opener func(ctx context.Context, configPath string, withQueue bool) (*App, func(), error)

type session struct {
	open       Opener
	configPath string
	app        *App
	cleanup    func()
}

func (s *session) close() {
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
}

// Execute runs thumbctl with args, writing command output to out
func Execute(ctx context.Context, args []string, out io.Writer, open Opener) error {
	s := &session{open: open}
	defer s.close()

	root := newRootCommand(s)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func newRootCommand(s *session) *cobra.Command {
	defaultPath := os.Getenv(configPathEnv)
	if defaultPath == "" {
		defaultPath = defaultConfigPath
	}

	root := &cobra.Command{
		Use:           "thumbctl",
		Short:         "Operate the thumbnail pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if s.app != nil {
				return nil
			}
			_, withQueue := cmd.Annotations[needsQueue]
			app, cleanup, err := s.open(cmd.Context(), s.configPath, withQueue)
			if err != nil {
				return err
			}
			s.app, s.cleanup = app, cleanup
			return nil
		},
	}

	root.PersistentFlags().StringVar(&s.configPath, "config", defaultPath, "Path to configuration file (env "+configPathEnv+")")

	root.AddCommand(
		newMigrateCommand(s),
		newStatusCommand(s),
		newListCommand(s),
		newReconcileCommand(s),
	)
	return root
}
