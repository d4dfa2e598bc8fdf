package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/lock"
	"github.com/shaiso/redeploy/internal/telemetry"
	"github.com/shaiso/redeploy/internal/watcher"
)

// shutdownTimeout ограничивает graceful shutdown HTTP-сервера.
const shutdownTimeout = 10 * time.Second

// lockedDeployer берёт lock'и на время каждого деплоя.
type lockedDeployer struct {
	deployer watcher.Deployer
	lock     func(ctx context.Context, opts domain.Options) (lock.Unlock, error)
}

func (d *lockedDeployer) Deploy(ctx context.Context, opts domain.Options) (*domain.Result, error) {
	unlock, err := d.lock(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return d.deployer.Deploy(ctx, opts)
}

// NewWatchCmd создаёт команду watch.
func NewWatchCmd(outputFn func() *Output) *cobra.Command {
	var flags serviceFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Deploy on schedule whenever the branch moves",
		Long: `Poll the remote branch on a cron schedule and deploy when its tip differs
from the last known-good revision. Serves /healthz, /status and /metrics on
REDEPLOY_PORT (default 8090).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), &flags, outputFn())
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.schedule, "schedule", "", `Cron schedule (default "*/5 * * * *")`)
	return cmd
}

func runWatch(ctx context.Context, flags *serviceFlags, out *Output) error {
	file, opts, err := flags.options()
	if err != nil {
		return err
	}

	logger := telemetry.SetupLogger()

	rt, err := NewRuntime(ctx, RuntimeConfig{Settings: SettingsFromEnv(), Reconnect: true, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	deployer := &lockedDeployer{
		deployer: rt.Orchestrator(),
		lock: func(ctx context.Context, opts domain.Options) (lock.Unlock, error) {
			return rt.Lock(ctx, opts, file.LockWait)
		},
	}
	if file.Timeout > 0 {
		deployer.deployer = timeoutDeployer{deployer: deployer.deployer, timeout: file.Timeout}
	}

	w, err := watcher.New(watcher.Config{
		Deployer: deployer,
		Options:  opts,
		Schedule: file.Schedule(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	server := watcher.NewServer(rt.Settings.Port, w.Handler(rt.Metrics.Handler()), logger)
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	out.Success("Watching " + opts.Name() + " (" + opts.Branch() + ") on " + file.Schedule())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err, ok := <-serverErr; ok && err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	runErr := w.Run(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
	return runErr
}

// timeoutDeployer ограничивает каждую попытку таймаутом.
type timeoutDeployer struct {
	deployer watcher.Deployer
	timeout  time.Duration
}

func (d timeoutDeployer) Deploy(ctx context.Context, opts domain.Options) (*domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.deployer.Deploy(ctx, opts)
}
