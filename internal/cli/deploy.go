package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/telemetry"
)

type attemptKind int

const (
	attemptDeploy attemptKind = iota
	attemptRollback
)

// NewDeployCmd создаёт команду deploy.
func NewDeployCmd(outputFn func() *Output) *cobra.Command {
	var flags serviceFlags

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the newest commit of the branch",
		Long: `Synchronize the branch, check out its newest commit, install dependencies
and restart the service under pm2. If any step fails, the last known-good
revision is restored automatically; in that case the command exits with code 2.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttempt(cmd.Context(), &flags, outputFn(), attemptDeploy)
		},
	}

	flags.register(cmd)
	return cmd
}

// NewRollbackCmd создаёт команду rollback.
func NewRollbackCmd(outputFn func() *Output) *cobra.Command {
	var flags serviceFlags

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the last known-good revision",
		Long: `Check out the last known-good revision recorded by a successful deploy
(or the current HEAD when none is recorded), reinstall dependencies and
restart the service. No fetch is performed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttempt(cmd.Context(), &flags, outputFn(), attemptRollback)
		},
	}

	flags.register(cmd)
	return cmd
}

func runAttempt(ctx context.Context, flags *serviceFlags, out *Output, kind attemptKind) error {
	file, opts, err := flags.options()
	if err != nil {
		return err
	}

	if file.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, file.Timeout)
		defer cancel()
	}

	logger := telemetry.SetupLogger()

	rt, err := NewRuntime(ctx, RuntimeConfig{Settings: SettingsFromEnv(), Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	unlock, err := rt.Lock(ctx, opts, file.LockWait)
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	orch := rt.Orchestrator()

	var result *domain.Result
	switch kind {
	case attemptRollback:
		result, err = orch.Rollback(ctx, opts)
	default:
		result, err = orch.Deploy(ctx, opts)
	}

	rt.Push(ctx, opts.Name())

	if err != nil {
		return err
	}

	out.Result(result)

	if kind == attemptDeploy && result.RolledBack {
		out.Warn(fmt.Sprintf("deploy failed, restored %s: %s", result.Commit.ShortID(), result.CauseMessage()))
		return ErrRolledBack
	}

	if kind == attemptRollback {
		out.Success(fmt.Sprintf("Rolled back %s to %s", result.Name, result.Commit.ShortID()))
	} else {
		out.Success(fmt.Sprintf("Deployed %s at %s", result.Name, result.Commit.ShortID()))
	}
	return nil
}
