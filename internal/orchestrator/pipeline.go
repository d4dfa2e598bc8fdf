package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/supervisor"
)

// deploy выполняет основной путь до STARTING включительно.
// Ошибка шага возвращается как *domain.StepError, машина уже в FAILED.
func (o *Orchestrator) deploy(ctx context.Context, seq *Sequence, repo RevisionSource, opts domain.Options) (domain.Commit, error) {
	var commit domain.Commit

	err := o.step(ctx, seq, domain.StateSyncing, func(ctx context.Context) error {
		if err := repo.Synchronize(ctx, opts.Branch()); err != nil {
			return err
		}

		commits, err := repo.ListCommits(ctx, opts.Branch())
		if err != nil {
			return err
		}
		if len(commits) == 0 {
			return &domain.NoCommitsError{Branch: opts.Branch()}
		}

		// Самый новый — первый: порядок задаёт источник ревизий.
		commit, err = repo.Checkout(ctx, commits[0].ID)
		if err != nil {
			return err
		}
		if commit.Message == "" {
			commit.Message = commits[0].Message
		}

		seq.Logger().Info("checked out newest commit", "commit", commit.ShortID(), "message", commit.Message)
		return nil
	})
	if err != nil {
		return domain.Commit{}, err
	}

	if err := o.restart(ctx, seq, opts); err != nil {
		return domain.Commit{}, err
	}

	return commit, nil
}

// rollback выполняет путь отката на ревизию target.
//
// cause — ошибка основного пути (nil при прямом вызове Rollback).
// Любая ошибка возвращается как *domain.RollbackError.
func (o *Orchestrator) rollback(ctx context.Context, seq *Sequence, repo RevisionSource, opts domain.Options, target string, cause error) (*domain.Result, error) {
	if seq.State() != domain.StateRollingBack {
		if err := seq.To(domain.StateRollingBack); err != nil {
			return nil, &domain.RollbackError{Err: err, Cause: cause}
		}
	}

	var commit domain.Commit

	err := o.step(ctx, seq, domain.StateCheckoutLast, func(ctx context.Context) error {
		if target == "" {
			return domain.ErrNoKnownGood
		}

		var err error
		commit, err = repo.Checkout(ctx, target)
		if err != nil {
			return err
		}

		seq.Logger().Info("checked out known-good revision", "commit", commit.ShortID())
		return nil
	})
	if err != nil {
		return nil, &domain.RollbackError{Err: err, Cause: cause}
	}

	if err := o.restart(ctx, seq, opts); err != nil {
		return nil, &domain.RollbackError{Err: err, Cause: cause}
	}

	return o.succeed(ctx, seq, repo, opts, commit, cause), nil
}

// restart — общая часть обоих путей: INSTALLING → STOPPING → STARTING.
func (o *Orchestrator) restart(ctx context.Context, seq *Sequence, opts domain.Options) error {
	err := o.step(ctx, seq, domain.StateInstalling, func(ctx context.Context) error {
		install := opts.InstallCommand()
		if len(install) == 0 {
			return &domain.InvalidOptionsError{Field: "install", Reason: "is empty"}
		}
		_, err := o.executor.Execute(ctx, shell.Command{
			Name: install[0],
			Args: install[1:],
			Dir:  opts.Dir(),
			Env:  opts.Env(),
		})
		return err
	})
	if err != nil {
		return err
	}

	err = o.step(ctx, seq, domain.StateStopping, func(ctx context.Context) error {
		return o.processes.Stop(ctx, opts.Name())
	})
	if err != nil {
		return err
	}

	return o.step(ctx, seq, domain.StateStarting, func(ctx context.Context) error {
		return o.processes.Start(ctx, supervisor.StartRequest{
			Name:      opts.Name(),
			Script:    opts.Script(),
			Instances: opts.Instances(),
			Dir:       opts.Dir(),
			Env:       opts.Env(),
		})
	})
}

// step переводит машину в state, выполняет fn и учитывает длительность.
// При ошибке машина переводится в FAILED (или ROLLBACK_FAILED в откате).
//
// Отмена ctx проверяется перед запуском шага. Сам шаг получает ctx без
// отмены: начатая внешняя команда доводится до конца.
func (o *Orchestrator) step(ctx context.Context, seq *Sequence, state domain.State, fn func(ctx context.Context) error) error {
	if err := seq.To(state); err != nil {
		return err
	}

	started := o.now()
	err := ctx.Err()
	if err == nil {
		err = fn(context.WithoutCancel(ctx))
	}
	o.metrics.ObserveStep(state.Step(), o.now().Sub(started))

	if err != nil {
		seq.Logger().Error("step failed", "state", state, "error", err)
		if failErr := seq.Fail(); failErr != nil {
			return errors.Join(&domain.StepError{State: state, Err: err}, failErr)
		}
		return &domain.StepError{State: state, Err: err}
	}
	return nil
}

// succeed завершает путь: SUCCEEDED, запись known-good и сбор Result.
func (o *Orchestrator) succeed(ctx context.Context, seq *Sequence, repo RevisionSource, opts domain.Options, commit domain.Commit, cause error) *domain.Result {
	logger := seq.Logger()
	rolledBack := seq.RollingBack()

	if err := seq.To(domain.StateSucceeded); err != nil {
		logger.Warn("unexpected state", "error", err)
	}

	if err := repo.MarkKnownGood(opts.Name(), commit.ID); err != nil {
		logger.Warn("failed to record known-good revision", "commit", commit.ShortID(), "error", err)
	}

	describeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	procs, err := o.processes.Describe(describeCtx, opts.Name())
	if err != nil {
		logger.Debug("process info unavailable", "error", err)
	}

	return &domain.Result{
		AttemptID:  seq.AttemptID,
		Name:       opts.Name(),
		Branch:     opts.Branch(),
		Commit:     commit,
		RolledBack: rolledBack,
		Cause:      cause,
		Instances:  opts.Instances(),
		Processes:  procs,
		StartedAt:  seq.StartedAt,
	}
}
