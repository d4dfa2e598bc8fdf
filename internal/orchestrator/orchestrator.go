package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/supervisor"
	"github.com/shaiso/redeploy/internal/telemetry"
	"github.com/shaiso/redeploy/internal/vcs"
)

// publishTimeout ограничивает публикацию итога, даже если ctx попытки уже отменён.
const publishTimeout = 10 * time.Second

// DefaultRollbackTimeout — бюджет автоматического отката по умолчанию.
const DefaultRollbackTimeout = 10 * time.Minute

// Executor выполняет команду установки зависимостей.
type Executor interface {
	Execute(ctx context.Context, cmd shell.Command) (*shell.Output, error)
}

// ProcessController управляет процессом сервиса в супервизоре.
type ProcessController interface {
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, req supervisor.StartRequest) error
	Describe(ctx context.Context, name string) ([]domain.ProcessInfo, error)
}

// RevisionSource — git-репозиторий проекта.
type RevisionSource interface {
	Synchronize(ctx context.Context, branch string) error
	ListCommits(ctx context.Context, branch string) ([]domain.Commit, error)
	Checkout(ctx context.Context, revision string) (domain.Commit, error)
	Head() (string, error)
	KnownGood(name string) (string, error)
	MarkKnownGood(name, revision string) error
	Close() error
}

// Opener открывает RevisionSource для директории проекта.
type Opener func(dir, remote string) (RevisionSource, error)

// Publisher публикует итог попытки (например, в RabbitMQ).
type Publisher interface {
	PublishOutcome(ctx context.Context, outcome domain.Outcome) error
}

// OpenRepository — Opener по умолчанию (go-git).
func OpenRepository(dir, remote string) (RevisionSource, error) {
	repo, err := vcs.Open(dir, remote)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// Orchestrator выполняет деплой и откат одного сервиса.
//
// Экземпляр не допускает параллельных последовательностей: повторный вызов
// во время активной попытки возвращает domain.ErrSequenceActive.
// Git-репозиторий открывается в начале последовательности и закрывается в её конце.
type Orchestrator struct {
	executor  Executor
	processes ProcessController
	open      Opener
	publisher Publisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time

	rollbackTimeout time.Duration

	mu     sync.Mutex
	active bool

	// knownGood — ревизия, зафиксированная последним Deploy этого экземпляра.
	knownGood string

	// last — последняя последовательность (для Transitions).
	last *Sequence
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Executor выполняет команду установки (обязательный).
	Executor Executor

	// Processes — супервизор (обязательный).
	Processes ProcessController

	// Open открывает репозиторий (по умолчанию OpenRepository).
	Open Opener

	// Publisher — публикация итогов (опционально).
	Publisher Publisher

	// Metrics — Prometheus метрики (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time

	// RollbackTimeout — бюджет автоматического отката после неудачного деплоя
	// (по умолчанию DefaultRollbackTimeout). Откат не зависит от отмены ctx
	// вызывающего: бюджет проверяется между шагами.
	RollbackTimeout time.Duration
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	open := cfg.Open
	if open == nil {
		open = OpenRepository
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	rollbackTimeout := cfg.RollbackTimeout
	if rollbackTimeout <= 0 {
		rollbackTimeout = DefaultRollbackTimeout
	}

	return &Orchestrator{
		executor:  cfg.Executor,
		processes: cfg.Processes,
		open:      open,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       now,

		rollbackTimeout: rollbackTimeout,
	}
}

// Deploy разворачивает самый новый коммит ветки.
//
// При ошибке синхронизации, checkout'а, установки, остановки или запуска
// автоматически выполняется откат. Если откат прошёл, возвращается
// Result{RolledBack: true, Cause: <ошибка деплоя>} и nil. Если откат не удался,
// возвращается *domain.RollbackError. Пустая история ветки возвращается
// как *domain.NoCommitsError без отката: сервис не трогался.
//
// Отмена ctx не прерывает начатый шаг. Она проверяется перед каждым шагом
// основного пути и ведёт к откату, который выполняется уже без учёта ctx,
// в пределах Config.RollbackTimeout.
func (o *Orchestrator) Deploy(ctx context.Context, opts domain.Options) (*domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	seq := newSequence(opts, o.now(), o.logger, o.metrics)
	o.setLast(seq)
	logger := seq.Logger()
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Info("deploy started", "dir", opts.Dir())

	repo, err := o.open(opts.Dir(), opts.Remote())
	if err != nil {
		seq.To(domain.StateSyncing)
		seq.Fail()
		err = &domain.StepError{State: domain.StateSyncing, Err: &domain.SynchronizationError{Branch: opts.Branch(), Err: err}}
		return o.finish(ctx, seq, nil, err)
	}
	defer o.closeRepo(repo, logger)

	seq.KnownGood = o.lastKnownGood(repo, opts, logger)

	o.mu.Lock()
	o.knownGood = seq.KnownGood
	o.mu.Unlock()

	commit, err := o.deploy(ctx, seq, repo, opts)
	if err == nil {
		return o.finish(ctx, seq, o.succeed(ctx, seq, repo, opts, commit, nil), nil)
	}

	var noCommits *domain.NoCommitsError
	if errors.As(err, &noCommits) {
		logger.Warn("nothing to deploy", "error", err)
		return o.finish(ctx, seq, nil, err)
	}

	logger.Error("deploy failed, rolling back",
		"state", domain.FailedState(err),
		"error", err,
		"known_good", seq.KnownGood,
	)

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rollbackTimeout)
	defer cancel()

	result, rbErr := o.rollback(rbCtx, seq, repo, opts, seq.KnownGood, err)
	return o.finish(ctx, seq, result, rbErr)
}

// Rollback разворачивает последнюю рабочую ревизию без fetch.
//
// Цель: ревизия, зафиксированная последним Deploy этого экземпляра;
// иначе сохранённая ссылка known-good; иначе текущий HEAD.
// Ошибка всегда *domain.RollbackError.
func (o *Orchestrator) Rollback(ctx context.Context, opts domain.Options) (*domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()

	seq := newSequence(opts, o.now(), o.logger, o.metrics)
	o.setLast(seq)
	logger := seq.Logger()
	ctx = telemetry.WithLogger(ctx, logger)

	logger.Info("rollback started", "dir", opts.Dir())

	if err := seq.To(domain.StateRollingBack); err != nil {
		return nil, err
	}

	repo, err := o.open(opts.Dir(), opts.Remote())
	if err != nil {
		seq.To(domain.StateCheckoutLast)
		seq.Fail()
		err = &domain.RollbackError{Err: &domain.StepError{State: domain.StateCheckoutLast, Err: err}}
		return o.finish(ctx, seq, nil, err)
	}
	defer o.closeRepo(repo, logger)

	o.mu.Lock()
	target := o.knownGood
	o.mu.Unlock()

	if target == "" {
		target = o.lastKnownGood(repo, opts, logger)
	}
	seq.KnownGood = target

	result, err := o.rollback(ctx, seq, repo, opts, target, nil)
	return o.finish(ctx, seq, result, err)
}

// Transitions возвращает переходы последней последовательности.
func (o *Orchestrator) Transitions() []domain.Transition {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	if last == nil {
		return nil
	}
	return last.Transitions()
}

// State возвращает текущее состояние последней последовательности.
func (o *Orchestrator) State() domain.State {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	if last == nil {
		return domain.StateIdle
	}
	return last.State()
}

// Done возвращает true, если последняя последовательность завершена.
// В отличие от State().IsTerminal(), учитывает FAILED без отката.
func (o *Orchestrator) Done() bool {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()

	return last != nil && last.Ended()
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.executor == nil || o.processes == nil {
		return ErrNotConfigured
	}
	if o.active {
		return domain.ErrSequenceActive
	}
	o.active = true
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.active = false
	o.mu.Unlock()
}

func (o *Orchestrator) setLast(seq *Sequence) {
	o.mu.Lock()
	o.last = seq
	o.mu.Unlock()
}

// lastKnownGood возвращает ревизию, на которую откатываться:
// ссылку known-good, а без неё HEAD.
//
// HEAD, отличный от known-good, может указывать на ревизию незавершённого
// отката и в цель не попадает.
func (o *Orchestrator) lastKnownGood(repo RevisionSource, opts domain.Options, logger *slog.Logger) string {
	head, headErr := repo.Head()

	kg, err := repo.KnownGood(opts.Name())
	if err == nil {
		if headErr == nil && head != kg {
			logger.Warn("HEAD differs from known-good revision, using known-good",
				"head", shortID(head),
				"known_good", shortID(kg),
			)
		}
		return kg
	}
	if !errors.Is(err, domain.ErrNoKnownGood) {
		logger.Warn("cannot read known-good reference", "error", err)
	}

	if headErr != nil {
		logger.Warn("no rollback target available", "error", headErr)
		return ""
	}
	return head
}

func (o *Orchestrator) closeRepo(repo RevisionSource, logger *slog.Logger) {
	if err := repo.Close(); err != nil {
		logger.Warn("failed to close repository", "error", err)
	}
}

// finish дополняет результат, учитывает итог в метриках и публикует событие.
func (o *Orchestrator) finish(ctx context.Context, seq *Sequence, result *domain.Result, err error) (*domain.Result, error) {
	finished := o.now()
	logger := seq.Logger()
	defer seq.End()

	outcome := domain.Outcome{
		AttemptID: seq.AttemptID,
		Name:      seq.Name,
		Branch:    seq.Branch,
		Duration:  finished.Sub(seq.StartedAt),
		Timestamp: finished,
	}

	switch {
	case err != nil:
		outcome.Status = domain.OutcomeFailed
		outcome.Error = err.Error()
		var rbErr *domain.RollbackError
		if errors.As(err, &rbErr) && rbErr.Cause != nil {
			outcome.Cause = rbErr.Cause.Error()
		}
		logger.Error("attempt failed", "state", seq.State(), "error", err)
	case result.RolledBack:
		outcome.Status = domain.OutcomeRolledBack
		outcome.CommitID = result.Commit.ID
		outcome.Cause = result.CauseMessage()
		logger.Warn("rolled back to known-good revision", "commit", result.Commit.ShortID(), "cause", result.CauseMessage())
	default:
		outcome.Status = domain.OutcomeSucceeded
		outcome.CommitID = result.Commit.ID
		logger.Info("deploy succeeded", "commit", result.Commit.ShortID(), "message", result.Commit.Message)
	}

	if result != nil {
		result.FinishedAt = finished
		result.Transitions = seq.Transitions()
	}

	o.metrics.ObserveOutcome(seq.Name, outcome.Status)

	if o.publisher != nil {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if pubErr := o.publisher.PublishOutcome(pubCtx, outcome); pubErr != nil {
			logger.Warn("failed to publish outcome", "error", pubErr)
		}
	}

	return result, err
}

func shortID(id string) string {
	return domain.Commit{ID: id}.ShortID()
}

// Deploy — разовый деплой: создаёт Orchestrator на одну попытку.
func Deploy(ctx context.Context, cfg Config, opts domain.Options) (*domain.Result, error) {
	return New(cfg).Deploy(ctx, opts)
}

// Rollback — разовый откат: создаёт Orchestrator на одну попытку.
func Rollback(ctx context.Context, cfg Config, opts domain.Options) (*domain.Result, error) {
	return New(cfg).Rollback(ctx, opts)
}
