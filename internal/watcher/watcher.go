package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/vcs"
)

// Deployer выполняет одну попытку деплоя.
type Deployer interface {
	Deploy(ctx context.Context, opts domain.Options) (*domain.Result, error)
}

// Probe — read-only доступ к репозиторию для сравнения ревизий.
type Probe interface {
	RemoteTip(ctx context.Context, branch string) (string, error)
	KnownGood(name string) (string, error)
	Head() (string, error)
	Close() error
}

// ProbeOpener открывает Probe для директории проекта.
type ProbeOpener func(dir, remote string) (Probe, error)

// OpenProbe — ProbeOpener по умолчанию (go-git).
func OpenProbe(dir, remote string) (Probe, error) {
	repo, err := vcs.Open(dir, remote)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// Status — снимок состояния watcher'а для /status.
type Status struct {
	Name      string    `json:"name"`
	Branch    string    `json:"branch"`
	Schedule  string    `json:"schedule"`
	Checks    int       `json:"checks"`
	Deploys   int       `json:"deploys"`
	Skipped   int       `json:"skipped"`
	LastCheck time.Time `json:"last_check,omitempty"`
	NextCheck time.Time `json:"next_check,omitempty"`
	RemoteTip string    `json:"remote_tip,omitempty"`
	Current   string    `json:"current,omitempty"`
	LastError string    `json:"last_error,omitempty"`

	// LastOutcome — итог последнего деплоя.
	LastOutcome domain.OutcomeStatus `json:"last_outcome,omitempty"`

	// FailedTip — вершина ветки, деплой которой не заработал.
	// Плановые проверки её пропускают, пока ветка не сдвинется.
	FailedTip string `json:"failed_tip,omitempty"`
}

// Watcher по расписанию сравнивает вершину удалённой ветки с последней
// рабочей ревизией и запускает деплой, когда они расходятся.
type Watcher struct {
	deployer Deployer
	open     ProbeOpener
	opts     domain.Options
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	// trigger — внеочередные проверки. pending держится, пока проверка
	// не началась: повторные запросы схлопываются.
	trigger chan struct{}
	pending atomic.Bool

	// running — одна проверка за раз.
	running sync.Mutex

	mu     sync.Mutex
	status Status
}

// Config — конфигурация Watcher.
type Config struct {
	// Deployer — оркестратор (обязательный).
	Deployer Deployer

	// Open — доступ к репозиторию (по умолчанию OpenProbe).
	Open ProbeOpener

	// Options — параметры деплоя сервиса.
	Options domain.Options

	// Schedule — cron-выражение (по умолчанию DefaultSchedule).
	Schedule string

	// Logger
	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// New создаёт Watcher. Расписание проверяется сразу.
func New(cfg Config) (*Watcher, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}

	open := cfg.Open
	if open == nil {
		open = OpenProbe
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Watcher{
		deployer: cfg.Deployer,
		open:     open,
		opts:     cfg.Options,
		schedule: schedule,
		logger:   logger.With("name", cfg.Options.Name(), "branch", cfg.Options.Branch()),
		now:      now,
		trigger:  make(chan struct{}, 1),
		status: Status{
			Name:     cfg.Options.Name(),
			Branch:   cfg.Options.Branch(),
			Schedule: schedule,
		},
	}, nil
}

// Check сравнивает вершину удалённой ветки с текущей ревизией.
//
// Текущая ревизия — ссылка known-good, а без неё HEAD.
// Если ни то, ни другое не разрешается, считается, что деплой нужен.
func (w *Watcher) Check(ctx context.Context) (tip, current string, changed bool, err error) {
	probe, err := w.open(w.opts.Dir(), w.opts.Remote())
	if err != nil {
		return "", "", false, fmt.Errorf("open repository: %w", err)
	}
	defer probe.Close()

	tip, err = probe.RemoteTip(ctx, w.opts.Branch())
	if err != nil {
		return "", "", false, fmt.Errorf("remote tip: %w", err)
	}

	current, err = probe.KnownGood(w.opts.Name())
	if err != nil {
		if !errors.Is(err, domain.ErrNoKnownGood) {
			w.logger.Warn("cannot read known-good reference", "error", err)
		}
		current, err = probe.Head()
		if err != nil {
			w.logger.Warn("cannot resolve HEAD", "error", err)
			current = ""
		}
	}

	return tip, current, tip != current, nil
}

// Tick выполняет одну проверку и, если ветка ушла вперёд, деплой.
// Вершина, деплой которой уже не заработал, пропускается.
//
// Ошибка деплоя возвращается, но уже учтена в Status и логах.
func (w *Watcher) Tick(ctx context.Context) error {
	return w.tick(ctx, false)
}

// tick — Tick; retry разрешает повторный деплой вершины FailedTip.
func (w *Watcher) tick(ctx context.Context, retry bool) error {
	tip, current, changed, err := w.Check(ctx)

	w.mu.Lock()
	w.status.Checks++
	w.status.LastCheck = w.now()
	if next, nextErr := NextRun(w.schedule, w.status.LastCheck); nextErr == nil {
		w.status.NextCheck = next
	}
	w.status.RemoteTip = tip
	w.status.Current = current
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("check failed", "error", err)
		return err
	}

	if !changed {
		w.logger.Debug("branch unchanged", "commit", short(current))
		return nil
	}

	w.mu.Lock()
	failedTip := w.status.FailedTip
	w.mu.Unlock()

	if tip == failedTip && !retry {
		w.logger.Info("remote tip already failed to deploy, waiting for a new commit", "commit", short(tip))
		return nil
	}

	w.logger.Info("branch moved, deploying", "from", short(current), "to", short(tip))

	result, err := w.deployer.Deploy(ctx, w.opts)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Deploys++

	if revisionFailed(result, err) {
		w.status.FailedTip = tip
	}

	switch {
	case err != nil:
		w.status.LastOutcome = domain.OutcomeFailed
		w.status.LastError = err.Error()
		return err
	case result.RolledBack:
		w.status.LastOutcome = domain.OutcomeRolledBack
		w.status.LastError = result.CauseMessage()
		w.status.Current = result.Commit.ID
	default:
		w.status.LastOutcome = domain.OutcomeSucceeded
		w.status.Current = result.Commit.ID
		w.status.FailedTip = ""
	}
	return nil
}

// revisionFailed возвращает true, если новая ревизия была получена и не
// заработала. Ошибка синхронизации ревизию не проверяет, и такой деплой
// повторяется на следующей проверке.
func revisionFailed(result *domain.Result, err error) bool {
	var cause error
	var rbErr *domain.RollbackError
	switch {
	case errors.As(err, &rbErr):
		cause = rbErr.Cause
	case err == nil && result != nil && result.RolledBack:
		cause = result.Cause
	}
	if cause == nil {
		return false
	}
	return domain.FailedState(cause) != domain.StateSyncing
}

// Run запускает проверки по расписанию и блокируется до отмены ctx.
//
// Проверки не пересекаются. Плановая проверка, пришедшая во время другой,
// пропускается и учитывается в Status.Skipped. Внеочередная ждёт
// окончания текущей и повторяет деплой даже для FailedTip.
func (w *Watcher) Run(ctx context.Context) error {
	schedule, err := ParseSchedule(w.schedule)
	if err != nil {
		return err
	}

	logger := cronLogger{logger: w.logger}
	chain := cron.NewChain(cron.Recover(logger))
	scheduled := chain.Then(cron.FuncJob(func() { w.scheduledTick(ctx) }))
	triggered := chain.Then(cron.FuncJob(func() { w.triggeredTick(ctx) }))

	c := cron.New(cron.WithParser(cronParser), cron.WithLogger(logger))
	c.Schedule(schedule, scheduled)
	c.Start()

	w.logger.Info("watcher started", "schedule", w.schedule, "next_run", schedule.Next(w.now()).UTC())

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			<-c.Stop().Done()
			wg.Wait()
			return nil
		case <-w.trigger:
			w.logger.Info("check triggered")
			wg.Add(1)
			go func() {
				defer wg.Done()
				triggered.Run()
			}()
		}
	}
}

func (w *Watcher) scheduledTick(ctx context.Context) {
	if !w.running.TryLock() {
		w.logger.Info("previous check still running, skipping scheduled check")
		w.mu.Lock()
		w.status.Skipped++
		w.mu.Unlock()
		return
	}
	defer w.running.Unlock()

	_ = w.tick(ctx, false)
}

func (w *Watcher) triggeredTick(ctx context.Context) {
	w.running.Lock()
	defer w.running.Unlock()

	// С этого момента следующий Trigger ставит новую проверку.
	w.pending.Store(false)

	if ctx.Err() != nil {
		return
	}
	_ = w.tick(ctx, true)
}

// Trigger ставит внеочередную проверку. Возвращает false, если проверка
// уже ждёт в очереди и ещё не началась.
func (w *Watcher) Trigger() bool {
	if !w.pending.CompareAndSwap(false, true) {
		return false
	}
	select {
	case w.trigger <- struct{}{}:
	default:
	}
	return true
}

// Status возвращает копию текущего состояния.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func short(id string) string {
	if len(id) <= 7 {
		return id
	}
	return id[:7]
}
