package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/supervisor"
)

// recorder — общий журнал вызовов всех fake-компонентов.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// count возвращает количество вызовов с префиксом prefix.
func (r *recorder) count(prefix string) int {
	n := 0
	for _, c := range r.list() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// --- fakeRepo ---

type fakeRepo struct {
	rec *recorder

	head      string
	headErr   error
	knownGood map[string]string
	commits   []domain.Commit

	syncErr     error
	listErr     error
	checkoutErr map[string]error

	openErr error
	closed  int
}

func newFakeRepo(rec *recorder, head string, commits ...string) *fakeRepo {
	r := &fakeRepo{
		rec:         rec,
		head:        head,
		knownGood:   map[string]string{},
		checkoutErr: map[string]error{},
	}
	for _, id := range commits {
		r.commits = append(r.commits, domain.Commit{ID: id, Message: "commit " + id})
	}
	return r
}

func (r *fakeRepo) opener() Opener {
	return func(dir, remote string) (RevisionSource, error) {
		if r.openErr != nil {
			return nil, r.openErr
		}
		return r, nil
	}
}

func (r *fakeRepo) Synchronize(_ context.Context, branch string) error {
	r.rec.add("synchronize %s", branch)
	return r.syncErr
}

func (r *fakeRepo) ListCommits(_ context.Context, branch string) ([]domain.Commit, error) {
	r.rec.add("list %s", branch)
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.commits, nil
}

func (r *fakeRepo) Checkout(_ context.Context, revision string) (domain.Commit, error) {
	r.rec.add("checkout %s", revision)
	if err := r.checkoutErr[revision]; err != nil {
		return domain.Commit{}, &domain.CheckoutError{Revision: revision, Err: err}
	}
	r.head = revision
	r.headErr = nil
	return domain.Commit{ID: revision}, nil
}

func (r *fakeRepo) Head() (string, error) {
	if r.headErr != nil {
		return "", r.headErr
	}
	return r.head, nil
}

func (r *fakeRepo) KnownGood(name string) (string, error) {
	if kg, ok := r.knownGood[name]; ok {
		return kg, nil
	}
	return "", domain.ErrNoKnownGood
}

func (r *fakeRepo) MarkKnownGood(name, revision string) error {
	r.rec.add("mark %s %s", name, revision)
	r.knownGood[name] = revision
	return nil
}

func (r *fakeRepo) Close() error {
	r.closed++
	return nil
}

// --- fakeExecutor ---

// fakeExecutor возвращает ошибки из errs по порядку вызовов (nil — успех).
type fakeExecutor struct {
	rec  *recorder
	errs []error
	n    int
	cmds []shell.Command

	// entered/release позволяют задержать первый вызов.
	entered chan struct{}
	release chan struct{}

	// onExec вызывается один раз во время первой команды.
	onExec func()
}

// Execute, как и настоящий исполнитель, прерывается отменённым ctx.
func (e *fakeExecutor) Execute(ctx context.Context, cmd shell.Command) (*shell.Output, error) {
	e.rec.add("exec %s", cmd.String())
	e.cmds = append(e.cmds, cmd)

	if e.onExec != nil {
		e.onExec()
		e.onExec = nil
	}
	if err := ctx.Err(); err != nil {
		return nil, &shell.ExecutionError{Command: cmd.String(), ExitCode: -1, Err: err}
	}

	if e.entered != nil {
		close(e.entered)
		e.entered = nil
		<-e.release
	}

	var err error
	if e.n < len(e.errs) {
		err = e.errs[e.n]
	}
	e.n++

	if err != nil {
		return &shell.Output{Stderr: err.Error()}, &shell.ExecutionError{Command: cmd.String(), ExitCode: 1, Stderr: err.Error(), Err: err}
	}
	return &shell.Output{}, nil
}

// --- fakeProcesses ---

type fakeProcesses struct {
	rec       *recorder
	stopErr   error
	startErrs []error
	starts    []supervisor.StartRequest
	procs     []domain.ProcessInfo

	// onStart вызывается один раз во время первого запуска.
	onStart func()
}

func (p *fakeProcesses) Stop(ctx context.Context, name string) error {
	p.rec.add("stop %s", name)
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.stopErr
}

func (p *fakeProcesses) Start(ctx context.Context, req supervisor.StartRequest) error {
	p.rec.add("start %s %s %d", req.Name, req.Script, req.Instances)

	if p.onStart != nil {
		p.onStart()
		p.onStart = nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n := len(p.starts)
	p.starts = append(p.starts, req)
	if n < len(p.startErrs) && p.startErrs[n] != nil {
		return &shell.ExecutionError{Command: "pm2 start", ExitCode: 1, Err: p.startErrs[n]}
	}
	return nil
}

func (p *fakeProcesses) Describe(_ context.Context, name string) ([]domain.ProcessInfo, error) {
	return p.procs, nil
}

// --- fakePublisher ---

type fakePublisher struct {
	outcomes []domain.Outcome
	err      error
}

func (p *fakePublisher) PublishOutcome(_ context.Context, outcome domain.Outcome) error {
	p.outcomes = append(p.outcomes, outcome)
	return p.err
}

var errExit1 = errors.New("exit status 1")
