package supervisor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
)

// fakeExecutor записывает команды и возвращает заранее заданный ответ.
type fakeExecutor struct {
	calls []shell.Command
	out   *shell.Output
	err   error
}

func (f *fakeExecutor) Execute(_ context.Context, cmd shell.Command) (*shell.Output, error) {
	f.calls = append(f.calls, cmd)
	out := f.out
	if out == nil {
		out = &shell.Output{}
	}
	return out, f.err
}

func failure(stdout, stderr string, code int) (*shell.Output, error) {
	out := &shell.Output{Stdout: stdout, Stderr: stderr}
	return out, &shell.ExecutionError{Command: "pm2", ExitCode: code, Stdout: stdout, Stderr: stderr}
}

// --- Stop Tests ---

func TestPM2_Stop(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(Config{Executor: exec})

	if err := p.Stop(context.Background(), "api"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []shell.Command{{Name: "pm2", Args: []string{"stop", "api"}}}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestPM2_Stop_NotFoundIsSuccess(t *testing.T) {
	out, err := failure("", "[PM2][ERROR] Process or Namespace api not found", 1)
	p := New(Config{Executor: &fakeExecutor{out: out, err: err}})

	if err := p.Stop(context.Background(), "api"); err != nil {
		t.Errorf("stopping an absent process should succeed, got %v", err)
	}
}

func TestPM2_Stop_OtherFailure(t *testing.T) {
	out, err := failure("", "connect EACCES /root/.pm2/rpc.sock", 1)
	p := New(Config{Executor: &fakeExecutor{out: out, err: err}})

	err = p.Stop(context.Background(), "api")
	if err == nil {
		t.Fatal("expected error")
	}

	var execErr *shell.ExecutionError
	if !errors.As(err, &execErr) {
		t.Errorf("expected wrapped ExecutionError, got %v", err)
	}
}

func TestPM2_Stop_BinaryMissing(t *testing.T) {
	err := &shell.ExecutionError{Command: "pm2", ExitCode: -1, Err: errors.New(`exec: "pm2": executable file not found in $PATH`)}
	p := New(Config{Executor: &fakeExecutor{out: &shell.Output{}, err: err}})

	if err := p.Stop(context.Background(), "api"); err == nil {
		t.Error("missing pm2 binary must not be treated as absent process")
	}
}

// --- Start Tests ---

func TestPM2_Start(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(Config{Bin: "/usr/local/bin/pm2", Executor: exec})

	err := p.Start(context.Background(), StartRequest{
		Name:      "api",
		Script:    "/srv/api/server.js",
		Instances: 4,
		Dir:       "/srv/api",
		Env:       map[string]string{"FOO": "2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []shell.Command{{
		Name: "/usr/local/bin/pm2",
		Args: []string{"start", "/srv/api/server.js", "--name", "api", "-i", "4", "--update-env"},
		Dir:  "/srv/api",
		Env:  map[string]string{"FOO": "2"},
	}}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestPM2_Start_DefaultInstances(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(Config{Executor: exec})

	if err := p.Start(context.Background(), StartRequest{Name: "api", Script: "app.js"}); err != nil {
		t.Fatal(err)
	}
	if got := exec.calls[0].Args[5]; got != "1" {
		t.Errorf("expected 1 instance, got %s", got)
	}
}

func TestPM2_Start_Failure(t *testing.T) {
	out, err := failure("", "Script not found: /srv/api/missing.js", 1)
	p := New(Config{Executor: &fakeExecutor{out: out, err: err}})

	err = p.Start(context.Background(), StartRequest{Name: "api", Script: "/srv/api/missing.js"})
	if err == nil {
		t.Fatal("start failure must be reported even if output says not found")
	}
}

// --- Describe Tests ---

const jlistOutput = `>>>> In-memory PM2 is out-of-date, do:
[
  {"name": "api", "pm_id": 0, "pid": 1201, "pm2_env": {"status": "online"}},
  {"name": "worker", "pm_id": 1, "pid": 1202, "pm2_env": {"status": "stopped"}},
  {"name": "api", "pm_id": 2, "pid": 1203, "pm2_env": {"status": "online"}}
]`

func TestPM2_Describe(t *testing.T) {
	exec := &fakeExecutor{out: &shell.Output{Stdout: jlistOutput}}
	p := New(Config{Executor: exec})

	procs, err := p.Describe(context.Background(), "api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []domain.ProcessInfo{
		{Name: "api", ID: 0, PID: 1201, Status: "online"},
		{Name: "api", ID: 2, PID: 1203, Status: "online"},
	}
	if diff := cmp.Diff(want, procs); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
	if exec.calls[0].Args[0] != "jlist" {
		t.Errorf("expected jlist, got %v", exec.calls[0].Args)
	}
}

func TestParseJList_Empty(t *testing.T) {
	procs, err := ParseJList("")
	if err != nil || len(procs) != 0 {
		t.Errorf("expected empty result, got %v (%v)", procs, err)
	}

	procs, err = ParseJList("[]")
	if err != nil || len(procs) != 0 {
		t.Errorf("expected empty result, got %v (%v)", procs, err)
	}
}

func TestParseJList_BracketedWarning(t *testing.T) {
	out := "[PM2] Spawning PM2 daemon with pm2_home=/root/.pm2\n[PM2] PM2 Successfully daemonized\n" +
		`[{"name": "api", "pm_id": 3, "pid": 77, "pm2_env": {"status": "launching"}}]`

	procs, err := ParseJList(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(procs) != 1 || procs[0].ID != 3 || procs[0].Status != "launching" {
		t.Errorf("unexpected processes: %+v", procs)
	}
}

func TestParseJList_Invalid(t *testing.T) {
	if _, err := ParseJList("[{"); !errors.Is(err, ErrInvalidOutput) {
		t.Errorf("expected ErrInvalidOutput, got %v", err)
	}
	if _, err := ParseJList("daemon not running"); !errors.Is(err, ErrInvalidOutput) {
		t.Errorf("expected ErrInvalidOutput, got %v", err)
	}
}
