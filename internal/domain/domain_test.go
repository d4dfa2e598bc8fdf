package domain

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type stubResolver struct {
	script string
	err    error
	calls  int
}

func (r *stubResolver) ResolveScript(dir string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return filepath.Join(dir, r.script), nil
}

// --- Options Tests ---

func TestNewOptions_Defaults(t *testing.T) {
	dir := t.TempDir()

	opts, err := NewOptions(OptionsSpec{Name: "svc", Dir: dir, Script: "app.js"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if opts.Branch() != DefaultBranch {
		t.Errorf("expected branch %q, got %q", DefaultBranch, opts.Branch())
	}
	if opts.Instances() != 1 {
		t.Errorf("expected 1 instance, got %d", opts.Instances())
	}
	if opts.Remote() != DefaultRemote {
		t.Errorf("expected remote %q, got %q", DefaultRemote, opts.Remote())
	}
	if len(opts.Env()) != 0 {
		t.Errorf("expected empty env, got %v", opts.Env())
	}
	install := opts.InstallCommand()
	if len(install) != 2 || install[0] != "npm" || install[1] != "install" {
		t.Errorf("unexpected install command: %v", install)
	}
}

func TestNewOptions_MissingName(t *testing.T) {
	_, err := NewOptions(OptionsSpec{Dir: t.TempDir(), Script: "app.js"}, nil)
	assertInvalidField(t, err, "name")
}

func TestNewOptions_MissingDir(t *testing.T) {
	_, err := NewOptions(OptionsSpec{Name: "svc", Script: "app.js"}, nil)
	assertInvalidField(t, err, "dir")
}

func TestNewOptions_DirDoesNotExist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	_, err := NewOptions(OptionsSpec{Name: "svc", Dir: dir, Script: "app.js"}, nil)
	assertInvalidField(t, err, "dir")
}

func TestNewOptions_DirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewOptions(OptionsSpec{Name: "svc", Dir: file, Script: "app.js"}, nil)
	assertInvalidField(t, err, "dir")
}

func TestNewOptions_NegativeInstances(t *testing.T) {
	_, err := NewOptions(OptionsSpec{Name: "svc", Dir: t.TempDir(), Script: "app.js", Instances: -2}, nil)
	assertInvalidField(t, err, "instances")
}

func TestNewOptions_ResolvesScript(t *testing.T) {
	dir := t.TempDir()
	resolver := &stubResolver{script: "server.js"}

	opts, err := NewOptions(OptionsSpec{Name: "svc", Dir: dir}, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver.calls != 1 {
		t.Errorf("expected resolver to be called once, got %d", resolver.calls)
	}
	if opts.Script() != filepath.Join(dir, "server.js") {
		t.Errorf("unexpected script: %s", opts.Script())
	}
}

func TestNewOptions_ExplicitScriptSkipsResolver(t *testing.T) {
	resolver := &stubResolver{err: errors.New("should not be called")}

	_, err := NewOptions(OptionsSpec{Name: "svc", Dir: t.TempDir(), Script: "app.js"}, resolver)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver.calls != 0 {
		t.Error("resolver should not be called when script is set")
	}
}

func TestNewOptions_ScriptResolutionFails(t *testing.T) {
	manifestErr := errors.New("no manifest")
	resolver := &stubResolver{err: manifestErr}

	_, err := NewOptions(OptionsSpec{Name: "svc", Dir: t.TempDir()}, resolver)
	assertInvalidField(t, err, "script")
	if !errors.Is(err, manifestErr) {
		t.Error("expected resolver error to be wrapped")
	}
}

func TestNewOptions_ScriptWithoutResolver(t *testing.T) {
	_, err := NewOptions(OptionsSpec{Name: "svc", Dir: t.TempDir()}, nil)
	assertInvalidField(t, err, "script")
}

func TestOptions_Immutable(t *testing.T) {
	env := map[string]string{"FOO": "1"}
	install := []string{"npm", "ci"}

	opts, err := NewOptions(OptionsSpec{
		Name:           "svc",
		Dir:            t.TempDir(),
		Script:         "app.js",
		Env:            env,
		InstallCommand: install,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Изменения исходных данных не влияют на Options
	env["FOO"] = "changed"
	install[1] = "changed"

	if opts.Env()["FOO"] != "1" {
		t.Errorf("env should be copied, got %v", opts.Env())
	}
	if opts.InstallCommand()[1] != "ci" {
		t.Errorf("install command should be copied, got %v", opts.InstallCommand())
	}

	// Изменения возвращённых копий тоже
	got := opts.Env()
	got["FOO"] = "mutated"
	if opts.Env()["FOO"] != "1" {
		t.Error("Env() should return a copy")
	}
}

func TestOptions_SpecRoundTrip(t *testing.T) {
	opts, err := NewOptions(OptionsSpec{
		Name:      "svc",
		Dir:       t.TempDir(),
		Branch:    "main",
		Script:    "app.js",
		Instances: 3,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	again, err := NewOptions(opts.Spec(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.Branch() != "main" || again.Instances() != 3 || again.Dir() != opts.Dir() {
		t.Errorf("spec round trip mismatch: %+v", again.Spec())
	}
}

func assertInvalidField(t *testing.T, err error, field string) {
	t.Helper()

	var invalid *InvalidOptionsError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidOptionsError, got %v", err)
	}
	if invalid.Field != field {
		t.Errorf("expected field %q, got %q", field, invalid.Field)
	}
}

// --- Errors Tests ---

func TestRollbackError_Unwrap(t *testing.T) {
	cause := &CheckoutError{Revision: "abc", Err: errors.New("missing")}
	rbErr := &RollbackError{Err: ErrNoKnownGood, Cause: cause}

	if !errors.Is(rbErr, ErrNoKnownGood) {
		t.Error("rollback error should match its own error")
	}

	var checkoutErr *CheckoutError
	if !errors.As(rbErr, &checkoutErr) {
		t.Fatal("rollback error should expose the cause")
	}
	if checkoutErr.Revision != "abc" {
		t.Errorf("unexpected revision: %s", checkoutErr.Revision)
	}
}

func TestFailedState(t *testing.T) {
	err := &StepError{State: StateInstalling, Err: errors.New("boom")}

	if FailedState(err) != StateInstalling {
		t.Errorf("expected INSTALLING, got %s", FailedState(err))
	}
	if FailedState(errors.New("plain")) != "" {
		t.Error("plain error should have no state")
	}
}

// --- State & Result Tests ---

func TestState_IsTerminal(t *testing.T) {
	if !StateSucceeded.IsTerminal() || !StateRollbackFailed.IsTerminal() {
		t.Error("SUCCEEDED and ROLLBACK_FAILED should be terminal")
	}
	if StateFailed.IsTerminal() {
		t.Error("FAILED leads to rollback and should not be terminal")
	}
	if StateRollingBack.Step() != "rolling_back" {
		t.Errorf("unexpected step name: %s", StateRollingBack.Step())
	}
}

func TestResult_Duration(t *testing.T) {
	r := &Result{}
	if r.Duration() != 0 {
		t.Error("duration of unfinished result should be 0")
	}

	now := time.Now()
	r.StartedAt = now
	r.FinishedAt = now.Add(3 * time.Second)
	if r.Duration() != 3*time.Second {
		t.Errorf("expected 3s, got %v", r.Duration())
	}
}

func TestCommit_ShortID(t *testing.T) {
	c := Commit{ID: "0123456789abcdef"}
	if c.ShortID() != "0123456" {
		t.Errorf("unexpected short id: %s", c.ShortID())
	}
	if (Commit{ID: "c3"}).ShortID() != "c3" {
		t.Error("short ids should be returned as is")
	}
}
