package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/supervisor"
	"github.com/shaiso/redeploy/internal/vcs"
)

func commitApp(t *testing.T, repo *git.Repository, dir, content string) string {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("app.js"); err != nil {
		t.Fatal(err)
	}
	hash, err := wt.Commit(content, &git.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

func appContent(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "app.js"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// --- Integration Tests ---

func TestDeploy_GitRepository(t *testing.T) {
	originDir := t.TempDir()
	origin, err := git.PlainInit(originDir, false)
	if err != nil {
		t.Fatal(err)
	}
	commitApp(t, origin, originDir, "v1")

	workDir := t.TempDir()
	if _, err := git.PlainClone(workDir, false, &git.CloneOptions{URL: originDir}); err != nil {
		t.Fatalf("clone: %v", err)
	}

	v2 := commitApp(t, origin, originDir, "v2")

	rec := &recorder{}
	procs := &fakeProcesses{rec: rec, startErrs: []error{nil, errExit1}}
	cfg := Config{
		Executor:  &fakeExecutor{rec: rec},
		Processes: procs,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	opts, err := domain.NewOptions(domain.OptionsSpec{
		Name:   "api",
		Dir:    workDir,
		Branch: "master",
		Script: "app.js",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Deploy(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	if result.Commit.ID != v2 || result.Commit.Message != "v2" {
		t.Errorf("expected v2 %s, got %+v", v2, result.Commit)
	}
	if got := appContent(t, workDir); got != "v2" {
		t.Errorf("worktree should contain v2, got %q", got)
	}

	repo, err := vcs.Open(workDir, "")
	if err != nil {
		t.Fatal(err)
	}
	kg, err := repo.KnownGood("api")
	repo.Close()
	if err != nil || kg != v2 {
		t.Fatalf("known-good should be v2, got %q (%v)", kg, err)
	}

	// Второй деплой: v3 не стартует, откат на v2.
	commitApp(t, origin, originDir, "v3")

	result, err = Deploy(context.Background(), cfg, opts)
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !result.RolledBack || result.Commit.ID != v2 {
		t.Errorf("expected rollback to v2, got %+v", result)
	}
	if got := appContent(t, workDir); got != "v2" {
		t.Errorf("worktree should be restored to v2, got %q", got)
	}
}

// Окружение: процесс FOO=1, overlay FOO=2 → команды видят 2.
func TestDeploy_EnvOverlayWins(t *testing.T) {
	t.Setenv("FOO", "1")

	dir := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "pm2.log")
	bin := filepath.Join(t.TempDir(), "pm2")
	script := "#!/bin/sh\necho \"$1 $FOO\" >> " + logPath + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	opts, err := domain.NewOptions(domain.OptionsSpec{
		Name:           "svc",
		Dir:            dir,
		Branch:         "main",
		Script:         "app.js",
		Env:            map[string]string{"FOO": "2"},
		InstallCommand: []string{"sh", "-c", `echo "$FOO" > install.env`},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	executor := shell.New(shell.Config{Logger: logger})
	rec := &recorder{}

	result, err := Deploy(context.Background(), Config{
		Executor:  executor,
		Processes: supervisor.New(supervisor.Config{Bin: bin, Executor: executor, Logger: logger}),
		Open:      newFakeRepo(rec, "c0", "c1").opener(),
		Logger:    logger,
	}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RolledBack {
		t.Fatalf("unexpected rollback: %v", result.Cause)
	}

	installed, err := os.ReadFile(filepath.Join(dir, "install.env"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(installed)) != "2" {
		t.Errorf("install should see FOO=2, got %q", installed)
	}

	log, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(log), "start 2\n") {
		t.Errorf("pm2 start should see FOO=2, got %q", log)
	}
}
