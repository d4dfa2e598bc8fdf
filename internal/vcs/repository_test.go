package vcs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/shaiso/redeploy/internal/domain"
)

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// initRepo создаёт репозиторий с коммитами msgs (файл app.js меняется в каждом).
func initRepo(t *testing.T, msgs ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	hashes := make([]string, 0, len(msgs))
	for i, msg := range msgs {
		hashes = append(hashes, commitFile(t, repo, dir, "app.js", msg, i))
	}
	return dir, hashes
}

func commitFile(t *testing.T, repo *git.Repository, dir, file, content string, seq int) string {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(file); err != nil {
		t.Fatalf("add: %v", err)
	}

	hash, err := wt.Commit(content, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "dev",
			Email: "dev@example.com",
			When:  baseTime.Add(time.Duration(seq) * time.Minute),
		},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return hash.String()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func openRepo(t *testing.T, dir string) *Repository {
	t.Helper()
	r, err := Open(dir, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

// --- Open Tests ---

func TestOpen_NotARepository(t *testing.T) {
	_, err := Open(t.TempDir(), "")
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		t.Errorf("expected ErrRepositoryNotExists, got %v", err)
	}
}

func TestClose_Idempotent(t *testing.T) {
	dir, _ := initRepo(t, "v1")
	r, err := Open(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second close should be no-op, got %v", err)
	}
	if _, err := r.Head(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
}

// --- ListCommits Tests ---

func TestListCommits_NewestFirst(t *testing.T) {
	dir, hashes := initRepo(t, "v1", "v2", "v3")
	r := openRepo(t, dir)

	commits, err := r.ListCommits(context.Background(), "master")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(commits))
	}
	for i, want := range []string{hashes[2], hashes[1], hashes[0]} {
		if commits[i].ID != want {
			t.Errorf("commit %d: expected %s, got %s", i, want, commits[i].ID)
		}
	}
	if commits[0].Message != "v3" || commits[0].Author != "dev" {
		t.Errorf("unexpected newest commit: %+v", commits[0])
	}
}

func TestListCommits_Limit(t *testing.T) {
	dir, hashes := initRepo(t, "v1", "v2", "v3")
	r := openRepo(t, dir)
	r.limit = 2

	commits, err := r.ListCommits(context.Background(), "master")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(commits) != 2 || commits[0].ID != hashes[2] {
		t.Errorf("unexpected commits: %+v", commits)
	}
}

func TestListCommits_MissingBranch(t *testing.T) {
	dir, _ := initRepo(t, "v1")
	r := openRepo(t, dir)

	_, err := r.ListCommits(context.Background(), "release")

	var syncErr *domain.SynchronizationError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SynchronizationError, got %v", err)
	}
	if syncErr.Branch != "release" || !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("unexpected error: %v", err)
	}
}

// --- Checkout Tests ---

func TestCheckout_OlderRevision(t *testing.T) {
	dir, hashes := initRepo(t, "v1", "v2")
	r := openRepo(t, dir)

	commit, err := r.Checkout(context.Background(), hashes[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if commit.ID != hashes[0] {
		t.Errorf("expected %s, got %s", hashes[0], commit.ID)
	}
	if got := readFile(t, filepath.Join(dir, "app.js")); got != "v1" {
		t.Errorf("working tree should match revision, got %q", got)
	}

	head, err := r.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head != hashes[0] {
		t.Errorf("HEAD should move to %s, got %s", hashes[0], head)
	}
}

func TestCheckout_DiscardsLocalChanges(t *testing.T) {
	dir, hashes := initRepo(t, "v1")
	r := openRepo(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("dirty"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Checkout(context.Background(), hashes[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := readFile(t, filepath.Join(dir, "app.js")); got != "v1" {
		t.Errorf("local changes should be discarded, got %q", got)
	}
}

func TestCheckout_UnknownRevision(t *testing.T) {
	dir, _ := initRepo(t, "v1")
	r := openRepo(t, dir)

	_, err := r.Checkout(context.Background(), "0123456789abcdef0123456789abcdef01234567")

	var coErr *domain.CheckoutError
	if !errors.As(err, &coErr) {
		t.Fatalf("expected CheckoutError, got %v", err)
	}
	if coErr.Revision != "0123456789abcdef0123456789abcdef01234567" {
		t.Errorf("unexpected revision: %s", coErr.Revision)
	}
}

func TestCheckout_EmptyRevision(t *testing.T) {
	dir, _ := initRepo(t, "v1")
	r := openRepo(t, dir)

	var coErr *domain.CheckoutError
	if _, err := r.Checkout(context.Background(), ""); !errors.As(err, &coErr) {
		t.Errorf("expected CheckoutError, got %v", err)
	}
}

// --- Head / KnownGood Tests ---

func TestHead_EmptyRepository(t *testing.T) {
	dir := t.TempDir()
	if _, err := git.PlainInit(dir, false); err != nil {
		t.Fatal(err)
	}
	r := openRepo(t, dir)

	if _, err := r.Head(); !errors.Is(err, ErrNoHead) {
		t.Errorf("expected ErrNoHead, got %v", err)
	}
}

func TestKnownGood_RoundTrip(t *testing.T) {
	dir, hashes := initRepo(t, "v1", "v2")
	r := openRepo(t, dir)

	if _, err := r.KnownGood("api"); !errors.Is(err, domain.ErrNoKnownGood) {
		t.Fatalf("expected ErrNoKnownGood, got %v", err)
	}

	if err := r.MarkKnownGood("api", hashes[0]); err != nil {
		t.Fatalf("mark: %v", err)
	}

	got, err := r.KnownGood("api")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != hashes[0] {
		t.Errorf("expected %s, got %s", hashes[0], got)
	}

	if _, err := r.KnownGood("worker"); !errors.Is(err, domain.ErrNoKnownGood) {
		t.Errorf("pointers should be per service, got %v", err)
	}
}

func TestKnownGood_SurvivesReopen(t *testing.T) {
	dir, hashes := initRepo(t, "v1")
	r := openRepo(t, dir)
	if err := r.MarkKnownGood("api", hashes[0]); err != nil {
		t.Fatal(err)
	}
	r.Close()

	reopened := openRepo(t, dir)
	got, err := reopened.KnownGood("api")
	if err != nil || got != hashes[0] {
		t.Errorf("expected %s, got %s (%v)", hashes[0], got, err)
	}
}

func TestMarkKnownGood_UnknownRevision(t *testing.T) {
	dir, _ := initRepo(t, "v1")
	r := openRepo(t, dir)

	if err := r.MarkKnownGood("api", "deadbeef"); err == nil {
		t.Error("expected error for unknown revision")
	}
}

func TestKnownGoodRef(t *testing.T) {
	tests := []struct {
		name string
		want plumbing.ReferenceName
	}{
		{"api", "refs/redeploy/api/known-good"},
		{"my app", "refs/redeploy/my-app/known-good"},
		{"a/b", "refs/redeploy/a-b/known-good"},
		{"..hidden", "refs/redeploy/hidden/known-good"},
		{"svc.lock", "refs/redeploy/svc/known-good"},
		{"", "refs/redeploy/default/known-good"},
	}

	for _, tt := range tests {
		if got := KnownGoodRef(tt.name); got != tt.want {
			t.Errorf("KnownGoodRef(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}

// --- Synchronize Tests ---

// cloneFixture создаёт origin с коммитами msgs и его клон.
func cloneFixture(t *testing.T, msgs ...string) (origin *git.Repository, originDir, workDir string) {
	t.Helper()

	originDir, _ = initRepo(t, msgs...)
	origin, err := git.PlainOpen(originDir)
	if err != nil {
		t.Fatal(err)
	}

	workDir = t.TempDir()
	if _, err := git.PlainClone(workDir, false, &git.CloneOptions{URL: originDir}); err != nil {
		t.Fatalf("clone: %v", err)
	}
	return origin, originDir, workDir
}

func TestSynchronize_MovesToRemoteTip(t *testing.T) {
	origin, originDir, workDir := cloneFixture(t, "v1")
	tip := commitFile(t, origin, originDir, "app.js", "v2", 1)

	if err := os.WriteFile(filepath.Join(workDir, "app.js"), []byte("local edit"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := openRepo(t, workDir)
	if err := r.Synchronize(context.Background(), "master"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	head, err := r.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head != tip {
		t.Errorf("expected HEAD %s, got %s", tip, head)
	}
	if got := readFile(t, filepath.Join(workDir, "app.js")); got != "v2" {
		t.Errorf("working tree should match remote tip, got %q", got)
	}

	commits, err := r.ListCommits(context.Background(), "master")
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 || commits[0].ID != tip {
		t.Errorf("newest commit should be remote tip, got %+v", commits)
	}
}

func TestSynchronize_AlreadyUpToDate(t *testing.T) {
	_, _, workDir := cloneFixture(t, "v1")
	r := openRepo(t, workDir)

	if err := r.Synchronize(context.Background(), "master"); err != nil {
		t.Errorf("up-to-date fetch should not fail: %v", err)
	}
}

func TestSynchronize_UnknownBranch(t *testing.T) {
	_, _, workDir := cloneFixture(t, "v1")
	r := openRepo(t, workDir)

	err := r.Synchronize(context.Background(), "release")

	var syncErr *domain.SynchronizationError
	if !errors.As(err, &syncErr) {
		t.Fatalf("expected SynchronizationError, got %v", err)
	}
	if !errors.Is(err, ErrRemoteBranchNotFound) {
		t.Errorf("expected ErrRemoteBranchNotFound, got %v", err)
	}
}

func TestSynchronize_NoRemote(t *testing.T) {
	dir, _ := initRepo(t, "v1")
	r := openRepo(t, dir)

	var syncErr *domain.SynchronizationError
	if err := r.Synchronize(context.Background(), "master"); !errors.As(err, &syncErr) {
		t.Errorf("expected SynchronizationError, got %v", err)
	}
}

func TestRemoteTip(t *testing.T) {
	origin, originDir, workDir := cloneFixture(t, "v1")
	tip := commitFile(t, origin, originDir, "app.js", "v2", 1)

	r := openRepo(t, workDir)
	before, _ := r.Head()

	got, err := r.RemoteTip(context.Background(), "master")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != tip {
		t.Errorf("expected %s, got %s", tip, got)
	}

	after, _ := r.Head()
	if before != after {
		t.Error("RemoteTip must not move HEAD")
	}

	if _, err := r.RemoteTip(context.Background(), "release"); !errors.Is(err, ErrRemoteBranchNotFound) {
		t.Errorf("expected ErrRemoteBranchNotFound, got %v", err)
	}
}
