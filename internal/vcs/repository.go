package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/shaiso/redeploy/internal/domain"
)

// DefaultLogLimit — сколько коммитов максимум возвращает ListCommits.
const DefaultLogLimit = 50

// knownGoodPrefix — пространство ссылок, которыми владеет redeploy.
const knownGoodPrefix = "refs/redeploy/"

// Repository — git-репозиторий проекта.
type Repository struct {
	dir    string
	remote string
	limit  int

	repo *git.Repository
}

// Open открывает git-репозиторий в dir.
//
// remote — имя удалённого репозитория для fetch (пусто → origin).
func Open(dir, remote string) (*Repository, error) {
	if remote == "" {
		remote = domain.DefaultRemote
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}

	return &Repository{
		dir:    dir,
		remote: remote,
		limit:  DefaultLogLimit,
		repo:   repo,
	}, nil
}

// Dir возвращает директорию репозитория.
func (r *Repository) Dir() string {
	return r.dir
}

// Close освобождает файловые дескрипторы хранилища.
func (r *Repository) Close() error {
	if r.repo == nil {
		return nil
	}
	repo := r.repo
	r.repo = nil

	if c, ok := repo.Storer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Synchronize приводит рабочее дерево к вершине ветки на удалённом репозитории.
//
// Порядок: hard reset на HEAD (локальные изменения отбрасываются), fetch,
// локальная ветка переставляется на remote-tracking вершину, checkout ветки.
func (r *Repository) Synchronize(ctx context.Context, branch string) error {
	if r.repo == nil {
		return &domain.SynchronizationError{Branch: branch, Err: ErrClosed}
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return &domain.SynchronizationError{Branch: branch, Err: err}
	}

	if _, err := r.repo.Head(); err == nil {
		if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset}); err != nil {
			return &domain.SynchronizationError{Branch: branch, Err: fmt.Errorf("discard local changes: %w", err)}
		}
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return &domain.SynchronizationError{Branch: branch, Err: err}
	}

	err = r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: r.remote})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return &domain.SynchronizationError{Branch: branch, Err: fmt.Errorf("fetch %s: %w", r.remote, err)}
	}

	remoteRef, err := r.repo.Reference(plumbing.NewRemoteReferenceName(r.remote, branch), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			err = fmt.Errorf("%w: %s/%s", ErrRemoteBranchNotFound, r.remote, branch)
		}
		return &domain.SynchronizationError{Branch: branch, Err: err}
	}

	local := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), remoteRef.Hash())
	if err := r.repo.Storer.SetReference(local); err != nil {
		return &domain.SynchronizationError{Branch: branch, Err: fmt.Errorf("update local branch: %w", err)}
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: local.Name(), Force: true}); err != nil {
		return &domain.SynchronizationError{Branch: branch, Err: fmt.Errorf("switch to branch: %w", err)}
	}

	return nil
}

// ListCommits возвращает историю ветки от новых коммитов к старым.
//
// Порядок — порядок git log, сортировка не выполняется.
// Если локальной ветки нет, используется remote-tracking ссылка.
func (r *Repository) ListCommits(ctx context.Context, branch string) ([]domain.Commit, error) {
	if r.repo == nil {
		return nil, &domain.SynchronizationError{Branch: branch, Err: ErrClosed}
	}

	ref, err := r.branchRef(branch)
	if err != nil {
		return nil, &domain.SynchronizationError{Branch: branch, Err: err}
	}

	iter, err := r.repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, &domain.SynchronizationError{Branch: branch, Err: fmt.Errorf("read log: %w", err)}
	}
	defer iter.Close()

	commits := make([]domain.Commit, 0, r.limit)
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		commits = append(commits, toCommit(c))
		if len(commits) >= r.limit {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, &domain.SynchronizationError{Branch: branch, Err: fmt.Errorf("read log: %w", err)}
	}

	return commits, nil
}

// Checkout приводит рабочее дерево точно к ревизии revision (hard reset).
//
// Текущая ветка (если HEAD не detached) переставляется на ревизию.
func (r *Repository) Checkout(ctx context.Context, revision string) (domain.Commit, error) {
	if r.repo == nil {
		return domain.Commit{}, &domain.CheckoutError{Revision: revision, Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return domain.Commit{}, &domain.CheckoutError{Revision: revision, Err: err}
	}

	commit, err := r.resolve(revision)
	if err != nil {
		return domain.Commit{}, &domain.CheckoutError{Revision: revision, Err: err}
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return domain.Commit{}, &domain.CheckoutError{Revision: revision, Err: err}
	}

	if err := wt.Reset(&git.ResetOptions{Commit: commit.Hash, Mode: git.HardReset}); err != nil {
		return domain.Commit{}, &domain.CheckoutError{Revision: revision, Err: err}
	}

	return toCommit(commit), nil
}

// Head возвращает hash текущего checkout'а.
func (r *Repository) Head() (string, error) {
	if r.repo == nil {
		return "", ErrClosed
	}

	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoHead
		}
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// Describe возвращает коммит по ревизии без изменения рабочего дерева.
func (r *Repository) Describe(revision string) (domain.Commit, error) {
	if r.repo == nil {
		return domain.Commit{}, ErrClosed
	}

	commit, err := r.resolve(revision)
	if err != nil {
		return domain.Commit{}, err
	}
	return toCommit(commit), nil
}

// KnownGood возвращает последнюю рабочую ревизию сервиса name.
//
// Если указатель ещё не записан → domain.ErrNoKnownGood.
func (r *Repository) KnownGood(name string) (string, error) {
	if r.repo == nil {
		return "", ErrClosed
	}

	ref, err := r.repo.Reference(KnownGoodRef(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", domain.ErrNoKnownGood
		}
		return "", fmt.Errorf("read known-good reference: %w", err)
	}
	return ref.Hash().String(), nil
}

// MarkKnownGood записывает revision как последнюю рабочую ревизию сервиса name.
func (r *Repository) MarkKnownGood(name, revision string) error {
	if r.repo == nil {
		return ErrClosed
	}

	commit, err := r.resolve(revision)
	if err != nil {
		return fmt.Errorf("mark known-good: %w", err)
	}

	ref := plumbing.NewHashReference(KnownGoodRef(name), commit.Hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("mark known-good: %w", err)
	}
	return nil
}

// RemoteTip возвращает hash вершины ветки на удалённом репозитории.
//
// Рабочее дерево и локальные ссылки не меняются.
func (r *Repository) RemoteTip(ctx context.Context, branch string) (string, error) {
	if r.repo == nil {
		return "", ErrClosed
	}

	remote, err := r.repo.Remote(r.remote)
	if err != nil {
		return "", fmt.Errorf("remote %s: %w", r.remote, err)
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{})
	if err != nil {
		return "", fmt.Errorf("list %s: %w", r.remote, err)
	}

	want := plumbing.NewBranchReferenceName(branch)
	for _, ref := range refs {
		if ref.Name() == want && ref.Type() == plumbing.HashReference {
			return ref.Hash().String(), nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrRemoteBranchNotFound, r.remote, branch)
}

func (r *Repository) branchRef(branch string) (*plumbing.Reference, error) {
	names := []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName(r.remote, branch),
	}
	for _, name := range names {
		ref, err := r.repo.Reference(name, true)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
}

func (r *Repository) resolve(revision string) (*object.Commit, error) {
	if strings.TrimSpace(revision) == "" {
		return nil, errors.New("empty revision")
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return nil, fmt.Errorf("resolve revision: %w", err)
	}

	commit, err := r.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return commit, nil
}

func toCommit(c *object.Commit) domain.Commit {
	return domain.Commit{
		ID:      c.Hash.String(),
		Message: strings.TrimSpace(c.Message),
		Author:  c.Author.Name,
		When:    c.Author.When,
	}
}

// KnownGoodRef возвращает имя ссылки known-good для сервиса name.
func KnownGoodRef(name string) plumbing.ReferenceName {
	return plumbing.ReferenceName(knownGoodPrefix + sanitizeRefComponent(name) + "/known-good")
}

// sanitizeRefComponent приводит имя сервиса к допустимому компоненту ссылки git.
func sanitizeRefComponent(name string) string {
	var b strings.Builder
	for _, c := range strings.TrimSpace(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
	}

	s := b.String()
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.TrimLeft(s, ".")
	s = strings.TrimSuffix(s, ".lock")
	s = strings.TrimRight(s, ".")
	if s == "" {
		return "default"
	}
	return s
}
