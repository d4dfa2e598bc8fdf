package vcs

import "errors"

// Ошибки репозитория.
var (
	// ErrNoHead — в репозитории нет ни одного коммита (HEAD не разрешается).
	ErrNoHead = errors.New("repository has no HEAD")

	// ErrBranchNotFound — ветка не найдена ни локально, ни в remote-tracking ссылках.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrRemoteBranchNotFound — ветки нет на удалённом репозитории.
	ErrRemoteBranchNotFound = errors.New("branch not found on remote")

	// ErrClosed — репозиторий уже закрыт.
	ErrClosed = errors.New("repository closed")
)
