package history

import "errors"

// ErrNotFound — запись не найдена в БД.
var ErrNotFound = errors.New("not found")
