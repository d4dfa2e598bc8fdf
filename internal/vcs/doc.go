// Package vcs — источник ревизий поверх git-репозитория (go-git).
//
// Repository открывается один раз на последовательность оркестратора
// и закрывается в её конце. Все операции работают с рабочим деревом
// в директории проекта:
//
//   - Synchronize: сброс локальных изменений, fetch, переключение на ветку.
//   - ListCommits: история ветки от новых к старым (порядок git log).
//   - Checkout: hard reset рабочего дерева на ревизию.
//   - KnownGood / MarkKnownGood: указатель на последнюю рабочую ревизию,
//     хранится ссылкой refs/redeploy/<name>/known-good в самом репозитории.
package vcs
