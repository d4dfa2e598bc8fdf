// Package shell выполняет внешние команды для деплоя.
//
// Executor запускает команду в рабочей директории с окружением
// "окружение процесса + overlay" (overlay побеждает при совпадении ключей),
// захватывает stdout/stderr и возвращает *ExecutionError при ненулевом коде выхода.
//
// Через Executor выполняются установка зависимостей и команды супервизора.
package shell
