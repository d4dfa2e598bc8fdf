// Package supervisor управляет сервисом через процесс-супервизор pm2.
//
// Все команды pm2 выполняются через shell.Executor, поэтому запущенные
// процессы получают окружение "окружение процесса + overlay".
package supervisor
