// Redeploy — деплой Node.js-сервиса из git под pm2 с автоматическим откатом.
//
// Использование:
//
//	redeploy [--json] <command> [flags]
//
// Команды:
//
//	deploy    Деплой самого нового коммита ветки
//	rollback  Возврат на последнюю рабочую ревизию
//	watch     Деплой по расписанию при изменении ветки
//	status    Текущая ревизия и процессы pm2
//	events    Поток итогов деплоев из RabbitMQ
//	history   История попыток из PostgreSQL
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "redeploy",
		Short:         "Redeploy — git-based deploys for pm2 services with automatic rollback",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDeployCmd(outputFn),
		cli.NewRollbackCmd(outputFn),
		cli.NewWatchCmd(outputFn),
		cli.NewStatusCmd(outputFn),
		cli.NewEventsCmd(outputFn),
		cli.NewHistoryCmd(outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	cancel()
	os.Exit(cli.ExitCode(err))
}
