package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/mq"
	"github.com/shaiso/redeploy/internal/telemetry"
)

// NewEventsCmd создаёт команду events: поток итогов деплоев из RabbitMQ.
func NewEventsCmd(outputFn func() *Output) *cobra.Command {
	var durable bool
	var name string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream deployment outcomes from RabbitMQ",
		Long: `Subscribe to the redeploy.events exchange and print every deployment
outcome. By default a temporary queue is used; with --durable the shared
redeploy.outcomes queue is consumed and messages are acknowledged.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(cmd.Context(), SettingsFromEnv(), durable, name, outputFn())
		},
	}

	cmd.Flags().BoolVar(&durable, "durable", false, "Consume the shared durable queue")
	cmd.Flags().StringVar(&name, "name", "", "Show only outcomes of this service")
	return cmd
}

func runEvents(ctx context.Context, settings Settings, durable bool, name string, out *Output) error {
	if settings.RabbitMQURL == "" {
		return ErrEventsDisabled
	}

	logger := telemetry.SetupLogger()

	conn, err := mq.NewConnection(mq.ConnectionConfig{
		URL:       settings.RabbitMQURL,
		Reconnect: true,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := mq.SetupTopology(ctx, conn); err != nil {
		return err
	}

	queue := mq.QueueOutcomes
	if !durable {
		if queue, err = mq.DeclareTailQueue(ctx, conn); err != nil {
			return err
		}
	}

	consumer := mq.NewConsumer(conn, mq.ConsumerConfig{
		Queue:   queue,
		Handler: outcomePrinter(out, name),
		Logger:  logger,
	})

	logger.Info("consuming outcomes", "queue", queue)

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// outcomePrinter возвращает обработчик, печатающий итоги (опционально одного сервиса).
func outcomePrinter(out *Output, name string) mq.Handler {
	return func(_ context.Context, msg *mq.Message) error {
		outcome, err := mq.ParseOutcome(msg)
		if err != nil {
			// Битый payload не переотправляется: иначе он вернётся в очередь навсегда.
			out.Warn(fmt.Sprintf("skipping message %s: %v", msg.ID, err))
			return nil
		}
		if name != "" && outcome.Name != name {
			return nil
		}
		out.Event(outcome)
		return nil
	}
}
