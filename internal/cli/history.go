package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/history"
	"github.com/shaiso/redeploy/internal/telemetry"
)

// NewHistoryCmd создаёт команду history.
func NewHistoryCmd(outputFn func() *Output) *cobra.Command {
	var filter history.Filter
	var status string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded deployment attempts (requires DB_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := SettingsFromEnv()
			if settings.DBURL == "" {
				return ErrHistoryDisabled
			}

			rt, err := NewRuntime(cmd.Context(), RuntimeConfig{
				Settings: Settings{DBURL: settings.DBURL},
				Logger:   telemetry.SetupLogger(),
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.History() == nil {
				return ErrHistoryDisabled
			}

			filter.Status = domain.OutcomeStatus(status)
			outcomes, err := rt.History().List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			outputFn().History(outcomes)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Name, "name", "", "Filter by service name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by outcome (succeeded, rolled_back, failed)")
	cmd.Flags().IntVar(&filter.Limit, "limit", history.DefaultLimit, "Maximum number of results")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "Skip the first N results")

	return cmd
}

// History выводит таблицу итогов.
func (o *Output) History(outcomes []domain.Outcome) {
	rows := make([][]string, len(outcomes))
	for i, oc := range outcomes {
		rows[i] = []string{
			oc.Timestamp.Format(time.RFC3339),
			oc.Name,
			oc.Branch,
			string(oc.Status),
			orDash(shortID(oc.CommitID)),
			oc.Duration.Round(time.Millisecond).String(),
			strconv.Quote(firstNonEmpty(oc.Cause, oc.Error)),
		}
	}
	o.Print([]string{"FINISHED", "NAME", "BRANCH", "OUTCOME", "COMMIT", "DURATION", "CAUSE"}, rows, outcomes)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
