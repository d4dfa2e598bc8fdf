package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/supervisor"
	"github.com/shaiso/redeploy/internal/telemetry"
	"github.com/shaiso/redeploy/internal/vcs"
)

// StatusReport — состояние сервиса для команды status.
type StatusReport struct {
	Name      string               `json:"name"`
	Dir       string               `json:"dir"`
	Branch    string               `json:"branch"`
	Head      domain.Commit        `json:"head"`
	KnownGood string               `json:"known_good,omitempty"`
	RemoteTip string               `json:"remote_tip,omitempty"`
	Processes []domain.ProcessInfo `json:"processes"`
}

// NewStatusCmd создаёт команду status.
func NewStatusCmd(outputFn func() *Output) *cobra.Command {
	var flags serviceFlags
	var checkRemote bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployed revision and pm2 processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := flags.file()
			if err != nil {
				return err
			}
			if file.Name == "" {
				return &domain.InvalidOptionsError{Field: "name", Reason: "is required"}
			}
			if file.Dir == "" {
				return &domain.InvalidOptionsError{Field: "dir", Reason: "is required"}
			}

			logger := telemetry.SetupLogger()
			settings := SettingsFromEnv()
			pm2 := supervisor.New(supervisor.Config{
				Bin:      settings.PM2Bin,
				Executor: shell.New(shell.Config{Logger: logger}),
				Logger:   logger,
			})

			report, err := collectStatus(cmd.Context(), file.Name, file.Dir, file.Branch, file.Remote, checkRemote, pm2, logger)
			if err != nil {
				return err
			}

			out := outputFn()
			out.Status(report)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&checkRemote, "check-remote", false, "Also query the remote branch tip")
	return cmd
}

// processDescriber — часть супервизора, нужная status.
type processDescriber interface {
	Describe(ctx context.Context, name string) ([]domain.ProcessInfo, error)
}

func collectStatus(ctx context.Context, name, dir, branch, remote string, checkRemote bool, procs processDescriber, logger *slog.Logger) (*StatusReport, error) {
	if branch == "" {
		branch = domain.DefaultBranch
	}

	repo, err := vcs.Open(dir, remote)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", dir, err)
	}
	defer repo.Close()

	report := &StatusReport{Name: name, Dir: dir, Branch: branch}

	head, err := repo.Head()
	if err != nil {
		return nil, err
	}
	if report.Head, err = repo.Describe(head); err != nil {
		return nil, err
	}

	kg, err := repo.KnownGood(name)
	switch {
	case err == nil:
		report.KnownGood = kg
	case !errors.Is(err, domain.ErrNoKnownGood):
		return nil, err
	}

	if checkRemote {
		tip, err := repo.RemoteTip(ctx, branch)
		if err != nil {
			logger.Warn("cannot read remote tip", "error", err)
		}
		report.RemoteTip = tip
	}

	report.Processes, err = procs.Describe(ctx, name)
	if err != nil {
		logger.Warn("process info unavailable", "error", err)
	}

	return report, nil
}

// Status выводит StatusReport.
func (o *Output) Status(r *StatusReport) {
	if o.jsonMode {
		o.JSON(r)
		return
	}

	o.Table(
		[]string{"NAME", "BRANCH", "HEAD", "KNOWN_GOOD", "REMOTE_TIP", "MESSAGE"},
		[][]string{{
			r.Name,
			r.Branch,
			r.Head.ShortID(),
			orDash(shortID(r.KnownGood)),
			orDash(shortID(r.RemoteTip)),
			r.Head.Message,
		}},
	)

	fmt.Fprintln(o.w)
	if len(r.Processes) == 0 {
		fmt.Fprintln(o.w, "no pm2 processes")
		return
	}
	o.Processes(r.Processes)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
