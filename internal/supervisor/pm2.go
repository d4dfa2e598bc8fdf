package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/shell"
	"github.com/shaiso/redeploy/internal/telemetry"
)

// DefaultBin — исполняемый файл pm2 по умолчанию.
const DefaultBin = "pm2"

// Executor выполняет команды супервизора.
type Executor interface {
	Execute(ctx context.Context, cmd shell.Command) (*shell.Output, error)
}

// StartRequest — параметры запуска сервиса.
type StartRequest struct {
	Name      string
	Script    string
	Instances int

	// Dir — рабочая директория процесса.
	Dir string

	// Env — overlay поверх окружения; pm2 передаёт его воркерам через --update-env.
	Env map[string]string
}

// PM2 управляет процессами через CLI pm2.
type PM2 struct {
	bin      string
	executor Executor
	logger   *slog.Logger
}

// Config — конфигурация PM2.
type Config struct {
	// Bin — путь к pm2 (по умолчанию "pm2").
	Bin string

	// Executor — исполнитель команд (обязательный).
	Executor Executor

	// Logger
	Logger *slog.Logger
}

// New создаёт клиент pm2.
func New(cfg Config) *PM2 {
	bin := cfg.Bin
	if bin == "" {
		bin = DefaultBin
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PM2{
		bin:      bin,
		executor: cfg.Executor,
		logger:   logger,
	}
}

// Stop останавливает процесс name.
//
// Идемпотентен: отсутствие процесса в pm2 считается успехом.
func (p *PM2) Stop(ctx context.Context, name string) error {
	out, err := p.executor.Execute(ctx, shell.Command{
		Name: p.bin,
		Args: []string{"stop", name},
	})
	if err == nil {
		return nil
	}

	if errors.Is(classify(out, err), ErrProcessNotFound) {
		telemetry.FromContextOr(ctx, p.logger).Info("process not registered, nothing to stop", "name", name)
		return nil
	}

	return fmt.Errorf("stop %s: %w", name, err)
}

// Start запускает script под именем name с заданным числом экземпляров.
func (p *PM2) Start(ctx context.Context, req StartRequest) error {
	instances := req.Instances
	if instances <= 0 {
		instances = domain.DefaultInstances
	}

	_, err := p.executor.Execute(ctx, shell.Command{
		Name: p.bin,
		Args: []string{
			"start", req.Script,
			"--name", req.Name,
			"-i", strconv.Itoa(instances),
			"--update-env",
		},
		Dir: req.Dir,
		Env: req.Env,
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", req.Name, err)
	}
	return nil
}

// Describe возвращает экземпляры процесса name по данным pm2 jlist.
func (p *PM2) Describe(ctx context.Context, name string) ([]domain.ProcessInfo, error) {
	out, err := p.executor.Execute(ctx, shell.Command{
		Name: p.bin,
		Args: []string{"jlist"},
	})
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}

	all, err := ParseJList(out.Stdout)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}

	var procs []domain.ProcessInfo
	for _, proc := range all {
		if proc.Name == name {
			procs = append(procs, proc)
		}
	}
	return procs, nil
}

// jlistEntry — элемент вывода pm2 jlist.
type jlistEntry struct {
	Name   string `json:"name"`
	PMID   int    `json:"pm_id"`
	PID    int    `json:"pid"`
	PM2Env struct {
		Status string `json:"status"`
	} `json:"pm2_env"`
}

// ParseJList разбирает вывод pm2 jlist.
//
// pm2 может печатать предупреждения (в том числе с "[PM2]") перед JSON:
// разбирается первый '[', с которого декодируется массив.
func ParseJList(stdout string) ([]domain.ProcessInfo, error) {
	if strings.TrimSpace(stdout) == "" {
		return nil, nil
	}

	data := []byte(stdout)
	var (
		entries []jlistEntry
		decoded bool
		lastErr error = errors.New("no JSON array in output")
	)
	for offset := 0; offset < len(data); {
		i := bytes.IndexByte(data[offset:], '[')
		if i < 0 {
			break
		}
		start := offset + i

		entries = nil
		if err := json.NewDecoder(bytes.NewReader(data[start:])).Decode(&entries); err != nil {
			lastErr = err
			offset = start + 1
			continue
		}
		decoded = true
		break
	}
	if !decoded {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, lastErr)
	}

	procs := make([]domain.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		procs = append(procs, domain.ProcessInfo{
			Name:   e.Name,
			ID:     e.PMID,
			PID:    e.PID,
			Status: e.PM2Env.Status,
		})
	}
	return procs, nil
}

// classify распознаёт "процесс не найден" в выводе pm2.
// Учитывается только вывод pm2, текст ошибки запуска не смотрится.
func classify(out *shell.Output, err error) error {
	if out == nil {
		return err
	}
	text := strings.ToLower(out.Stdout + "\n" + out.Stderr)

	if strings.Contains(text, "not found") || strings.Contains(text, "process or namespace") {
		return fmt.Errorf("%w: %v", ErrProcessNotFound, err)
	}
	return err
}
