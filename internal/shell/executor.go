package shell

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	sh "github.com/codeskyblue/go-sh"

	"github.com/shaiso/redeploy/internal/telemetry"
)

// Command — одна команда для выполнения.
type Command struct {
	// Name — исполняемый файл (ищется в PATH).
	Name string

	// Args — аргументы команды.
	Args []string

	// Dir — рабочая директория.
	Dir string

	// Env — overlay поверх окружения текущего процесса.
	Env map[string]string
}

// String возвращает команду в виде строки для логов и ошибок.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Output — захваченные потоки команды.
type Output struct {
	Stdout string
	Stderr string
}

// Executor выполняет shell-команды через go-sh.
//
// Окружение команды — окружение текущего процесса с наложенным Command.Env.
// stdout и stderr захватываются всегда, независимо от результата.
type Executor struct {
	logger  *slog.Logger
	timeout time.Duration
}

// Config — конфигурация Executor.
type Config struct {
	// Timeout — таймаут одной команды (0 — без таймаута, только ctx).
	Timeout time.Duration

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		logger:  logger,
		timeout: cfg.Timeout,
	}
}

// Execute выполняет команду и возвращает её вывод.
//
// Ненулевой код выхода → *ExecutionError. Вывод возвращается и в случае ошибки.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*Output, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	session := sh.NewSession()
	session.Env = Environ(cmd.Env)
	session.Stdout = &stdout
	session.Stderr = &stderr
	if cmd.Dir != "" {
		session.SetDir(cmd.Dir)
	}

	args := make([]any, len(cmd.Args))
	for i, arg := range cmd.Args {
		args[i] = arg
	}
	session.Command(cmd.Name, args...)

	// Логгер попытки из ctx несёт attempt_id.
	logger := telemetry.FromContextOr(ctx, e.logger)
	logger.Debug("executing command", "command", cmd.String(), "dir", cmd.Dir)

	started := time.Now()
	runErr := run(ctx, session)

	out := &Output{Stdout: stdout.String(), Stderr: stderr.String()}

	logger.Debug("command finished",
		"command", cmd.String(),
		"duration", time.Since(started),
		"stdout", truncate(out.Stdout, 2000),
		"stderr", truncate(out.Stderr, 2000),
		"error", runErr,
	)

	if runErr != nil {
		return out, &ExecutionError{
			Command:  cmd.String(),
			ExitCode: exitCode(runErr),
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			Err:      runErr,
		}
	}

	return out, nil
}

// run запускает session и ждёт завершения, убивая процесс при отмене ctx.
func run(ctx context.Context, s *sh.Session) error {
	if err := s.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Wait()
	}()

	select {
	case <-ctx.Done():
		s.Kill(os.Kill)
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// exitCode извлекает код выхода процесса, -1 если процесс не завершился сам.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
