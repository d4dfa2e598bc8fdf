package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/redeploy/internal/config"
	"github.com/shaiso/redeploy/internal/domain"
	"github.com/shaiso/redeploy/internal/manifest"
)

// serviceFlags — флаги, общие для deploy, rollback, watch и status.
type serviceFlags struct {
	configPath string
	name       string
	dir        string
	branch     string
	remote     string
	script     string
	install    string
	env        []string
	instances  int
	timeout    time.Duration
	lockWait   time.Duration
	schedule   string
}

func (f *serviceFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "Deployment file (YAML)")
	fs.StringVar(&f.name, "name", "", "Process name in pm2")
	fs.StringVar(&f.dir, "dir", "", "Project working directory")
	fs.StringVar(&f.branch, "branch", "", "Branch to deploy (default master)")
	fs.StringVar(&f.remote, "remote", "", "Git remote (default origin)")
	fs.StringVar(&f.script, "script", "", "Entry point (default: main from package.json)")
	fs.StringVar(&f.install, "install", "", `Install command (default "npm install")`)
	fs.StringArrayVarP(&f.env, "env", "e", nil, "Environment overlay KEY=VALUE (repeatable)")
	fs.IntVarP(&f.instances, "instances", "i", 0, "Number of instances (default 1)")
	fs.DurationVar(&f.timeout, "timeout", 0, "Timeout for the whole attempt, e.g. 10m")
	fs.DurationVar(&f.lockWait, "lock-wait", 0, "How long to wait for a concurrent deploy to finish")
}

// parseEnv разбирает значения --env вида KEY=VALUE.
func parseEnv(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, invalidEnvFlag(v)
		}
		env[key] = value
	}
	return env, nil
}

// file собирает файл деплоя: YAML (если задан) с наложенными флагами.
func (f *serviceFlags) file() (*config.File, error) {
	file := &config.File{}
	if f.configPath != "" {
		var err error
		if file, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}

	env, err := parseEnv(f.env)
	if err != nil {
		return nil, err
	}

	file.Apply(config.Overrides{
		Name:      f.name,
		Dir:       f.dir,
		Branch:    f.branch,
		Remote:    f.remote,
		Script:    f.script,
		Instances: f.instances,
		Env:       env,
		Install:   strings.Fields(f.install),
		Timeout:   f.timeout,
		LockWait:  f.lockWait,
		Schedule:  f.schedule,
	})
	return file, nil
}

// options возвращает файл деплоя и провалидированные Options.
func (f *serviceFlags) options() (*config.File, domain.Options, error) {
	file, err := f.file()
	if err != nil {
		return nil, domain.Options{}, err
	}

	opts, err := domain.NewOptions(file.Spec(), manifest.NewReader())
	if err != nil {
		return nil, domain.Options{}, err
	}
	return file, opts, nil
}
