// Package config загружает параметры деплоя из YAML-файла.
//
// Значения из файла перекрываются флагами CLI (Overrides),
// результат превращается в domain.OptionsSpec.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/redeploy/internal/domain"
)

// DefaultSchedule — расписание watch по умолчанию (каждые 5 минут).
const DefaultSchedule = "*/5 * * * *"

// File — содержимое файла деплоя.
//
//	name: api
//	dir: /srv/api
//	branch: main
//	script: server.js
//	instances: 2
//	env:
//	  NODE_ENV: production
//	install: [npm, ci]
//	timeout: 10m
//	watch:
//	  schedule: "*/5 * * * *"
type File struct {
	Name      string            `yaml:"name"`
	Dir       string            `yaml:"dir"`
	Branch    string            `yaml:"branch,omitempty"`
	Remote    string            `yaml:"remote,omitempty"`
	Script    string            `yaml:"script,omitempty"`
	Instances int               `yaml:"instances,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Install   []string          `yaml:"install,omitempty"`

	// Timeout — таймаут всей попытки (deploy + возможный rollback).
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// LockWait — сколько ждать lock директории.
	LockWait time.Duration `yaml:"lock_wait,omitempty"`

	Watch Watch `yaml:"watch,omitempty"`
}

// Watch — параметры режима watch.
type Watch struct {
	Schedule string `yaml:"schedule,omitempty"`
}

// Load читает файл деплоя.
//
// Относительный dir разрешается относительно директории файла.
// Значения env поддерживают подстановку ${VAR} из окружения.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if f.Dir != "" && !filepath.IsAbs(f.Dir) {
		f.Dir = filepath.Join(filepath.Dir(path), f.Dir)
	}

	return f, nil
}

// Parse разбирает YAML. Неизвестные поля считаются ошибкой.
func Parse(data []byte) (*File, error) {
	var f File

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	for k, v := range f.Env {
		f.Env[k] = os.ExpandEnv(v)
	}

	return &f, nil
}

// Overrides — значения из флагов CLI. Пустые значения не перекрывают файл.
type Overrides struct {
	Name      string
	Dir       string
	Branch    string
	Remote    string
	Script    string
	Instances int
	Env       map[string]string
	Install   []string
	Timeout   time.Duration
	LockWait  time.Duration
	Schedule  string
}

// Apply накладывает overrides на файл. Env объединяется, флаги побеждают.
func (f *File) Apply(o Overrides) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}

	set(&f.Name, o.Name)
	set(&f.Dir, o.Dir)
	set(&f.Branch, o.Branch)
	set(&f.Remote, o.Remote)
	set(&f.Script, o.Script)
	set(&f.Watch.Schedule, o.Schedule)

	if o.Instances != 0 {
		f.Instances = o.Instances
	}
	if len(o.Install) > 0 {
		f.Install = append([]string(nil), o.Install...)
	}
	if o.Timeout > 0 {
		f.Timeout = o.Timeout
	}
	if o.LockWait > 0 {
		f.LockWait = o.LockWait
	}
	if len(o.Env) > 0 {
		if f.Env == nil {
			f.Env = make(map[string]string, len(o.Env))
		}
		maps.Copy(f.Env, o.Env)
	}
}

// Spec возвращает параметры для domain.NewOptions.
func (f *File) Spec() domain.OptionsSpec {
	return domain.OptionsSpec{
		Name:           f.Name,
		Dir:            f.Dir,
		Branch:         f.Branch,
		Script:         f.Script,
		Env:            maps.Clone(f.Env),
		Instances:      f.Instances,
		InstallCommand: append([]string(nil), f.Install...),
		Remote:         f.Remote,
	}
}

// Schedule возвращает расписание watch или значение по умолчанию.
func (f *File) Schedule() string {
	if f.Watch.Schedule == "" {
		return DefaultSchedule
	}
	return f.Watch.Schedule
}
