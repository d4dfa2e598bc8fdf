package domain

import (
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Значения по умолчанию для Options.
const (
	DefaultBranch    = "master"
	DefaultRemote    = "origin"
	DefaultInstances = 1
)

// DefaultInstallCommand — команда установки зависимостей по умолчанию.
var DefaultInstallCommand = []string{"npm", "install"}

// ScriptResolver определяет точку входа проекта, если script не задан явно.
//
// Реализация по умолчанию — manifest.Reader (поле main в package.json).
type ScriptResolver interface {
	ResolveScript(dir string) (string, error)
}

// OptionsSpec — "сырые" параметры деплоя до валидации.
//
// Заполняется из YAML-файла и флагов CLI, затем превращается
// в неизменяемый Options через NewOptions.
type OptionsSpec struct {
	Name           string
	Dir            string
	Branch         string
	Script         string
	Env            map[string]string
	Instances      int
	InstallCommand []string
	Remote         string
}

// Options — провалидированные параметры одной попытки деплоя.
//
// После создания не меняется: все accessor'ы возвращают копии.
type Options struct {
	name           string
	dir            string
	branch         string
	script         string
	env            map[string]string
	instances      int
	installCommand []string
	remote         string
}

// NewOptions валидирует spec и возвращает Options.
//
// Проверки выполняются до любых внешних вызовов:
//   - пустой name → InvalidOptionsError{Field: "name"}
//   - пустой или несуществующий dir → InvalidOptionsError{Field: "dir"}
//   - отрицательный instances → InvalidOptionsError{Field: "instances"}
//   - script не задан и resolver не смог его определить → InvalidOptionsError{Field: "script"}
func NewOptions(spec OptionsSpec, resolver ScriptResolver) (Options, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return Options{}, &InvalidOptionsError{Field: "name", Reason: "is required"}
	}

	if strings.TrimSpace(spec.Dir) == "" {
		return Options{}, &InvalidOptionsError{Field: "dir", Reason: "is required"}
	}
	dir, err := filepath.Abs(spec.Dir)
	if err != nil {
		return Options{}, &InvalidOptionsError{Field: "dir", Reason: "cannot be made absolute", Err: err}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return Options{}, &InvalidOptionsError{Field: "dir", Reason: "does not exist", Err: err}
	}
	if !info.IsDir() {
		return Options{}, &InvalidOptionsError{Field: "dir", Reason: "is not a directory"}
	}

	instances := spec.Instances
	if instances < 0 {
		return Options{}, &InvalidOptionsError{Field: "instances", Reason: "must be positive"}
	}
	if instances == 0 {
		instances = DefaultInstances
	}

	branch := strings.TrimSpace(spec.Branch)
	if branch == "" {
		branch = DefaultBranch
	}

	remote := strings.TrimSpace(spec.Remote)
	if remote == "" {
		remote = DefaultRemote
	}

	install := slices.Clone(spec.InstallCommand)
	if len(install) == 0 {
		install = slices.Clone(DefaultInstallCommand)
	}

	script := strings.TrimSpace(spec.Script)
	if script == "" {
		if resolver == nil {
			return Options{}, &InvalidOptionsError{Field: "script", Reason: "not set and no manifest reader configured"}
		}
		script, err = resolver.ResolveScript(dir)
		if err != nil {
			return Options{}, &InvalidOptionsError{Field: "script", Reason: "cannot be resolved from manifest", Err: err}
		}
	}

	env := make(map[string]string, len(spec.Env))
	maps.Copy(env, spec.Env)

	return Options{
		name:           name,
		dir:            filepath.Clean(dir),
		branch:         branch,
		script:         script,
		env:            env,
		instances:      instances,
		installCommand: install,
		remote:         remote,
	}, nil
}

// Name возвращает имя процесса в супервизоре.
func (o Options) Name() string { return o.name }

// Dir возвращает абсолютный путь к рабочей директории проекта.
func (o Options) Dir() string { return o.dir }

// Branch возвращает ветку, с которой синхронизируемся.
func (o Options) Branch() string { return o.branch }

// Script возвращает точку входа сервиса.
func (o Options) Script() string { return o.script }

// Instances возвращает количество экземпляров.
func (o Options) Instances() int { return o.instances }

// Remote возвращает имя remote для fetch.
func (o Options) Remote() string { return o.remote }

// Env возвращает копию overlay-окружения.
func (o Options) Env() map[string]string {
	env := make(map[string]string, len(o.env))
	maps.Copy(env, o.env)
	return env
}

// InstallCommand возвращает копию команды установки зависимостей.
func (o Options) InstallCommand() []string {
	return slices.Clone(o.installCommand)
}

// Spec возвращает OptionsSpec, из которого можно заново собрать эти Options.
func (o Options) Spec() OptionsSpec {
	return OptionsSpec{
		Name:           o.name,
		Dir:            o.dir,
		Branch:         o.branch,
		Script:         o.script,
		Env:            o.Env(),
		Instances:      o.instances,
		InstallCommand: o.InstallCommand(),
		Remote:         o.remote,
	}
}
