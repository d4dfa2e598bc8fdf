package shell

import (
	"maps"
	"os"
	"slices"
	"strings"
)

// MergeEnv накладывает overlay поверх base. При совпадении ключей побеждает overlay.
func MergeEnv(base []string, overlay map[string]string) map[string]string {
	env := make(map[string]string, len(base)+len(overlay))
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	maps.Copy(env, overlay)
	return env
}

// Environ возвращает окружение текущего процесса с наложенным overlay.
func Environ(overlay map[string]string) map[string]string {
	return MergeEnv(os.Environ(), overlay)
}

// EnvList превращает map окружения в отсортированный список KEY=VALUE.
func EnvList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for _, key := range slices.Sorted(maps.Keys(env)) {
		list = append(list, key+"="+env[key])
	}
	return list
}
