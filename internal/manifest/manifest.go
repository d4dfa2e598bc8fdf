// Package manifest читает манифест проекта (package.json) и определяет
// точку входа сервиса по умолчанию.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileName — имя файла манифеста.
const FileName = "package.json"

// Ошибки чтения манифеста.
var (
	// ErrManifestNotFound — в директории нет манифеста.
	ErrManifestNotFound = errors.New("manifest not found")

	// ErrInvalidManifest — манифест не является валидным JSON.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrNoEntryPoint — в манифесте не указана точка входа.
	ErrNoEntryPoint = errors.New("manifest has no entry point")
)

// Manifest — поля package.json, нужные для деплоя.
type Manifest struct {
	Name    string            `json:"name"`
	Version string            `json:"version"`
	Main    string            `json:"main"`
	Scripts map[string]string `json:"scripts,omitempty"`
}

// Reader читает манифест из директории проекта.
// Реализует domain.ScriptResolver.
type Reader struct{}

// NewReader создаёт новый Reader.
func NewReader() *Reader {
	return &Reader{}
}

// Read читает и парсит package.json в dir.
func (r *Reader) Read(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, path, err)
	}

	return &m, nil
}

// ResolveScript возвращает абсолютный путь к точке входа.
//
// Точка входа берётся из поля main, а без него из scripts.start вида
// "node [флаги] <файл> [аргументы]".
func (r *Reader) ResolveScript(dir string) (string, error) {
	m, err := r.Read(dir)
	if err != nil {
		return "", err
	}

	main := strings.TrimSpace(m.Main)
	if main == "" {
		main = startScript(m.Scripts["start"])
	}
	if main == "" {
		return "", fmt.Errorf("%w: %s", ErrNoEntryPoint, filepath.Join(dir, FileName))
	}

	if filepath.IsAbs(main) {
		return filepath.Clean(main), nil
	}
	return filepath.Join(dir, main), nil
}

// startScript извлекает файл из команды "node <файл>".
// Для любой другой команды возвращает "".
func startScript(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) < 2 || fields[0] != "node" {
		return ""
	}
	for _, f := range fields[1:] {
		if strings.HasPrefix(f, "-") {
			continue
		}
		return f
	}
	return ""
}
