package tasks

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// normalize resolves path relative to the task file. Paths starting with // are relative to the project root.
func (l *loaderCtx) normalize(path string) string {
	return l.normalizeIn(filepath.Dir(l.file), path)
}

// normalizeIn resolves path relative to base
func (l *loaderCtx) normalizeIn(base, path string) string {
	switch {
	case strings.HasPrefix(path, "//"):
		return filepath.Join(l.root, path[2:])
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	default:
		return filepath.Join(base, path)
	}
}

// patternList resolves a list of path patterns relative to base. Glob characters are kept for the runner.
func (l *loaderCtx) patternList(base string, input *starlark.List, field string) ([]string, error) {
	patterns, err := stringList(input, field)
	if err != nil {
		return nil, err
	}

	for idx, pattern := range patterns {
		patterns[idx] = l.normalizeIn(base, pattern)
	}
	return patterns, nil
}

func (l *loaderCtx) simplify(path string) string {
	rel, err := filepath.Rel(l.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}

	return "//" + filepath.ToSlash(rel)
}

func lookupEnv(key string) string {
	if runtime.GOOS == "windows" {
		key = strings.ToUpper(key)
	}
	return os.Getenv(key)
}

// taskEnv merges the process environment with the task's variables
func taskEnv(task *Task) []string {
	return mergeEnv(task.Env)
}

// mergeEnv returns the process environment with env applied on top
func mergeEnv(env map[string]string) []string {
	osEnv := os.Environ()
	result := make([]string, 0, len(osEnv)+len(env))
	for _, item := range osEnv {
		name := strings.SplitN(item, "=", 2)[0]
		if runtime.GOOS == "windows" {
			name = strings.ToUpper(name)
		}

		// skip overridden entries to avoid conflicts
		if _, present := env[name]; !present {
			result = append(result, item)
		}
	}

	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result = append(result, fmt.Sprintf("%s=%s", name, env[name]))
	}

	return result
}

func stringList(input *starlark.List, field string) ([]string, error) {
	if input == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		value, ok := item.(starlark.String)
		if !ok {
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
		result = append(result, value.GoString())
	}
	return result, nil
}

func stringMap(input *starlark.Dict, field string) (map[string]string, error) {
	result := make(map[string]string)
	if input == nil {
		return result, nil
	}

	for _, item := range input.Items() {
		key, ok := item[0].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found key type %s in %s but only strings are supported", item[0].Type(), field)
		}

		value, ok := item[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("found value of type %s for key %s in %s but only strings are supported", item[1].Type(), key.GoString(), field)
		}

		result[key.GoString()] = value.GoString()
	}
	return result, nil
}

// Find returns the path of the nearest tasks.star file in dir or any of its parents
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		path := filepath.Join(dir, "tasks.star")
		_, err := os.Stat(path)
		if err == nil {
			return path, nil
		}
		if !os.IsNotExist(err) {
			return "", eris.Wrapf(err, "failed to check %s", path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", eris.New("no tasks.star file found")
		}
		dir = parent
	}
}
