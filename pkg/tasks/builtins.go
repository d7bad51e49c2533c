package tasks

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/labelsel/internal/logging"
)

// resolve_path(*parts, base="") joins parts and resolves them like task paths. If base is set, the result is
// relative to it.
func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	ctx := getCtx(thread)
	base := ""

	for _, kv := range kwargs {
		key := string(kv[0].(starlark.String))
		if key != "base" {
			return nil, eris.Errorf("%s: unexpected keyword argument %s", fn.Name(), key)
		}

		value, ok := kv[1].(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: got %s for base, want string", fn.Name(), kv[1].Type())
		}
		base = ctx.normalize(value.GoString())
	}

	if len(args) < 1 {
		return nil, eris.Errorf("%s: expects at least one argument", fn.Name())
	}

	parts := make([]string, len(args))
	for idx, arg := range args {
		value, ok := arg.(starlark.String)
		if !ok {
			return nil, eris.Errorf("%s: only accepts strings but argument %d was a %s", fn.Name(), idx, arg.Type())
		}
		parts[idx] = value.GoString()
	}

	joined := filepath.Join(parts...)
	if strings.HasPrefix(parts[0], "//") {
		// Join collapses the root marker
		joined = "/" + joined
	}
	result := ctx.normalize(joined)

	if base != "" {
		rel, err := filepath.Rel(base, result)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: can't make %s relative to %s", fn.Name(), result, base)
		}
		result = rel
	}

	return starlark.String(result), nil
}

// prepend_path(dir) adds dir to the front of PATH for all tasks
func prependPath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dir); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	path, ok := ctx.envOverrides["PATH"]
	if !ok {
		path = lookupEnv("PATH")
	}

	ctx.envOverrides["PATH"] = ctx.normalize(dir) + string(os.PathListSeparator) + path
	return starlark.String(ctx.envOverrides["PATH"]), nil
}

// read_yaml(file, key, default=None) returns the value at the dotted key (list items are addressed by index)
func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "file", &file, "key", &key, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	file = ctx.normalize(file)

	doc, loaded := ctx.yamlCache[file]
	if !loaded {
		content, err := ioutil.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", ctx.simplify(file))
		}

		if err = yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", ctx.simplify(file))
		}
		ctx.yamlCache[file] = doc
	}

	current := doc
	for _, part := range strings.Split(key, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return defaultValue, nil
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return defaultValue, nil
			}
			current = node[idx]
		default:
			return defaultValue, nil
		}
	}

	if current == nil {
		return defaultValue, nil
	}

	return toStarlark(current)
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}

	info, err := os.Stat(getCtx(thread).normalize(path))
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &path); err != nil {
		return nil, err
	}

	info, err := os.Stat(getCtx(thread).normalize(path))
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}

// execute(command, format="text", show_error=False) runs a command next to the task file and returns its output.
// It returns False if the command fails.
func starExecute(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var command starlark.Value
	var format string
	var showError bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "command", &command, "format?", &format, "show_error?", &showError)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, eris.Errorf("%s: unsupported format %s", fn.Name(), format)
	}

	ctx := getCtx(thread)
	parser := syntax.NewParser()
	var stmts []*syntax.Stmt

	if script, ok := command.(starlark.String); ok {
		stmts, err = Script{Content: script.GoString(), Origin: fn.Name()}.Stmts(parser)
		if err != nil {
			return nil, err
		}
	} else {
		argv, ok := argvTuple(command)
		if !ok {
			return nil, eris.Errorf("%s: unexpected command type %s. Only strings, tuples and lists are valid", fn.Name(), command.Type())
		}

		call, err := argvToCall(argv, parser)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: failed to process command", fn.Name())
		}
		stmts = []*syntax.Stmt{{Cmd: call}}
	}

	var output strings.Builder
	var errOut io.Writer = ioutil.Discard
	if showError {
		errOut = os.Stderr
	}

	runner, err := interp.New(
		interp.Dir(filepath.Dir(ctx.file)),
		interp.Env(expand.ListEnviron(mergeEnv(ctx.envOverrides)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, &output, errOut),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	for _, stmt := range stmts {
		if err := runner.Run(ctx.ctx, stmt); err != nil {
			if showError {
				logging.Log(ctx.ctx).Error().Err(err).Msg("shell error")
			}
			return starlark.False, nil
		}

		if runner.Exited() {
			break
		}
	}

	if format == "json" {
		var decoded interface{}
		if err := json.Unmarshal([]byte(output.String()), &decoded); err != nil {
			return nil, eris.Wrap(err, "failed to parse command output")
		}

		return toStarlark(decoded)
	}

	return starlark.String(output.String()), nil
}

// toStarlark converts decoded JSON or YAML values
func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[idx] = converted
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(value))
		for _, key := range keys {
			converted, err := toStarlark(value[key])
			if err != nil {
				return nil, err
			}
			if err = dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	return nil, eris.Errorf("can't convert value of type %T", value)
}
