package tasks

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/labelsel/internal/logging"
)

type loaderCtx struct {
	ctx          context.Context
	file         string
	root         string
	options      map[string]Option
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	tasks        TaskList
	created      []*Task
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *loaderCtx {
	return thread.Local("loaderCtx").(*loaderCtx)
}

// Load executes a task file and collects the tasks declared by its configure() function.
// optionValues override the defaults of option() calls.
func Load(ctx context.Context, file string, optionValues map[string]string) (TaskList, map[string]Option, error) {
	file, err := filepath.Abs(file)
	if err != nil {
		return nil, nil, err
	}

	if optionValues == nil {
		optionValues = map[string]string{}
	}

	lctx := &loaderCtx{
		ctx:          ctx,
		file:         file,
		root:         filepath.Dir(file),
		options:      make(map[string]Option),
		optionValues: optionValues,
		envOverrides: make(map[string]string),
		yamlCache:    make(map[string]interface{}),
		tasks:        make(TaskList),
		initPhase:    true,
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPath),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExecute),
		"option":       starlark.NewBuiltin("option", option),
		"task":         starlark.NewBuiltin("task", task),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			logging.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	thread.SetLocal("loaderCtx", lctx)

	script, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read %s", file)
	}

	name := lctx.simplify(file)
	globals, err := starlark.ExecFile(thread, name, script, builtins)
	if err != nil {
		return nil, nil, evalError(err, "failed to execute %s", name)
	}

	for key := range optionValues {
		if _, ok := lctx.options[key]; !ok {
			logging.Log(ctx).Warn().Msgf("%s doesn't declare the option %s", name, key)
		}
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, nil, eris.Errorf("%s did not declare a configure function", name)
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, nil, eris.Errorf("%s did declare a configure value but it's not a function", name)
	}

	lctx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, nil, nil)
	if err != nil {
		return nil, nil, evalError(err, "failed configure call in %s", name)
	}

	for _, task := range lctx.created {
		for key, value := range lctx.envOverrides {
			if _, present := task.Env[key]; !present {
				task.Env[key] = value
			}
		}
	}

	return lctx.tasks, lctx.options, nil
}

func evalError(err error, msg string, args ...interface{}) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("%s:\n%s", fmt.Sprintf(msg, args...), evalErr.Backtrace())
	}
	return eris.Wrapf(err, msg, args...)
}

func (l *loaderCtx) logf(thread *starlark.Thread, warning bool, msg string) {
	pos := thread.CallFrame(1).Pos
	evt := logging.Log(l.ctx).Info()
	if warning {
		evt = logging.Log(l.ctx).Warn()
	}

	evt.Msgf("%s:%d:%d: %s", l.simplify(l.file), pos.Line, pos.Col, msg)
}

// * Builtin functions

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	getCtx(thread).logf(thread, false, message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	getCtx(thread).logf(thread, true, message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}

	value, ok := getCtx(thread).envOverrides[key]
	if !ok {
		value = lookupEnv(key)
	}

	return starlark.String(value), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.True, nil
}

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, defaultValue, help string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("option() can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = Option{
		Default: defaultValue,
		Help:    help,
	}

	if value, ok := ctx.optionValues[name]; ok {
		return starlark.String(value), nil
	}

	return starlark.String(defaultValue), nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, cmds, skipIfExists, inputs, outputs *starlark.List
	var env *starlark.Dict

	t := &Task{}
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name?", &t.Name, "desc?", &t.Desc, "deps?", &deps,
		"env?", &env, "cmds?", &cmds, "base?", &t.Base, "hidden?", &t.Hidden, "skip_if_exists?", &skipIfExists,
		"inputs?", &inputs, "outputs?", &outputs)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.New("task() can only be called from configure()")
	}

	if t.Name == "" {
		t.Hidden = true
		t.Name = "auto#" + nanoid.New()
	}

	if t.Name == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	if _, exists := ctx.tasks[t.Name]; exists {
		return nil, eris.Errorf("the task %s was already declared", t.Name)
	}

	if t.Base == "" {
		t.Base = "."
	}
	t.Base = ctx.normalize(t.Base)

	t.Deps, err = stringList(deps, "deps")
	if err != nil {
		return nil, err
	}

	t.Env, err = stringMap(env, "env")
	if err != nil {
		return nil, err
	}

	t.Cmds, err = commandList(t, cmds)
	if err != nil {
		return nil, err
	}

	if t.SkipIfExists, err = ctx.patternList(t.Base, skipIfExists, "skip_if_exists"); err != nil {
		return nil, err
	}
	if t.Inputs, err = ctx.patternList(t.Base, inputs, "inputs"); err != nil {
		return nil, err
	}
	if t.Outputs, err = ctx.patternList(t.Base, outputs, "outputs"); err != nil {
		return nil, err
	}

	if len(t.Inputs) > 0 && len(t.Outputs) == 0 {
		ctx.logf(thread, true, fmt.Sprintf("task %s has inputs but no outputs so it will always run", t.Name))
	}

	ctx.created = append(ctx.created, t)
	if !t.Hidden {
		ctx.tasks[t.Name] = t
	}
	return t, nil
}

func commandList(t *Task, cmds *starlark.List) ([]Command, error) {
	result := make([]Command, 0)
	if cmds == nil {
		return result, nil
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	buffer := strings.Builder{}

	iter := cmds.Iterate()
	defer iter.Done()

	var item starlark.Value
	for idx := 0; iter.Next(&item); idx++ {
		origin := fmt.Sprintf("%s:%d", t.Name, idx)

		switch value := item.(type) {
		case starlark.String:
			result = append(result, Script{Content: value.GoString(), Origin: origin})
			continue
		case *Task:
			result = append(result, TaskRef{Ref: value})
			continue
		}

		argv, ok := argvTuple(item)
		if !ok {
			return nil, eris.Errorf("task %s: unexpected command type %s. Only strings, tuples, lists and tasks are valid", t.Name, item.Type())
		}

		call, err := argvToCall(argv, parser)
		if err != nil {
			return nil, eris.Wrapf(err, "task %s: failed to process command #%d", t.Name, idx)
		}

		buffer.Reset()
		if err = printer.Print(&buffer, call); err != nil {
			return nil, eris.Wrapf(err, "task %s: failed to process command #%d", t.Name, idx)
		}

		result = append(result, Script{Content: buffer.String(), Origin: origin})
	}

	return result, nil
}

// argvTuple accepts tuples and lists as argument vectors
func argvTuple(value starlark.Value) (starlark.Tuple, bool) {
	switch value := value.(type) {
	case starlark.Tuple:
		return value, true
	case *starlark.List:
		argv := make(starlark.Tuple, value.Len())
		for i := range argv {
			argv[i] = value.Index(i)
		}
		return argv, true
	}

	return nil, false
}

// argvToCall turns an argument vector into a shell call. Leading NAME=value items become assignments.
func argvToCall(argv starlark.Tuple, parser *syntax.Parser) (*syntax.CallExpr, error) {
	args := make([]string, len(argv))
	for idx, part := range argv {
		value, ok := part.(starlark.String)
		if !ok {
			return nil, eris.Errorf("found argument of type %s but only strings are supported: %s", part.Type(), part.String())
		}
		args[idx] = value.GoString()
	}

	assigns := 0
	for assigns < len(args) && strings.Contains(args[assigns], "=") {
		assigns++
	}
	if assigns == len(args) {
		return nil, eris.New("command has no arguments besides variable assignments")
	}

	call := new(syntax.CallExpr)
	if assigns > 0 {
		joined := strings.Join(args[:assigns], " ")
		result, err := parser.Parse(strings.NewReader(joined), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joined)
		}

		if len(result.Stmts) != 1 {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}

		parsed, ok := result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || len(parsed.Assigns) != assigns || len(parsed.Args) > 0 {
			return nil, eris.Errorf("malformed env vars %s", joined)
		}
		call.Assigns = parsed.Assigns
	}

	for _, arg := range args[assigns:] {
		var part syntax.WordPart
		if arg == "" || strings.ContainsAny(arg, " \t\n$'\"\\*?[]{}()<>|&;#~`") {
			part = &syntax.SglQuoted{Value: strings.ReplaceAll(arg, "'", `'"'"'`)}
		} else {
			part = &syntax.Lit{Value: arg}
		}

		call.Args = append(call.Args, &syntax.Word{Parts: []syntax.WordPart{part}})
	}

	return call, nil
}
