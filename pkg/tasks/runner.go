package tasks

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/labelsel/internal/logging"
)

// RunOptions control how Run executes tasks
type RunOptions struct {
	// DryRun only logs the commands
	DryRun bool
	// Force runs the requested task even if it's up to date. Dependencies are still checked.
	Force bool
	// Stdout and Stderr receive the command output; they default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

type taskRun struct {
	list TaskList
	opts RunOptions
	// false while a task is running, true once it finished
	status map[*Task]bool
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	logging.Log(ctx).Debug().Strs("args", args).Msg("exec")
	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// Run executes the named task after its dependencies. Every task runs at most once per call.
func Run(ctx context.Context, name string, list TaskList, opts RunOptions) error {
	task, found := list[name]
	if !found {
		return eris.Errorf("task %s not found", name)
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	run := &taskRun{
		list:   list,
		opts:   opts,
		status: make(map[*Task]bool),
	}
	return run.run(ctx, task, opts.Force)
}

func (r *taskRun) run(ctx context.Context, task *Task, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if done, ok := r.status[task]; ok {
		if done {
			logging.Log(ctx).Debug().Str("task", task.Name).Msg("already run")
			return nil
		}

		return eris.Errorf("task %s was called recursively", task.Name)
	}
	r.status[task] = false

	for _, dep := range task.Deps {
		depTask, ok := r.list[dep]
		if !ok {
			return eris.Errorf("task %s depends on unknown task %s", task.Name, dep)
		}

		if err := r.run(ctx, depTask, false); err != nil {
			return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Name, dep)
		}
	}

	if !force {
		upToDate, err := skipTask(ctx, task)
		if err != nil {
			return eris.Wrapf(err, "task %s", task.Name)
		}

		if upToDate {
			r.status[task] = true
			return nil
		}
	}

	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(expand.ListEnviron(taskEnv(task)...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, r.opts.Stdout, r.opts.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrapf(err, "failed to initialize runner for task %s", task.Name)
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))
	buffer := strings.Builder{}

	for _, cmd := range task.Cmds {
		if ref := cmd.Task(); ref != nil {
			if err := r.run(ctx, ref, false); err != nil {
				return err
			}
			continue
		}

		stmts, err := cmd.Stmts(parser)
		if err != nil {
			return eris.Wrapf(err, "task %s", task.Name)
		}

		for _, stmt := range stmts {
			buffer.Reset()
			if err := printer.Print(&buffer, stmt); err != nil {
				return eris.Wrap(err, "failed to print command")
			}

			logging.Log(ctx).Info().
				Str("task", task.Name).
				Bool("command", true).
				Msg(buffer.String())

			if r.opts.DryRun {
				continue
			}

			if err := runner.Run(ctx, stmt); err != nil {
				return eris.Wrapf(err, "task %s failed", task.Name)
			}

			if runner.Exited() {
				r.status[task] = true
				return nil
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	r.status[task] = true
	return nil
}

// skipTask reports whether all of the task's skip files exist or all of its outputs are newer than its inputs
func skipTask(ctx context.Context, task *Task) (bool, error) {
	if len(task.SkipIfExists) > 0 {
		skipList, err := resolvePatterns(task.SkipIfExists)
		if err != nil {
			return false, err
		}

		found := 0
		for _, item := range skipList {
			_, err := os.Stat(item)
			if err == nil {
				found++
			} else if !os.IsNotExist(err) {
				return false, eris.Wrapf(err, "failed to check %s", item)
			}
		}

		if found > 0 && found == len(skipList) {
			logging.Log(ctx).Info().Str("task", task.Name).Msg("skipped because all skip files exist")
			return true, nil
		}
	}

	if len(task.Inputs) == 0 || len(task.Outputs) == 0 {
		return false, nil
	}

	inputList, err := resolvePatterns(task.Inputs)
	if err != nil {
		return false, err
	}

	var newestInput time.Time
	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	outputList, err := resolvePatterns(task.Outputs)
	if err != nil {
		return false, err
	}
	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var oldestOutput time.Time
	for _, item := range outputList {
		info, err := os.Stat(item)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		if oldestOutput.IsZero() || info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}

	if oldestOutput.After(newestInput) {
		logging.Log(ctx).Info().
			Str("task", task.Name).
			Msgf("nothing to do (output is %.1f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	return ioutil.ReadDir(path)
}

// resolvePatterns expands glob patterns. Patterns which don't match anything are dropped, plain paths are kept
// whether they exist or not.
func resolvePatterns(patterns []string) ([]string, error) {
	result := make([]string, 0, len(patterns))
	cfg := &expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}
	parser := syntax.NewParser()

	for _, item := range patterns {
		item = filepath.ToSlash(item)

		words := make([]*syntax.Word, 0, 1)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			if strings.ContainsAny(match, "*?[") {
				continue
			}
			result = append(result, filepath.FromSlash(match))
		}
	}

	return result, nil
}
