package tasks

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// Command is a single step of a task. It's either a shell script or a reference to another task.
type Command interface {
	Task() *Task
	Stmts(parser *syntax.Parser) ([]*syntax.Stmt, error)
}

// Script is a shell snippet
type Script struct {
	Content string
	Origin  string
}

// Task returns nil since scripts don't refer to tasks
func (Script) Task() *Task {
	return nil
}

// Stmts parses the script
func (s Script) Stmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	result, err := parser.Parse(strings.NewReader(s.Content), s.Origin)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// TaskRef runs another task inline
type TaskRef struct {
	Ref *Task
}

// Task returns the referenced task
func (r TaskRef) Task() *Task {
	return r.Ref
}

// Stmts returns nil since the commands belong to the referenced task
func (TaskRef) Stmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

// Task contains the processed values passed to task() by the task file
type Task struct {
	Name string
	Desc string
	Base string
	Env  map[string]string
	Deps []string
	Cmds []Command
	// SkipIfExists, Inputs and Outputs are absolute path patterns (globs, ** included)
	SkipIfExists []string
	Inputs       []string
	Outputs      []string
	Hidden       bool
}

// TaskList maps task names to each task
type TaskList map[string]*Task

// Option is a value declared with option() which can be overridden from the command line
type Option struct {
	Default string
	Help    string
}

// Implement starlark.Value for *Task so tasks can be passed around in the task file

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Name, t.Desc)
}

// Type always returns "task"
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks are immutable anyway
func (t *Task) Freeze() {}

// Truth always returns true since a task can't be None
func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since tasks aren't hashable
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}
