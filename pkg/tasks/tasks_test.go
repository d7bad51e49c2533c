package tasks_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngld/labelsel/internal/logging"
	"github.com/ngld/labelsel/pkg/tasks"
)

func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	return logging.WithLogger(context.Background(), &logger), &logs
}

func writeTaskFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tasks.star")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func load(t *testing.T, content string, options map[string]string) tasks.TaskList {
	t.Helper()

	ctx, _ := testContext(t)
	list, _, err := tasks.Load(ctx, writeTaskFile(t, content), options)
	require.NoError(t, err)
	return list
}

func run(t *testing.T, list tasks.TaskList, name string) (string, error) {
	t.Helper()
	return runWith(t, list, name, tasks.RunOptions{})
}

func runWith(t *testing.T, list tasks.TaskList, name string, opts tasks.RunOptions) (string, error) {
	t.Helper()

	ctx, _ := testContext(t)
	var out bytes.Buffer
	opts.Stdout = &out
	opts.Stderr = &out
	err := tasks.Run(ctx, name, list, opts)
	return out.String(), err
}

func scripts(name string, contents ...string) []tasks.Command {
	result := make([]tasks.Command, len(contents))
	for idx, content := range contents {
		result[idx] = tasks.Script{Content: content, Origin: fmt.Sprintf("%s:%d", name, idx)}
	}
	return result
}

func TestLoadTasks(t *testing.T) {
	path := writeTaskFile(t, `
flavor = option("flavor", "plain", help = "which flavor to build")

def configure():
    task("build", desc = "Build it", cmds = ["echo " + flavor])
    task("test", desc = "Test it", deps = ["build"], env = {"MODE": "test"}, cmds = [("echo", "hello world")])
    task(cmds = ["echo hidden"])
`)

	ctx, _ := testContext(t)
	list, options, err := tasks.Load(ctx, path, map[string]string{"flavor": "spicy"})
	require.NoError(t, err)

	assert.Equal(t, map[string]tasks.Option{"flavor": {Default: "plain", Help: "which flavor to build"}}, options)
	require.Len(t, list, 2)

	build := list["build"]
	require.NotNil(t, build)
	assert.Equal(t, "Build it", build.Desc)
	assert.Equal(t, filepath.Dir(path), build.Base)
	assert.Equal(t, []tasks.Command{tasks.Script{Content: "echo spicy", Origin: "build:0"}}, build.Cmds)

	test := list["test"]
	require.NotNil(t, test)
	assert.Equal(t, []string{"build"}, test.Deps)
	assert.Equal(t, map[string]string{"MODE": "test"}, test.Env)
	assert.Equal(t, []tasks.Command{tasks.Script{Content: "echo 'hello world'", Origin: "test:0"}}, test.Cmds)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"missing configure":      `x = 1`,
		"configure not callable": `configure = 1`,
		"syntax error":           `def configure(`,
		"reserved name": `
def configure():
    task("configure")
`,
		"duplicate task": `
def configure():
    task("a")
    task("a")
`,
		"option in configure": `
def configure():
    option("late")
`,
		"task in global scope": `
task("early")
def configure():
    pass
`,
		"error builtin": `
error("nope")
def configure():
    pass
`,
		"non string dep": `
def configure():
    task("a", deps = [1])
`,
		"non string env": `
def configure():
    task("a", env = {"A": 1})
`,
		"bad command type": `
def configure():
    task("a", cmds = [1])
`,
		"only assignments": `
def configure():
    task("a", cmds = [("A=1",)])
`,
		"unsupported execute format": `
execute("true", format = "xml")
def configure():
    pass
`,
		"missing yaml file": `
read_yaml("missing.yaml", "a")
def configure():
    pass
`,
		"resolve_path without arguments": `
resolve_path()
def configure():
    pass
`,
		"non string pattern": `
def configure():
    task("a", inputs = [1])
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, _ := testContext(t)
			_, _, err := tasks.Load(ctx, writeTaskFile(t, content), nil)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	ctx, _ := testContext(t)
	_, _, err := tasks.Load(ctx, filepath.Join(t.TempDir(), "tasks.star"), nil)
	assert.Error(t, err)
}

func TestLoadLogsInfoAndPrint(t *testing.T) {
	ctx, logs := testContext(t)
	_, _, err := tasks.Load(ctx, writeTaskFile(t, `
info("hello from info")
warn("careful")
print("printed")

def configure():
    pass
`), map[string]string{"unknown": "1"})
	require.NoError(t, err)

	assert.Contains(t, logs.String(), "//tasks.star:2:")
	assert.Contains(t, logs.String(), "hello from info")
	assert.Contains(t, logs.String(), "careful")
	assert.Contains(t, logs.String(), "printed")
	assert.Contains(t, logs.String(), "doesn't declare the option unknown")
}

func TestArgvQuoting(t *testing.T) {
	list := load(t, `
def configure():
    task("a", cmds = [
        ["CGO_ENABLED=0", "GOOS=linux", "go", "build", "-tags", "nokube", "./..."],
        ("echo", "it's", "$HOME", ""),
    ])
`, nil)

	assert.Equal(t, []tasks.Command{
		tasks.Script{Content: "CGO_ENABLED=0 GOOS=linux go build -tags nokube ./...", Origin: "a:0"},
		tasks.Script{Content: `echo 'it'"'"'s' '$HOME' ''`, Origin: "a:1"},
	}, list["a"].Cmds)
}

func TestRunOutputAndEnv(t *testing.T) {
	list := load(t, `
setenv("SHARED", "global")

def configure():
    task("greet", env = {"GREETING": "hi"}, cmds = ["echo $GREETING $SHARED"])
    task("override", env = {"SHARED": "local"}, cmds = ["echo $SHARED"])
`, nil)

	out, err := run(t, list, "greet")
	require.NoError(t, err)
	assert.Equal(t, "hi global\n", out)

	out, err = run(t, list, "override")
	require.NoError(t, err)
	assert.Equal(t, "local\n", out)
}

func TestRunDependencies(t *testing.T) {
	list := load(t, `
def configure():
    task("a", cmds = ["echo a"])
    task("b", deps = ["a"], cmds = ["echo b"])
    task("c", deps = ["a", "b"], cmds = ["echo c"])
`, nil)

	out, err := run(t, list, "c")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", out)
}

func TestRunTaskReferences(t *testing.T) {
	list := load(t, `
def configure():
    inner = task(cmds = ["echo inner"])
    task("outer", cmds = ["echo before", inner, "echo after"])
`, nil)

	out, err := run(t, list, "outer")
	require.NoError(t, err)
	assert.Equal(t, "before\ninner\nafter\n", out)
}

func TestRunRecursion(t *testing.T) {
	list := load(t, `
def configure():
    task("a", deps = ["b"])
    task("b", deps = ["a"])
`, nil)

	_, err := run(t, list, "a")
	assert.Error(t, err)
}

func TestRunFailures(t *testing.T) {
	list := load(t, `
def configure():
    task("fail", cmds = ["echo one", "false", "echo two"])
    task("broken-dep", deps = ["missing"])
    task("quit", cmds = ["echo one; exit 0", "echo two"])
`, nil)

	out, err := run(t, list, "fail")
	assert.Error(t, err)
	assert.Equal(t, "one\n", out)

	_, err = run(t, list, "broken-dep")
	assert.Error(t, err)

	_, err = run(t, list, "unknown")
	assert.Error(t, err)

	out, err = run(t, list, "quit")
	require.NoError(t, err)
	assert.Equal(t, "one\n", out)
}

func TestRunDryRun(t *testing.T) {
	list := load(t, `
def configure():
    task("a", cmds = ["echo a", "false"])
`, nil)

	ctx, logs := testContext(t)
	var out bytes.Buffer
	err := tasks.Run(ctx, "a", list, tasks.RunOptions{DryRun: true, Stdout: &out, Stderr: &out})
	require.NoError(t, err)
	assert.Empty(t, out.String())
	assert.Contains(t, logs.String(), `"message":"echo a"`)
	assert.Contains(t, logs.String(), `"message":"false"`)
}

func TestRunCancelled(t *testing.T) {
	list := load(t, `
def configure():
    task("a", cmds = ["echo a"])
`, nil)

	ctx, _ := testContext(t)
	ctx, cancel := context.WithCancel(ctx)
	cancel()

	err := tasks.Run(ctx, "a", list, tasks.RunOptions{Stdout: &bytes.Buffer{}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks.star"), []byte("def configure():\n    pass\n"), 0o600))

	found, err := tasks.Find(nested)
	require.NoError(t, err)

	expected, err := filepath.EvalSymlinks(filepath.Join(root, "tasks.star"))
	require.NoError(t, err)
	actual, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, expected, actual)
}

func TestProjectTaskFile(t *testing.T) {
	ctx, _ := testContext(t)
	list, options, err := tasks.Load(ctx, "../../tasks.star", nil)
	require.NoError(t, err)

	root, err := filepath.Abs("../..")
	require.NoError(t, err)

	assert.Contains(t, options, "tags")
	for _, name := range []string{"clippy", "fmt", "test", "update", "build", "build-no-kube"} {
		require.Contains(t, list, name)
		assert.Equal(t, root, list[name].Base, name)
		assert.True(t, strings.HasPrefix(list[name].Env["PATH"], filepath.Join(root, "bin")+string(os.PathListSeparator)), name)
	}

	assert.Equal(t, scripts("clippy", "go vet ./..."), list["clippy"].Cmds)
	assert.Equal(t, scripts("fmt", "gofmt -l -w ."), list["fmt"].Cmds)
	assert.Equal(t, scripts("test", "go test ./..."), list["test"].Cmds)
	assert.Equal(t, scripts("update", "go get -u -t ./...", "go mod tidy"), list["update"].Cmds)
	assert.Equal(t, scripts("build", "go build ./..."), list["build"].Cmds)
	assert.Equal(t, scripts("build-no-kube", "go build -tags nokube ./..."), list["build-no-kube"].Cmds)

	assert.Equal(t, []string{"clippy"}, list["lint"].Deps)
	assert.Empty(t, list["lint"].Cmds)

	binary := list["binary"]
	require.NotNil(t, binary)
	assert.Equal(t, scripts("binary", "go build -o bin/labelsel ."), binary.Cmds)
	assert.Equal(t, []string{filepath.Join(root, "bin", "labelsel")}, binary.Outputs)
	assert.Contains(t, binary.Inputs, filepath.Join(root, "go.mod"))
}

func TestProjectTaskFileTags(t *testing.T) {
	ctx, _ := testContext(t)
	list, _, err := tasks.Load(ctx, "../../tasks.star", map[string]string{"tags": "integration"})
	require.NoError(t, err)

	assert.Equal(t, scripts("clippy", "go vet -tags integration ./..."), list["clippy"].Cmds)
	assert.Equal(t, scripts("test", "go test -tags integration ./..."), list["test"].Cmds)
	assert.Equal(t, scripts("build", "go build -tags integration ./..."), list["build"].Cmds)
	assert.Equal(t, scripts("build-no-kube", "go build -tags nokube,integration ./..."), list["build-no-kube"].Cmds)
	assert.Equal(t, scripts("binary", "go build -tags integration -o bin/labelsel ."), list["binary"].Cmds)

	// commands without go_cmd ignore the option
	assert.Equal(t, scripts("fmt", "gofmt -l -w ."), list["fmt"].Cmds)
	assert.Equal(t, scripts("update", "go get -u -t ./...", "go mod tidy"), list["update"].Cmds)
}

func TestBuiltins(t *testing.T) {
	path := writeTaskFile(t, `
version = read_yaml("data.yaml", "app.version")
tag = read_yaml("data.yaml", "app.tags.1")
port = read_yaml("data.yaml", "app.port")
missing = read_yaml("data.yaml", "app.nope", "fallback")
out_of_range = read_yaml("data.yaml", "app.tags.7")
out = execute("echo hello")
decoded = execute(("echo", '{"names": ["x", "y"]}'), format = "json")
failed = execute("exit 3")
prepend_path("tools")

def configure():
    task("report", desc = "|".join([
        version, tag, str(port), missing, str(out_of_range), out.strip(), decoded["names"][1], str(failed),
        str(isfile("data.yaml")), str(isdir("sub")), str(isfile("sub")), str(isdir("nope")),
        resolve_path("sub", "x.txt", base = "sub"),
    ]), env = {"SUB": resolve_path("sub"), "ROOTED": resolve_path("//sub", "y")})
`)
	dir := filepath.Dir(path)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.yaml"), []byte("app:\n  version: \"1.2\"\n  port: 8080\n  tags: [a, b]\n"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	ctx, _ := testContext(t)
	list, _, err := tasks.Load(ctx, path, nil)
	require.NoError(t, err)

	report := list["report"]
	require.NotNil(t, report)
	assert.Equal(t, "1.2|b|8080|fallback|None|hello|y|False|True|True|False|False|x.txt", report.Desc)
	assert.Equal(t, filepath.Join(dir, "sub"), report.Env["SUB"])
	assert.Equal(t, filepath.Join(dir, "sub", "y"), report.Env["ROOTED"])
	assert.True(t, strings.HasPrefix(report.Env["PATH"], filepath.Join(dir, "tools")+string(os.PathListSeparator)))
}

func TestLoadPatterns(t *testing.T) {
	path := writeTaskFile(t, `
def configure():
    task("a", base = "sub", inputs = ["*.go", "//go.mod"], outputs = ["out/a.bin"], skip_if_exists = ["done"])
    task("b", inputs = ["*.go"], cmds = ["true"])
`)
	dir := filepath.Dir(path)

	ctx, logs := testContext(t)
	list, _, err := tasks.Load(ctx, path, nil)
	require.NoError(t, err)

	a := list["a"]
	assert.Equal(t, filepath.Join(dir, "sub"), a.Base)
	assert.Equal(t, []string{filepath.Join(dir, "sub", "*.go"), filepath.Join(dir, "go.mod")}, a.Inputs)
	assert.Equal(t, []string{filepath.Join(dir, "sub", "out", "a.bin")}, a.Outputs)
	assert.Equal(t, []string{filepath.Join(dir, "sub", "done")}, a.SkipIfExists)

	assert.Contains(t, logs.String(), "task b has inputs but no outputs")
}

func TestRunSkipIfExists(t *testing.T) {
	path := writeTaskFile(t, `
def configure():
    task("gen", skip_if_exists = ["out/*.txt"], cmds = ["echo gen"])
`)
	dir := filepath.Dir(path)

	ctx, _ := testContext(t)
	list, _, err := tasks.Load(ctx, path, nil)
	require.NoError(t, err)

	out, err := run(t, list, "gen")
	require.NoError(t, err)
	assert.Equal(t, "gen\n", out)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "out"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "a.txt"), nil, 0o600))

	out, err = run(t, list, "gen")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = runWith(t, list, "gen", tasks.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "gen\n", out)
}

func TestRunInputsOutputs(t *testing.T) {
	path := writeTaskFile(t, `
def configure():
    task("build", inputs = ["src/*.txt"], outputs = ["out.bin"], cmds = ["echo build"])
    task("dist", deps = ["build"], cmds = ["echo dist"])
    task("broken", inputs = ["missing.txt"], outputs = ["out.bin"], cmds = ["echo broken"])
`)
	dir := filepath.Dir(path)
	input := filepath.Join(dir, "src", "a.txt")
	output := filepath.Join(dir, "out.bin")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o700))
	require.NoError(t, os.WriteFile(input, nil, 0o600))

	ctx, _ := testContext(t)
	list, _, err := tasks.Load(ctx, path, nil)
	require.NoError(t, err)

	// the output doesn't exist yet
	out, err := run(t, list, "build")
	require.NoError(t, err)
	assert.Equal(t, "build\n", out)

	now := time.Now()
	require.NoError(t, os.WriteFile(output, nil, 0o600))
	require.NoError(t, os.Chtimes(input, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))
	require.NoError(t, os.Chtimes(output, now.Add(-time.Hour), now.Add(-time.Hour)))

	out, err = run(t, list, "build")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, list, "dist")
	require.NoError(t, err)
	assert.Equal(t, "dist\n", out)

	out, err = runWith(t, list, "build", tasks.RunOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "build\n", out)

	require.NoError(t, os.Chtimes(input, now, now))
	out, err = run(t, list, "build")
	require.NoError(t, err)
	assert.Equal(t, "build\n", out)

	_, err = run(t, list, "broken")
	assert.Error(t, err)
}
