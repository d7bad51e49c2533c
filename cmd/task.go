package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ngld/labelsel/pkg/tasks"
)

func newTaskCmd(a *app) *cobra.Command {
	var dryRun, force bool
	var taskFile string

	taskCmd := &cobra.Command{
		Use:   "task [NAME...] [option=value...]",
		Short: "Runs developer tasks",
		Long: `Loads the nearest tasks.star file and executes the given tasks.
Arguments containing "=" set options declared in the task file.
Without task names, the available tasks and options are listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskArgs := make([]string, 0)
			options := make(map[string]string)

			for _, part := range args {
				pos := strings.Index(part, "=")
				if pos > -1 {
					options[part[:pos]] = part[pos+1:]
				} else {
					taskArgs = append(taskArgs, part)
				}
			}

			if taskFile == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}

				taskFile, err = tasks.Find(wd)
				if err != nil {
					return err
				}
			}

			ctx := a.context(cmd)
			taskList, taskOptions, err := tasks.Load(ctx, taskFile, options)
			if err != nil {
				return err
			}

			if len(taskArgs) == 0 {
				listTasks(cmd.OutOrStdout(), taskList, taskOptions)
				return nil
			}

			for _, name := range taskArgs {
				err = tasks.Run(ctx, name, taskList, tasks.RunOptions{
					DryRun: dryRun,
					Force:  force,
					Stdout: cmd.OutOrStdout(),
					Stderr: cmd.ErrOrStderr(),
				})
				if err != nil {
					return eris.Wrapf(err, "failed task %s", name)
				}
			}

			return nil
		},
	}

	taskCmd.Flags().BoolVarP(&dryRun, "dry", "n", false, "dry run; only print the commands, don't execute anything")
	taskCmd.Flags().BoolVar(&force, "force", false, "run the given tasks even if their outputs are up to date")
	taskCmd.Flags().StringVarP(&taskFile, "file", "f", "", "task file to load instead of the nearest tasks.star")
	return taskCmd
}

func listTasks(out io.Writer, taskList tasks.TaskList, options map[string]tasks.Option) {
	fmt.Fprintln(out, "Available tasks:")
	printSorted(out, len(taskList), func(yield func(string, string)) {
		for name, task := range taskList {
			yield(name, task.Desc)
		}
	})

	if len(options) > 0 {
		fmt.Fprintln(out, "\nOptions:")
		printSorted(out, len(options), func(yield func(string, string)) {
			for name, opt := range options {
				help := opt.Help
				if opt.Default != "" {
					help += fmt.Sprintf(" (default: %s)", opt.Default)
				}
				yield(name, strings.TrimSpace(help))
			}
		})
	}
}

func printSorted(out io.Writer, size int, collect func(yield func(string, string))) {
	names := make([]string, 0, size)
	descs := make(map[string]string, size)
	maxNameLen := 0

	collect(func(name, desc string) {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
		names = append(names, name)
		descs[name] = desc
	})

	sort.Strings(names)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		fmt.Fprintf(out, lineFmt, name+":", descs[name])
	}
}
