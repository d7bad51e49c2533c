package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/ngld/labelsel/internal/config"
	"github.com/ngld/labelsel/pkg/selector"
)

func newParseCmd(a *app) *cobra.Command {
	var output string
	var all bool

	parseCmd := &cobra.Command{
		Use:   "parse SELECTOR...",
		Short: "Parses selectors and prints the resulting expressions",
		Long: `Parses each selector and prints it in its canonical form (text) or as a list of
expressions (json, yaml). By default the first invalid token aborts; with --all
every invalid token is reported and the valid expressions are still printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output") {
				output = a.cfg.Output
			}
			if err := config.ValidateOutput(output); err != nil {
				return err
			}

			results := make([]selector.Expressions, 0, len(args))
			failed := false

			for _, arg := range args {
				var exprs selector.Expressions
				var err error
				if all {
					exprs, err = selector.ParseAll(arg)
				} else {
					exprs, err = a.cache.Parse(arg)
				}

				if err != nil {
					for _, single := range multierr.Errors(err) {
						a.logger.Error().Str("selector", arg).Msg(single.Error())
					}
					failed = true
					if !all {
						continue
					}
				}

				results = append(results, exprs)
			}

			if err := writeExpressions(cmd.OutOrStdout(), output, results); err != nil {
				return err
			}

			if failed {
				return eris.New("found invalid selectors")
			}

			a.logger.Debug().Int("cached", a.cache.Len()).Msg("parsed selectors")
			return nil
		},
	}

	parseCmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json or yaml)")
	parseCmd.Flags().BoolVar(&all, "all", false, "report every invalid token instead of stopping at the first one")
	return parseCmd
}

func writeExpressions(out io.Writer, format string, results []selector.Expressions) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		for _, exprs := range results {
			if err := encoder.Encode(exprs); err != nil {
				return eris.Wrap(err, "failed to encode expressions")
			}
		}
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		for _, exprs := range results {
			if err := encoder.Encode(exprs); err != nil {
				return eris.Wrap(err, "failed to encode expressions")
			}
		}
		return encoder.Close()
	default:
		for _, exprs := range results {
			fmt.Fprintln(out, exprs.String())
		}
	}

	return nil
}
