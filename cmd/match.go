package cmd

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newMatchCmd(a *app) *cobra.Command {
	var labelArgs []string
	var labelFile string

	matchCmd := &cobra.Command{
		Use:   "match SELECTOR",
		Short: "Checks whether a set of labels matches a selector",
		Long: `Labels are read from --file (a YAML or JSON label map or an object with
metadata.labels) and from --label key=value pairs, which take precedence.
Prints "match" or "no match" and exits with status 1 if the labels don't match.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exprs, err := a.cache.Parse(args[0])
			if err != nil {
				return eris.Wrapf(err, "invalid selector %q", args[0])
			}

			labels := make(map[string]string)
			if labelFile != "" {
				labels, err = readLabelFile(labelFile)
				if err != nil {
					return err
				}
			}

			for _, item := range labelArgs {
				pos := strings.Index(item, "=")
				if pos < 0 {
					return eris.Errorf("invalid label %q, expected key=value", item)
				}
				labels[item[:pos]] = item[pos+1:]
			}

			a.logger.Debug().Str("selector", exprs.String()).Interface("labels", labels).Msg("matching")

			if !exprs.Matches(labels) {
				fmt.Fprintln(cmd.OutOrStdout(), "no match")
				return ErrNoMatch
			}

			fmt.Fprintln(cmd.OutOrStdout(), "match")
			return nil
		},
	}

	matchCmd.Flags().StringArrayVarP(&labelArgs, "label", "l", nil, "label as key=value (repeatable)")
	matchCmd.Flags().StringVarP(&labelFile, "file", "f", "", "YAML or JSON file containing the labels")
	return matchCmd
}

// readLabelFile reads a label map. If the document has a metadata mapping, its labels field is used instead.
func readLabelFile(path string) (map[string]string, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", path)
	}

	var doc yaml.Node
	if err = yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	labels := make(map[string]string)
	if len(doc.Content) == 0 {
		return labels, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, eris.Errorf("%s: expected a mapping at the top level", path)
	}

	for idx := 0; idx+1 < len(root.Content); idx += 2 {
		if root.Content[idx].Value == "metadata" && root.Content[idx+1].Kind == yaml.MappingNode {
			var meta struct {
				Labels map[string]string `yaml:"labels"`
			}
			if err = root.Content[idx+1].Decode(&meta); err != nil {
				return nil, eris.Wrapf(err, "%s: invalid metadata.labels", path)
			}
			if meta.Labels != nil {
				labels = meta.Labels
			}
			return labels, nil
		}
	}

	if err = root.Decode(&labels); err != nil {
		return nil, eris.Wrapf(err, "%s: invalid label map", path)
	}
	return labels, nil
}
