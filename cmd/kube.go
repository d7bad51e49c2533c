//go:build !nokube

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ngld/labelsel/pkg/selector/kube"
)

func init() {
	extraCommands = append(extraCommands, newKubeCmd)
}

func newKubeCmd(a *app) *cobra.Command {
	var output string
	var validate bool

	kubeCmd := &cobra.Command{
		Use:   "kube SELECTOR",
		Short: "Converts a selector into a Kubernetes LabelSelector",
		Long: `Prints the metav1.LabelSelector for the given selector. With --validate the
selector is also checked against the Kubernetes naming rules and printed in
the form kubectl accepts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output") {
				output = "json"
				if a.cfg.Output == "yaml" {
					output = "yaml"
				}
			}
			if output != "json" && output != "yaml" {
				return eris.Errorf("invalid output format: %s (must be json or yaml)", output)
			}

			exprs, err := a.cache.Parse(args[0])
			if err != nil {
				return eris.Wrapf(err, "invalid selector %q", args[0])
			}

			// The API types only carry json tags so YAML is produced by re-encoding the JSON document.
			data, err := json.MarshalIndent(kube.ToLabelSelector(exprs), "", "  ")
			if err != nil {
				return eris.Wrap(err, "failed to encode label selector")
			}

			if output == "yaml" {
				var doc yaml.Node
				if err = yaml.Unmarshal(data, &doc); err != nil {
					return eris.Wrap(err, "failed to convert label selector")
				}
				resetStyle(&doc)

				var buffer bytes.Buffer
				encoder := yaml.NewEncoder(&buffer)
				encoder.SetIndent(2)
				if err = encoder.Encode(&doc); err != nil {
					return eris.Wrap(err, "failed to encode label selector")
				}
				if err = encoder.Close(); err != nil {
					return err
				}
				data = buffer.Bytes()
			} else {
				data = append(data, '\n')
			}

			out := cmd.OutOrStdout()
			if _, err = out.Write(data); err != nil {
				return err
			}

			if validate {
				sel, err := kube.ToSelector(exprs)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, sel.String())
			}
			return nil
		},
	}

	kubeCmd.Flags().StringVarP(&output, "output", "o", "json", "output format (json or yaml)")
	kubeCmd.Flags().BoolVar(&validate, "validate", false, "validate the selector and print the Kubernetes selector string")
	return kubeCmd
}

// resetStyle drops the flow style the JSON input left on every node
func resetStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		resetStyle(child)
	}
}
