package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	workflow "github.com/davidroman0O/stageflow/workflows"
	"github.com/davidroman0O/stageflow/workflows/loader"
)

func newDefinitionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definitions",
		Aliases: []string{"defs"},
		Short:   "Inspect, validate and scaffold workflow definitions",
	}
	cmd.AddCommand(newDefinitionsListCmd(opts))
	cmd.AddCommand(newDefinitionsShowCmd(opts))
	cmd.AddCommand(newDefinitionsValidateCmd())
	cmd.AddCommand(newDefinitionsInitCmd())
	return cmd
}

// configuredRegistry loads the definitions the server would serve.
func configuredRegistry(ctx context.Context, opts *options) (*workflow.Registry, error) {
	cfg, _, err := opts.load()
	if err != nil {
		return nil, err
	}
	r := workflow.NewRegistry()
	if err := loadDefinitions(ctx, cfg, r); err != nil {
		return nil, err
	}
	return r, nil
}

func newDefinitionsListCmd(opts *options) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the configured workflow definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := configuredRegistry(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defs := r.GetAvailableWorkflows()
			if tag != "" {
				defs = r.WorkflowsByTag(tag)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTAGES\tPRIORITY\tTAGS")
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", d.ID, d.Name, len(d.Stages), d.Metadata.Priority, strings.Join(d.Metadata.Tags, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "Only list definitions carrying this tag")
	return cmd
}

func newDefinitionsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a configured definition as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := configuredRegistry(cmd.Context(), opts)
			if err != nil {
				return err
			}
			def, err := r.GetWorkflow(args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(def); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newDefinitionsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file|dir]...",
		Short: "Check definition files without starting anything",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := workflow.NewRegistry()
			failed := 0
			for _, path := range args {
				defs, err := loadPath(ctx, path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
					failed++
					continue
				}
				for _, def := range defs {
					if err := r.RegisterWorkflow(def); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "FAIL %s: %v\n", path, err)
						failed++
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "ok   %s (%s, %d stages)\n", def.ID, path, len(def.Stages))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d definition(s) failed validation", failed)
			}
			return nil
		},
	}
}

func loadPath(ctx context.Context, path string) ([]workflow.Definition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loader.LoadDir(ctx, path)
	}
	return loader.LoadFile(ctx, path)
}

func newDefinitionsInitCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "init [output]",
		Short: "Write a starter definition file",
		Long:  "Write a starter workflow definition. The format follows the file extension unless --format is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFile := args[0]

			// Ensure the directory exists
			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("error creating output directory: %w", err)
			}
			if err := loader.SaveTemplate(cmd.Context(), format, outputFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template saved to %s\n", outputFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Template format: yaml or cue")
	return cmd
}
