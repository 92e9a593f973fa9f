package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	workflow "github.com/davidroman0O/stageflow/workflows"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of a workflow definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(workflow.DefinitionSchema())
		},
	}
}
