package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"machscope/internal/config"
	"machscope/internal/patch"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [config|patchset]",
		Short:     "Generate JSON schema for configuration or patch set files",
		Hidden:    true,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"config", "patchset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "config"
			if len(args) == 1 {
				kind = args[0]
			}

			reflector := new(jsonschema.Reflector)
			var schema *jsonschema.Schema
			switch kind {
			case "config":
				schema = reflector.Reflect(&config.Config{})
			case "patchset":
				schema = reflector.Reflect(&patch.BinaryPatchSet{})
			default:
				return fmt.Errorf("unknown schema %q, want config or patchset", kind)
			}

			bts, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
}
