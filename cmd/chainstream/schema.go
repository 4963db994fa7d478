package main

import (
	"encoding/json"
	"fmt"

	pkgconfig "github.com/goran-ethernal/ChainStream/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

var configSchemaCmd = &cobra.Command{
	Use:   "config-schema",
	Short: "Print the JSON schema of the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r := &jsonschema.Reflector{FieldNameTag: "json", RequiredFromJSONSchemaTags: true}
		schema := r.Reflect(&pkgconfig.Config{})

		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode schema: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
