package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tessellate-ai/loom/internal/config"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigCheckCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Println(string(schema))
			return nil
		},
	}
}

func buildConfigCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Parse the config file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath(cfgPath)
			if path == "" {
				return fmt.Errorf("no config file given (use --config or LOOM_CONFIG)")
			}
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Printf("%s: OK\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}
