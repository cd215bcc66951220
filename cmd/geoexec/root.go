package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	a := newApp()
	cmd := &cobra.Command{
		Use:           "geoexec",
		Short:         "Run natural-language geospatial analysis in a sandbox",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.String("env-file", ".env", "dotenv file loaded before the environment")
	flags.String("backend", "process", "sandbox backend: process, docker or kubernetes")
	flags.String("profile", "standard", "security profile: dev, standard or hardened")
	flags.Duration("timeout", 0, "wall-clock limit per execution")
	flags.String("model", "", "chat model")
	flags.String("result-name", "final_gdf", "variable read back after execution")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "console", "log format: console or json")
	flags.StringVarP(&a.output, "output", "o", outputJSON, "output format: json, yaml or text")
	a.bindFlags(cmd)

	cmd.AddCommand(
		newAnalyzeCmd(a),
		newRunCmd(a),
		newExtractCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newToolsCmd(a),
		newShellCmd(a),
	)
	return cmd
}
