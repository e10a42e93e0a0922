package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/dropbox-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Display effective configuration after all overrides",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "paths",
			Short: "Print the config file and state locations",
			Args:  cobra.NoArgs,
			RunE:  runConfigPaths,
		},
	)

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cc.Stdout)
}

func runConfigPaths(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	paths := map[string]string{
		"config":  cc.Cfg.ConfigPath,
		"token":   cc.Cfg.TokenPath(),
		"mirror":  cc.Cfg.MirrorDBPath(),
		"uploads": cc.Cfg.UploadsDir(),
	}

	if cc.Flags.JSON {
		return printJSON(cc.Stdout, paths)
	}

	for _, k := range []string{"config", "token", "mirror", "uploads"} {
		fmt.Fprintf(cc.Stdout, "%-8s %s\n", k, paths[k])
	}

	return nil
}
