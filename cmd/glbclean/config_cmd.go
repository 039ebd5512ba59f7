package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Faultbox/glbclean/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the glbclean config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default config, to the user config dir unless a path is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if len(args) == 1 {
				if err := cfg.SaveTo(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Wrote %s\n", args[0])
				return nil
			}
			path, err := cfg.Save()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", path)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.cfg.Write(a.out)
		},
	})
	return cmd
}
