package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/vengine/pkg/config"
)

func newInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: fmt.Sprintf(`Write a commented configuration file with every default value.

Without --config the file is written to %s.`, config.GetDefaultConfigPath()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = written
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")
	cmd.Flags().StringVarP(&path, "config", "c", "", "Path of the file to write")
	return cmd
}
