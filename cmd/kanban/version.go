package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskboard/kanban/internal/printer"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version and check the server's",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "kanban %s\n", Version)

		if local, _ := cmd.Flags().GetBool("client"); local {
			return nil
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		server, err := c.CheckVersion(cmd.Context())
		if err != nil {
			if server == "" {
				printer.Warning(out, "server %s unreachable: %v", cfg.Client.URL, err)
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "server %s (%s)\n", server, cfg.Client.URL)
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("client", false, "only print the client version")
	rootCmd.AddCommand(versionCmd)
}
