package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "login",
		Aliases: []string{"whoami"},
		Short:   "Authenticate with the local identity key and show the session",
		Long: `Load the identity key (creating one on first use), run the auth flow against
the configured storage and print the resulting session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				keyNote := ws.cfg.KeyFile
				if ws.created {
					keyNote += " (new)"
				}
				fields := []field{
					{"Identity", string(ws.coord.Identity())},
					{"Status", ws.machine.Current().Status.String()},
					{"Key file", keyNote},
					{"Storage", ws.cfg.Storage.Backend},
					{"Auth URL", ws.authURL},
					{"Pages", strconv.Itoa(len(ws.coord.Titles()))},
				}
				fmt.Fprintln(cmd.OutOrStdout(), createPanel("SESSION", renderFields(fields)))
				return nil
			})
		},
	}
}
