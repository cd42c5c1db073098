package main

import (
	"context"
	"fmt"
	"strings"

	"forkwiki/pkg/types"

	"github.com/spf13/cobra"
)

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <identity>...",
		Short: "Follow identities so their forks are discovered",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				for _, id := range types.ParseIdentities(strings.Join(args, ",")) {
					if err := ws.coord.Follow(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Following %s\n", id)
				}
				return nil
			})
		},
	}
}

func unfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <identity>...",
		Short: "Stop following identities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				for _, id := range types.ParseIdentities(strings.Join(args, ",")) {
					if err := ws.coord.Unfollow(ctx, id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Unfollowed %s\n", id)
				}
				return nil
			})
		},
	}
}

func followsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follows",
		Short: "List the identities you follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				follows, err := ws.coord.Follows(ctx)
				if err != nil {
					return err
				}
				t := newTable("IDENTITY")
				for _, id := range follows {
					t.Row(string(id))
				}
				fmt.Fprintln(cmd.OutOrStdout(), t.Render())
				return nil
			})
		},
	}
}
