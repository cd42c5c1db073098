package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"forkwiki/pkg/address"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/types"

	"github.com/spf13/cobra"
)

// parseRef accepts a pubky:// page URL, an owner/id link, or a bare id in
// the own namespace.
func parseRef(ref string, own types.Identity) (types.PageLocator, error) {
	switch {
	case strings.HasPrefix(ref, address.Scheme+"://"):
		return address.ParseStorageURL(ref)
	case strings.Contains(ref, "/"):
		return address.ParseLink(ref)
	case ref == "":
		return types.PageLocator{}, fmt.Errorf("%w: empty page reference", address.ErrParse)
	}
	return types.NewLocator(own, types.PageID(ref)), nil
}

// readContent returns file's contents, the joined args, or stdin, in that
// order of preference.
func readContent(stdin io.Reader, file string, args []string) (types.PageContent, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return types.PageContent(data), nil
	case len(args) > 0:
		return types.PageContent(strings.Join(args, " ")), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return types.PageContent(data), nil
}

// withWorkspace opens an authenticated workspace for the duration of fn.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *workspace) error) error {
	logger := setupLogger(verbose)
	defer logger.Sync()

	ctx := cmd.Context()
	ws, err := openWorkspace(ctx, logger, metrics.NewNop())
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, ws)
}

func pageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page",
		Short: "Manage wiki pages",
	}
	cmd.AddCommand(pageListCmd(), pageGetCmd(), pageCreateCmd(), pageUpdateCmd(), pageDeleteCmd(), pageForkCmd())
	return cmd
}

func pageListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				renderPages(cmd.OutOrStdout(), ws.coord.Titles())
				return nil
			})
		},
	}
}

func pageGetCmd() *cobra.Command {
	var showLinks bool

	cmd := &cobra.Command{
		Use:   "get <id|owner/id|url>",
		Short: "Print a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				loc, err := parseRef(args[0], ws.coord.Identity())
				if err != nil {
					return err
				}
				if err := ws.coord.ViewPage(ctx, loc.Owner, loc.ID); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, ws.coord.Content())
				if showLinks {
					for _, link := range ws.coord.Links() {
						target := link.Href
						if link.IsWiki() {
							target = address.ToLocatorURL(link.Target)
						}
						fmt.Fprintf(out, "%s -> %s\n", link.Text, target)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&showLinks, "links", false, "list the links found in the page")
	return cmd
}

func pageCreateCmd() *cobra.Command {
	var (
		id   string
		file string
	)

	cmd := &cobra.Command{
		Use:   "create [content...]",
		Short: "Create a page in your namespace",
		Long:  `Create a page from --file, the arguments, or stdin. The first line is the title.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				loc, err := ws.coord.CreatePage(ctx, content, types.PageID(id))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n%s\n", address.ToLocatorURL(loc), address.ShareLink(loc))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "page id (random when empty)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read content from file")
	return cmd
}

func pageUpdateCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "update <id> [content...]",
		Short: "Overwrite one of your pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), file, args[1:])
			if err != nil {
				return err
			}
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				if err := ws.coord.UpdatePage(ctx, types.PageID(args[0]), content); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read content from file")
	return cmd
}

func pageDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one of your pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				if err := ws.coord.DeletePage(ctx, types.PageID(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func pageForkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fork <owner/id|url>",
		Short: "Copy another identity's page into your namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				loc, err := parseRef(args[0], ws.coord.Identity())
				if err != nil {
					return err
				}
				if err := ws.coord.ViewPage(ctx, loc.Owner, loc.ID); err != nil {
					return err
				}
				fork, err := ws.coord.ForkCurrentPage(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forked to %s\n", address.ToLocatorURL(fork))
				return nil
			})
		},
	}
}

func forksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forks <id|owner/id|url>",
		Short: "List the forks of a page among you and the identities you follow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				loc, err := parseRef(args[0], ws.coord.Identity())
				if err != nil {
					return err
				}
				if err := ws.coord.ViewPage(ctx, loc.Owner, loc.ID); err != nil {
					return err
				}
				renderForks(cmd.OutOrStdout(), ws.coord.Current(), ws.coord.Identity(), ws.coord.Forks(), ws.coord.ForkWarnings())
				return nil
			})
		},
	}
}

func diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <from> <to>",
		Short: "Compare two pages line by line",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				own := ws.coord.Identity()
				from, err := parseRef(args[0], own)
				if err != nil {
					return err
				}
				to, err := parseRef(args[1], own)
				if err != nil {
					return err
				}
				if err := ws.coord.ViewPage(ctx, from.Owner, from.ID); err != nil {
					return err
				}
				diff, err := ws.coord.CompareWith(ctx, to)
				if err != nil {
					return err
				}
				renderDiff(cmd.OutOrStdout(), diff)
				return nil
			})
		},
	}
}
