// Package mcp exposes the wiki coordinator as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"forkwiki/pkg/address"
	"forkwiki/pkg/coordinator"
	"forkwiki/pkg/types"
	"forkwiki/pkg/wiki"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const Version = "0.1.0"

type PageRef struct {
	Owner string `json:"owner"`
	ID    string `json:"id"`
}

type CreatePageRequest struct {
	Content string `json:"content"`
	ID      string `json:"id"`
}

type UpdatePageRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type DeletePageRequest struct {
	ID string `json:"id"`
}

type CompareRequest struct {
	Owner      string `json:"owner"`
	ID         string `json:"id"`
	OtherOwner string `json:"other_owner"`
	OtherID    string `json:"other_id"`
}

type FollowRequest struct {
	Identity string `json:"identity"`
}

type EmptyRequest struct{}

type PageSummary struct {
	Locator string `json:"locator"`
	Title   string `json:"title"`
}

type PageResponse struct {
	Locator   string   `json:"locator"`
	Content   string   `json:"content"`
	Forks     []string `json:"forks"`
	Warnings  []string `json:"warnings,omitempty"`
	Depth     int      `json:"depth"`
	ShareLink string   `json:"share_link"`
}

type ViewResponse struct {
	View    string        `json:"view"`
	Depth   int           `json:"depth"`
	Page    *PageResponse `json:"page,omitempty"`
	Message string        `json:"message,omitempty"`
}

type DiffLineResponse struct {
	Kind string `json:"kind"`
	Old  string `json:"old,omitempty"`
	New  string `json:"new,omitempty"`
}

// NewServer registers the wiki tools for coord.
func NewServer(coord *coordinator.Coordinator) *server.MCPServer {
	s := server.NewMCPServer(
		"forkwiki MCP",
		Version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Read, write, fork and compare wiki pages stored in per-identity namespaces."),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("list_pages",
		mcp.WithDescription("List the authenticated identity's pages with their titles"),
	), mcp.NewTypedToolHandler(listPagesHandler(coord)))

	s.AddTool(mcp.NewTool("view_page",
		mcp.WithDescription("Open a page of any identity and discover its forks among followed identities"),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Public key identity that owns the page")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
	), mcp.NewTypedToolHandler(viewPageHandler(coord)))

	s.AddTool(mcp.NewTool("create_page",
		mcp.WithDescription("Create a page in the own namespace"),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content; the first line is the title")),
		mcp.WithString("id", mcp.Description("Optional page id; a random id is used when empty")),
	), mcp.NewTypedToolHandler(createPageHandler(coord)))

	s.AddTool(mcp.NewTool("update_page",
		mcp.WithDescription("Overwrite a page in the own namespace"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
		mcp.WithString("content", mcp.Required(), mcp.Description("New markdown content")),
	), mcp.NewTypedToolHandler(updatePageHandler(coord)))

	s.AddTool(mcp.NewTool("delete_page",
		mcp.WithDescription("Delete a page from the own namespace"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
	), mcp.NewTypedToolHandler(deletePageHandler(coord)))

	s.AddTool(mcp.NewTool("fork_page",
		mcp.WithDescription("Copy another identity's page into the own namespace under the same id"),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Identity that owns the page")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Page id")),
	), mcp.NewTypedToolHandler(forkPageHandler(coord)))

	s.AddTool(mcp.NewTool("compare_pages",
		mcp.WithDescription("Line diff between two pages"),
		mcp.WithString("owner", mcp.Required()),
		mcp.WithString("id", mcp.Required()),
		mcp.WithString("other_owner", mcp.Required()),
		mcp.WithString("other_id", mcp.Required()),
	), mcp.NewTypedToolHandler(comparePagesHandler(coord)))

	s.AddTool(mcp.NewTool("go_back",
		mcp.WithDescription("Return to the previously viewed page, or to the list"),
	), mcp.NewTypedToolHandler(goBackHandler(coord)))

	s.AddTool(mcp.NewTool("list_follows",
		mcp.WithDescription("List the identities the session follows"),
	), mcp.NewTypedToolHandler(listFollowsHandler(coord)))

	s.AddTool(mcp.NewTool("follow",
		mcp.WithDescription("Follow an identity so its forks are discovered"),
		mcp.WithString("identity", mcp.Required()),
	), mcp.NewTypedToolHandler(followHandler(coord, true)))

	s.AddTool(mcp.NewTool("unfollow",
		mcp.WithDescription("Stop following an identity"),
		mcp.WithString("identity", mcp.Required()),
	), mcp.NewTypedToolHandler(followHandler(coord, false)))

	return s
}

// Serve runs the server over stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type typedHandler[T any] = func(ctx context.Context, request mcp.CallToolRequest, args T) (*mcp.CallToolResult, error)

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(action string, err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err)), nil
}

func listPagesHandler(coord *coordinator.Coordinator) typedHandler[EmptyRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, _ EmptyRequest) (*mcp.CallToolResult, error) {
		if err := coord.RefreshList(ctx); err != nil {
			return errorResult("list pages", err)
		}
		pages := make([]PageSummary, 0)
		for loc, title := range coord.Titles() {
			pages = append(pages, PageSummary{Locator: address.ToLocatorURL(loc), Title: title})
		}
		sortSummaries(pages)
		return jsonResult(pages)
	}
}

func viewPageHandler(coord *coordinator.Coordinator) typedHandler[PageRef] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args PageRef) (*mcp.CallToolResult, error) {
		if args.Owner == "" || args.ID == "" {
			return mcp.NewToolResultError("owner and id are required"), nil
		}
		if err := coord.ViewPage(ctx, types.Identity(args.Owner), types.PageID(args.ID)); err != nil {
			return errorResult("view page", err)
		}
		return jsonResult(currentPage(coord))
	}
}

func createPageHandler(coord *coordinator.Coordinator) typedHandler[CreatePageRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args CreatePageRequest) (*mcp.CallToolResult, error) {
		if args.Content == "" {
			return mcp.NewToolResultError("content is required"), nil
		}
		loc, err := coord.CreatePage(ctx, types.PageContent(args.Content), types.PageID(args.ID))
		if err != nil {
			return errorResult("create page", err)
		}
		return jsonResult(PageSummary{Locator: address.ToLocatorURL(loc), Title: coord.Titles()[loc]})
	}
}

func updatePageHandler(coord *coordinator.Coordinator) typedHandler[UpdatePageRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args UpdatePageRequest) (*mcp.CallToolResult, error) {
		if args.ID == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		if err := coord.UpdatePage(ctx, types.PageID(args.ID), types.PageContent(args.Content)); err != nil {
			return errorResult("update page", err)
		}
		return mcp.NewToolResultText("updated " + args.ID), nil
	}
}

func deletePageHandler(coord *coordinator.Coordinator) typedHandler[DeletePageRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args DeletePageRequest) (*mcp.CallToolResult, error) {
		if args.ID == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		if err := coord.DeletePage(ctx, types.PageID(args.ID)); err != nil {
			return errorResult("delete page", err)
		}
		return mcp.NewToolResultText("deleted " + args.ID), nil
	}
}

func forkPageHandler(coord *coordinator.Coordinator) typedHandler[PageRef] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args PageRef) (*mcp.CallToolResult, error) {
		if args.Owner == "" || args.ID == "" {
			return mcp.NewToolResultError("owner and id are required"), nil
		}
		if err := coord.ViewPage(ctx, types.Identity(args.Owner), types.PageID(args.ID)); err != nil {
			return errorResult("view page", err)
		}
		if _, err := coord.ForkCurrentPage(ctx); err != nil {
			return errorResult("fork page", err)
		}
		return jsonResult(currentPage(coord))
	}
}

func comparePagesHandler(coord *coordinator.Coordinator) typedHandler[CompareRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args CompareRequest) (*mcp.CallToolResult, error) {
		if args.Owner == "" || args.ID == "" || args.OtherOwner == "" || args.OtherID == "" {
			return mcp.NewToolResultError("owner, id, other_owner and other_id are required"), nil
		}
		if err := coord.ViewPage(ctx, types.Identity(args.Owner), types.PageID(args.ID)); err != nil {
			return errorResult("view page", err)
		}
		diff, err := coord.CompareWith(ctx, types.NewLocator(types.Identity(args.OtherOwner), types.PageID(args.OtherID)))
		if err != nil {
			return errorResult("compare pages", err)
		}
		return jsonResult(diffResponse(diff))
	}
}

func goBackHandler(coord *coordinator.Coordinator) typedHandler[EmptyRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, _ EmptyRequest) (*mcp.CallToolResult, error) {
		if err := coord.GoBack(ctx); err != nil {
			return errorResult("go back", err)
		}
		resp := ViewResponse{View: string(coord.View()), Depth: coord.Depth()}
		if coord.View() == types.ViewPage {
			resp.Page = currentPage(coord)
		}
		return jsonResult(resp)
	}
}

func listFollowsHandler(coord *coordinator.Coordinator) typedHandler[EmptyRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, _ EmptyRequest) (*mcp.CallToolResult, error) {
		follows, err := coord.Follows(ctx)
		if err != nil {
			return errorResult("list follows", err)
		}
		return jsonResult(follows)
	}
}

func followHandler(coord *coordinator.Coordinator, follow bool) typedHandler[FollowRequest] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args FollowRequest) (*mcp.CallToolResult, error) {
		if args.Identity == "" {
			return mcp.NewToolResultError("identity is required"), nil
		}
		id := types.Identity(args.Identity)
		if follow {
			if err := coord.Follow(ctx, id); err != nil {
				return errorResult("follow", err)
			}
			return mcp.NewToolResultText("following " + args.Identity), nil
		}
		if err := coord.Unfollow(ctx, id); err != nil {
			return errorResult("unfollow", err)
		}
		return mcp.NewToolResultText("unfollowed " + args.Identity), nil
	}
}

func currentPage(coord *coordinator.Coordinator) *PageResponse {
	share, _ := coord.ShareLink()
	resp := &PageResponse{
		Locator:   address.ToLocatorURL(coord.Current()),
		Content:   string(coord.Content()),
		Forks:     coord.Forks().Strings(),
		Depth:     coord.Depth(),
		ShareLink: share,
	}
	for _, w := range coord.ForkWarnings() {
		resp.Warnings = append(resp.Warnings, w.Error())
	}
	return resp
}

func diffResponse(diff []wiki.DiffLine) []DiffLineResponse {
	out := make([]DiffLineResponse, len(diff))
	for i, line := range diff {
		out[i] = DiffLineResponse{Kind: line.Kind.String(), Old: line.Old, New: line.New}
	}
	return out
}

func sortSummaries(pages []PageSummary) {
	slices.SortFunc(pages, func(a, b PageSummary) int {
		if c := strings.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return strings.Compare(a.Locator, b.Locator)
	})
}
