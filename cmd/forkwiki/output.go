package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"forkwiki/pkg/address"
	"forkwiki/pkg/types"
	"forkwiki/pkg/wiki"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor   = lipgloss.Color("#FF79C6")
	secondaryColor = lipgloss.Color("#8BE9FD")
	accentColor    = lipgloss.Color("#50FA7B")
	warningColor   = lipgloss.Color("#FFB86C")
	dangerColor    = lipgloss.Color("#FF5555")
	mutedColor     = lipgloss.Color("#6272A4")
	bgLightColor   = lipgloss.Color("#44475A")
	fgColor        = lipgloss.Color("#F8F8F2")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			Background(bgLightColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)

	addedStyle    = lipgloss.NewStyle().Foreground(accentColor)
	removedStyle  = lipgloss.NewStyle().Foreground(dangerColor)
	modifiedStyle = lipgloss.NewStyle().Foreground(warningColor)
	mutedStyle    = lipgloss.NewStyle().Foreground(mutedColor)
)

func createPanel(title, content string) string {
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), content))
}

type field struct {
	label string
	value string
}

func renderFields(fields []field) string {
	lines := make([]string, len(fields))
	for i, f := range fields {
		lines[i] = labelStyle.Render(f.label+":") + " " + valueStyle.Render(f.value)
	}
	return strings.Join(lines, "\n")
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(bgLightColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		}).
		Headers(headers...)
}

// renderPages lists titles sorted by title, then id.
func renderPages(w io.Writer, titles types.TitleCache) {
	if len(titles) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No pages yet."))
		return
	}
	locs := make([]types.PageLocator, 0, len(titles))
	for loc := range titles {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool {
		if titles[locs[i]] != titles[locs[j]] {
			return titles[locs[i]] < titles[locs[j]]
		}
		return locs[i].ID < locs[j].ID
	})

	t := newTable("ID", "TITLE")
	for _, loc := range locs {
		t.Row(string(loc.ID), titles[loc])
	}
	fmt.Fprintln(w, t.Render())
}

func renderForks(w io.Writer, current types.PageLocator, own types.Identity, forks types.ForkSet, warnings []wiki.ProbeWarning) {
	t := newTable("OWNER", "LOCATOR", "")
	for _, loc := range forks {
		var tags []string
		if loc.Owner == own {
			tags = append(tags, "yours")
		}
		if loc == current {
			tags = append(tags, "current")
		}
		t.Row(loc.ShortOwner(12), address.ToLocatorURL(loc), strings.Join(tags, ", "))
	}
	fmt.Fprintln(w, createPanel(fmt.Sprintf("%d forks of %s", len(forks), current.ID), t.Render()))
	for _, warn := range warnings {
		fmt.Fprintln(w, modifiedStyle.Render("warning: "+warn.Error()))
	}
}

func renderDiff(w io.Writer, diff []wiki.DiffLine) {
	for _, line := range diff {
		switch line.Kind {
		case wiki.Unchanged:
			fmt.Fprintln(w, "  "+line.Old)
		case wiki.Added:
			fmt.Fprintln(w, addedStyle.Render("+ "+line.New))
		case wiki.Removed:
			fmt.Fprintln(w, removedStyle.Render("- "+line.Old))
		case wiki.Modified:
			fmt.Fprintln(w, removedStyle.Render("~ "+line.Old))
			fmt.Fprintln(w, addedStyle.Render("~ "+line.New))
		}
	}
}
