package types

import (
	"fmt"
	"strings"
)

// Identity is the public key naming a user and their namespace.
type Identity string

// PageID names one document inside a namespace.
type PageID string

// PageContent is raw markdown, always stored and fetched whole.
type PageContent string

// PageLocator addresses a single page. Locators are compared by value and
// never mutated; a fork gets its own locator under the forking identity.
type PageLocator struct {
	Owner Identity
	ID    PageID
}

func NewLocator(owner Identity, id PageID) PageLocator {
	return PageLocator{Owner: owner, ID: id}
}

// String returns the canonical "<owner>/<id>" form.
func (l PageLocator) String() string {
	return fmt.Sprintf("%s/%s", l.Owner, l.ID)
}

func (l PageLocator) IsZero() bool {
	return l.Owner == "" && l.ID == ""
}

// ShortOwner trims the owner key for display.
func (l PageLocator) ShortOwner(n int) string {
	owner := string(l.Owner)
	if n <= 0 || len(owner) <= n {
		return owner
	}
	return owner[:n] + "..."
}

// ForkSet lists the namespaces holding a page id. The viewer's own locator,
// when present, is always first; no identity appears twice.
type ForkSet []PageLocator

func (f ForkSet) Contains(owner Identity) bool {
	for _, loc := range f {
		if loc.Owner == owner {
			return true
		}
	}
	return false
}

func (f ForkSet) Strings() []string {
	out := make([]string, len(f))
	for i, loc := range f {
		out[i] = loc.String()
	}
	return out
}

// TitleCache maps own-namespace locators to their derived titles.
type TitleCache map[PageLocator]string

func (c TitleCache) Clone() TitleCache {
	out := make(TitleCache, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// ViewKind is the screen the coordinator is currently showing.
type ViewKind string

const (
	ViewList   ViewKind = "list"
	ViewPage   ViewKind = "view"
	ViewEdit   ViewKind = "edit"
	ViewCreate ViewKind = "create"
)

// ParseIdentities splits a comma separated identity list, dropping blanks.
func ParseIdentities(s string) []Identity {
	var out []Identity
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, Identity(part))
		}
	}
	return out
}
