// Package address maps page locators to storage URLs and back, derives page
// titles, and parses the short "owner/id" links used inside page content.
package address

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"forkwiki/pkg/types"
)

const (
	// Scheme is the URL scheme of the storage network.
	Scheme = "pubky"
	// NamespaceRoot is the folder under each owner that holds wiki pages.
	NamespaceRoot = "/pub/wiki.app/"
	// FollowsRoot is the folder under each owner that lists followed identities.
	FollowsRoot = "/pub/pubky.app/follows/"
	// FallbackTitle is used when a page has no usable first line.
	FallbackTitle = "Untitled"
)

var (
	ErrParse           = errors.New("malformed storage address")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidPageID   = errors.New("invalid page id")
)

// ToLocatorURL returns pubky://<owner>/pub/wiki.app/<id>. Callers validate the
// locator beforehand.
func ToLocatorURL(loc types.PageLocator) string {
	return fmt.Sprintf("%s://%s%s%s", Scheme, loc.Owner, NamespaceRoot, loc.ID)
}

// NamespacePath returns the owner-relative path of a page.
func NamespacePath(id types.PageID) string {
	return NamespaceRoot + string(id)
}

// OwnerURL returns the URL of a folder inside an owner's namespace.
func OwnerURL(owner types.Identity, folder string) string {
	return fmt.Sprintf("%s://%s%s", Scheme, owner, folder)
}

// ParseStorageURL is the inverse of ToLocatorURL.
func ParseStorageURL(url string) (types.PageLocator, error) {
	owner, path, err := SplitURL(url)
	if err != nil {
		return types.PageLocator{}, err
	}
	if !strings.HasPrefix(path, NamespaceRoot) {
		return types.PageLocator{}, fmt.Errorf("%w: %q is outside %s", ErrParse, url, NamespaceRoot)
	}
	id := strings.TrimPrefix(path, NamespaceRoot)
	if id == "" {
		return types.PageLocator{}, fmt.Errorf("%w: %q has no page id", ErrParse, url)
	}
	if strings.Contains(id, "/") {
		return types.PageLocator{}, fmt.Errorf("%w: %q has a nested page id", ErrParse, url)
	}
	return types.NewLocator(owner, types.PageID(id)), nil
}

// SplitURL breaks pubky://<owner>/<path> into the owner and the absolute path.
func SplitURL(url string) (types.Identity, string, error) {
	rest, ok := strings.CutPrefix(url, Scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q does not use the %s scheme", ErrParse, url, Scheme)
	}
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return "", "", fmt.Errorf("%w: %q has no path", ErrParse, url)
	}
	owner := rest[:slash]
	if owner == "" {
		return "", "", fmt.Errorf("%w: %q has no owner", ErrParse, url)
	}
	return types.Identity(owner), rest[slash:], nil
}

// ExtractTitle returns the first line of content with any leading run of '#'
// and surrounding whitespace removed, or FallbackTitle when nothing is left.
func ExtractTitle(content types.PageContent) string {
	first, _, _ := strings.Cut(string(content), "\n")
	title := strings.TrimSpace(first)
	title = strings.TrimLeft(title, "#")
	title = strings.TrimSpace(title)
	if title == "" {
		return FallbackTitle
	}
	return title
}

// ParseLink parses an "owner/id" wiki link. Absolute URLs and anything that
// is not exactly two non-empty segments are rejected.
func ParseLink(href string) (types.PageLocator, error) {
	href = strings.TrimSpace(href)
	if strings.Contains(href, "://") || strings.HasPrefix(href, "/") {
		return types.PageLocator{}, fmt.Errorf("%w: %q is not a wiki link", ErrParse, href)
	}
	owner, id, ok := strings.Cut(href, "/")
	owner = strings.TrimSpace(owner)
	id = strings.TrimSpace(id)
	if !ok || owner == "" || id == "" || strings.Contains(id, "/") {
		return types.PageLocator{}, fmt.Errorf("%w: %q is not an owner/id link", ErrParse, href)
	}
	return types.NewLocator(types.Identity(owner), types.PageID(id)), nil
}

// ShareLink renders a markdown link other pages can paste.
func ShareLink(loc types.PageLocator) string {
	return fmt.Sprintf("[link](%s)", loc)
}

func ValidateIdentity(id types.Identity) error {
	if err := validateSegment(string(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return nil
}

func ValidatePageID(id types.PageID) error {
	if err := validateSegment(string(id)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPageID, err)
	}
	return nil
}

// ValidateLocator checks both halves of a locator.
func ValidateLocator(loc types.PageLocator) error {
	if err := ValidateIdentity(loc.Owner); err != nil {
		return err
	}
	return ValidatePageID(loc.ID)
}

func validateSegment(s string) error {
	if s == "" {
		return errors.New("cannot be empty")
	}
	if strings.Contains(s, "/") {
		return errors.New("cannot contain /")
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return errors.New("cannot contain whitespace")
	}
	return nil
}
