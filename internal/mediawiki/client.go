// Package mediawiki talks to a MediaWiki action API.
package mediawiki

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrPageMissing indicates the wiki has no page under the requested title or id.
var ErrPageMissing = eris.New("page missing")

// Page is the current state of a wiki page.
type Page struct {
	ID             int64
	Title          string
	Namespace      int
	Content        string
	IsRedirect     bool
	RedirectTarget *RedirectTarget
}

// RedirectTarget is the resolved destination of a redirect page.
type RedirectTarget struct {
	Title     string
	Namespace int
}

// EditOptions are the flags attached to an edit.
type EditOptions struct {
	Minor bool
	Bot   bool
}

// Client defines the wiki operations the synchronizer depends on.
type Client interface {
	GetPage(ctx context.Context, title string) (*Page, error)
	GetPageByID(ctx context.Context, pageID int64) (*Page, error)
	CategoryMembers(ctx context.Context, category string, limit int) ([]string, error)
	Edit(ctx context.Context, title, text, summary string, opts EditOptions) error
}
