package templates

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"
)

// ChartsPage renders every chart as an HTML table.
func ChartsPage(data ChartsPageData) templ.Component {
	return layout(data.Title, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p := &printer{w: w}
		p.printf("<h1>%s</h1>\n", esc(data.Title))
		p.printf("<p class=\"summary\">%d pages tracked. Compiled %s.</p>\n", data.TrackedCount, esc(data.GeneratedAt))

		for _, chart := range data.Charts {
			p.printf("<section>\n<h2>%s</h2>\n", esc(chart.Title))
			if len(chart.Rows) == 0 {
				p.printf("<p class=\"empty\">No pages.</p>\n</section>\n")
				continue
			}

			p.printf("<table>\n<thead><tr><th>Title</th><th>Status</th><th>Size</th><th>Created</th><th>Modified</th>")
			if chart.SpecialTitle != "" {
				p.printf("<th>%s</th>", esc(chart.SpecialTitle))
			}
			p.printf("<th>Notes</th></tr></thead>\n<tbody>\n")

			for _, row := range chart.Rows {
				p.printf("<tr><td title=\"%s\">%s</td><td>%s</td><td>%d</td><td>%s</td><td>%s</td>",
					esc(row.Title), esc(row.Short), esc(row.Status), row.Size,
					revisionCell(row.Created), revisionCell(row.Modified))
				if chart.SpecialTitle != "" {
					cell := ""
					if row.Special != nil {
						cell = revisionCell(*row.Special)
					}
					p.printf("<td>%s</td>", cell)
				}
				p.printf("<td>%s</td></tr>\n", esc(row.Notes))
			}
			p.printf("</tbody>\n</table>\n</section>\n")
		}
		return p.err
	}))
}

// ErrorPage renders a status label and a human readable message.
func ErrorPage(data ErrorPageData) templ.Component {
	return layout(data.StatusLabel, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p := &printer{w: w}
		p.printf("<h1>%s</h1>\n<p>%s</p>\n", esc(data.StatusLabel), esc(data.Message))
		return p.err
	}))
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.printf("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n<main>\n", esc(title))
		if p.err != nil {
			return p.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		p.printf("</main>\n<footer><p>%s</p></footer>\n</body>\n</html>\n", esc(DefaultFooterNote))
		return p.err
	})
}

func revisionCell(rev RevisionView) string {
	if rev.User == "" && rev.OldID == 0 {
		return ""
	}
	return esc(rev.User) + "<br><small>" + esc(rev.Time) + " (" + strconv.FormatInt(rev.OldID, 10) + ")</small>"
}

func esc(s string) string {
	return templ.EscapeString(s)
}

// printer keeps the first write error and ignores subsequent writes.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
