package http

import (
	"bytes"
	"context"

	"github.com/a-h/templ"
	"github.com/rotisserie/eris"
)

// renderComponent renders a templ component into memory.
func renderComponent(ctx context.Context, component templ.Component) ([]byte, error) {
	if component == nil {
		return nil, eris.New("component is nil")
	}

	var buf bytes.Buffer
	buf.Grow(4096)
	if err := component.Render(ctx, &buf); err != nil {
		return nil, eris.Wrap(err, "rendering html component")
	}
	return buf.Bytes(), nil
}
