package rendering

import (
	"bytes"
	"fmt"
	"io"

	"github.com/labstack/echo/v4"
	"maragu.dev/gomponents"
)

// Renderer renders gomponents nodes either to bytes (htmx fragments) or
// straight to an HTTP response.
type Renderer interface {
	RenderComponent(node gomponents.Node) ([]byte, error)
	RenderPage(c echo.Context, status int, node gomponents.Node) error
}

// NodeRenderer is the gomponents implementation of Renderer. It also
// satisfies echo.Renderer so handlers can call c.Render with a node as data.
type NodeRenderer struct{}

// NewNodeRenderer creates a NodeRenderer.
func NewNodeRenderer() *NodeRenderer {
	return &NodeRenderer{}
}

// RenderComponent renders a node to a byte slice.
func (r *NodeRenderer) RenderComponent(node gomponents.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := node.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render component to bytes: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPage writes a node as an HTML response. The node is rendered before
// the status is written so a failure can still become an error response.
func (r *NodeRenderer) RenderPage(c echo.Context, status int, node gomponents.Node) error {
	body, err := r.RenderComponent(node)
	if err != nil {
		return err
	}
	return c.HTMLBlob(status, body)
}

// Render implements echo.Renderer. The node is passed as data; name is ignored.
func (r *NodeRenderer) Render(w io.Writer, _ string, data any, c echo.Context) error {
	node, ok := data.(gomponents.Node)
	if !ok {
		return fmt.Errorf("unsupported component type: %T", data)
	}
	if c != nil && c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	}
	return node.Render(w)
}
