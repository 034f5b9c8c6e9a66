package rendering

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maragu.dev/gomponents"
	g "maragu.dev/gomponents/html"
)

func TestNodeRenderer_RenderComponent(t *testing.T) {
	r := NewNodeRenderer()

	out, err := r.RenderComponent(g.P(g.Class("note"), gomponents.Text("a < b")))
	require.NoError(t, err)
	assert.Equal(t, `<p class="note">a &lt; b</p>`, string(out))
}

func TestNodeRenderer_RenderPage(t *testing.T) {
	e := echo.New()
	r := NewNodeRenderer()
	e.Renderer = r
	e.GET("/page", func(c echo.Context) error {
		return r.RenderPage(c, http.StatusCreated, g.Span(gomponents.Text("hello")))
	})
	e.GET("/render", func(c echo.Context) error {
		return c.Render(http.StatusOK, "", g.Span(gomponents.Text("via echo")))
	})
	e.GET("/bad", func(c echo.Context) error {
		return c.Render(http.StatusOK, "", "not a node")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/page", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")
	assert.Equal(t, "<span>hello</span>", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/render", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<span>via echo</span>", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bad", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
