package view

import (
	"strconv"

	cmp "maragu.dev/gomponents"
	"maragu.dev/gomponents/components"
	hx "maragu.dev/gomponents-htmx"
	g "maragu.dev/gomponents/html"
)

// FragmentPath is polled by the status page to refresh its counters.
const FragmentPath = "/status/fragment"

// Status is the snapshot shown on the status page.
type Status struct {
	Rooms       int
	Users       int
	Connections int
}

// StatusPage is the full HTML page served at /.
func StatusPage(s Status) cmp.Node {
	return components.HTML5(components.HTML5Props{
		Title:    "Room relay",
		Language: "en",
		Head: []cmp.Node{
			g.Script(g.Src("https://unpkg.com/htmx.org@2.0.4")),
		},
		Body: []cmp.Node{
			g.Main(
				g.Class("container mx-auto p-8"),
				g.H1(g.Class("text-3xl font-bold mb-4"), cmp.Text("Room relay")),
				StatusFragment(s),
				g.P(
					g.Class("text-sm text-gray-500 mt-4"),
					cmp.Text("Clients connect at "), g.Code(cmp.Text("/ws")),
					cmp.Text(". Machine-readable status is at "), g.A(g.Href("/api/status"), cmp.Text("/api/status")),
					cmp.Text("."),
				),
			),
		},
	})
}

// StatusFragment renders the counters and replaces itself every five seconds.
func StatusFragment(s Status) cmp.Node {
	return g.Div(
		g.ID("relay-status"),
		hx.Get(FragmentPath),
		hx.Trigger("every 5s"),
		hx.Swap("outerHTML"),
		g.Dl(
			g.Class("grid grid-cols-3 gap-4"),
			stat("Active rooms", s.Rooms),
			stat("Online users", s.Users),
			stat("Live connections", s.Connections),
		),
	)
}

func stat(label string, value int) cmp.Node {
	return g.Div(
		g.Class("p-6 bg-gray-50 rounded-lg shadow"),
		g.Dt(g.Class("text-gray-500"), cmp.Text(label)),
		g.Dd(g.Class("text-2xl font-bold"), cmp.Text(strconv.Itoa(value))),
	)
}
