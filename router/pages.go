package router

import (
	"bytes"
	"context"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/plantwatch/ws/plant"
)

// fetchTimeout bounds repository calls made while rendering a page.
const fetchTimeout = 3 * time.Second

var funcs = template.FuncMap{
	"ts": func(t time.Time) string { return t.Format(plant.TimestampLayout) },
}

var pages = template.Must(template.New("pages").Funcs(funcs).Parse(`
{{define "head"}}<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.}}</title>
</head>
<body>
{{end}}

{{define "foot"}}</body>
</html>
{{end}}

{{define "home"}}{{template "head" "My plants"}}<h1>My plants</h1>
<ul>
{{range .}}<li><a href="/plant/{{.DeviceID}}">Plant {{.DeviceID}}</a></li>
{{else}}<li>no data</li>
{{end}}</ul>
<p><a href="/plants">Live readings</a></p>
{{template "foot"}}{{end}}

{{define "plant"}}{{template "head" "Plant"}}<h1>Plant {{.ID}}</h1>
{{with .Reading}}<dl>
<dt>Temperature</dt><dd>{{.Temperature}}</dd>
<dt>Humidity</dt><dd>{{.Humidity}}</dd>
<dt>Captured at</dt><dd>{{ts .CapturedAt}}</dd>
</dl>
{{else}}<p>no data</p>
{{end}}<p><a href="/">Back</a></p>
{{template "foot"}}{{end}}

{{define "plants"}}{{template "head" "Live readings"}}<h1>Live readings</h1>
<table>
<thead><tr><th>Device</th><th>Temperature</th><th>Humidity</th><th>Captured at</th></tr></thead>
<tbody id="readings">
{{range .}}<tr><td>{{.DeviceID}}</td><td>{{.Temperature}}</td><td>{{.Humidity}}</td><td>{{ts .CapturedAt}}</td></tr>
{{else}}<tr><td colspan="4">no data</td></tr>
{{end}}</tbody>
</table>
<p id="status">connecting</p>
<script>
(function () {
	var scheme = location.protocol === "https:" ? "wss://" : "ws://";
	var sock = new WebSocket(scheme + location.host + "/ws");
	var status = document.getElementById("status");
	var body = document.getElementById("readings");

	function cell(tr, v) {
		var td = document.createElement("td");
		td.textContent = v;
		tr.appendChild(td);
	}

	sock.onopen = function () { status.textContent = "live"; };
	sock.onclose = function () { status.textContent = "disconnected"; };
	sock.onmessage = function (e) {
		var rows = JSON.parse(e.data);
		body.innerHTML = "";
		rows.forEach(function (r) {
			var tr = document.createElement("tr");
			cell(tr, r.deviceId);
			cell(tr, r.temp);
			cell(tr, r.hum);
			cell(tr, r.timestamp);
			body.appendChild(tr);
		});
	};
})();
</script>
{{template "foot"}}{{end}}

{{define "not_found"}}{{template "head" "Not Found"}}<h1>404 Not Found</h1>
<p>{{.}}</p>
<p><a href="/">Home</a></p>
{{template "foot"}}{{end}}
`))

type response struct {
	status int
	body   []byte
}

type plantPage struct {
	ID      int
	Reading *plant.Reading
}

// render builds the response for a non upgrade route. Repository failures
// are logged and rendered as missing data.
func (r *Router) render(ctx context.Context, route string, vars map[string]string, log zerolog.Logger) response {
	switch route {
	case RouteFavicon:
		return response{status: http.StatusNoContent}

	case RouteHome, RoutePlants:
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		rs, err := r.repo.FetchAllLatest(fctx)
		if err != nil {
			log.Warn().Err(err).Msg("fetch latest readings")
			rs = nil
		}
		return page(http.StatusOK, route, rs)

	case RoutePlant:
		id, err := strconv.Atoi(vars["id"])
		if err != nil {
			return page(http.StatusNotFound, RouteNotFound, "No such plant.")
		}
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		rd, err := r.repo.FetchLatest(fctx, id)
		if err != nil {
			log.Warn().Err(err).Int("device", id).Msg("fetch latest reading")
			rd = nil
		}
		return page(http.StatusOK, RoutePlant, plantPage{ID: id, Reading: rd})
	}
	return page(http.StatusNotFound, RouteNotFound, "The requested page does not exist.")
}

func page(status int, name string, data any) response {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return response{
			status: http.StatusInternalServerError,
			body:   []byte(http.StatusText(http.StatusInternalServerError)),
		}
	}
	return response{status: status, body: buf.Bytes()}
}
