package http

import (
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/hotel-reservations-admin/internal/domain"
	"github.com/robertarktes/hotel-reservations-admin/internal/feed"
)

const emptyMessage = "No reservations available"

var adminPage = template.Must(template.New("reservations").Funcs(template.FuncMap{
	"date":     func(t time.Time) string { return t.Format("02/01/2006") },
	"datetime": func(t time.Time) string { return t.Format("02/01/2006 15:04") },
	"cancellable": func(b domain.Booking) bool {
		return b.Status == domain.StatusConfirmed
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Reservations</title>
<style>
table { border-collapse: collapse; width: 100%; }
th, td { border-bottom: 1px solid #ddd; padding: 6px 10px; text-align: left; }
.badge { padding: 2px 8px; border-radius: 10px; font-size: 12px; }
.badge.confirmed { background: #d1fadf; color: #05603a; }
.badge.cancelled { background: #fee4e2; color: #912018; }
.error { color: #b42318; }
</style>
</head>
<body>
<h1>Reservations</h1>
{{if .Flash}}<p class="error" role="alert">{{.Flash}}</p>{{end}}
{{if .State.Loading}}
<p>Loading reservations...</p>
{{else if .State.Error}}
<p class="error" role="alert">{{.State.Error}}</p>
{{else if not .State.Reservations}}
<p>{{.Empty}}</p>
{{else}}
<table>
<thead>
<tr><th>Guest</th><th>Room</th><th>Check-in</th><th>Check-out</th><th>Created</th><th>Status</th><th>Actions</th></tr>
</thead>
<tbody>
{{range .State.Reservations}}
<tr id="reservation-{{.ID}}">
<td>{{.GuestName}}<br><small>{{.Email}}</small><br><small>{{.Phone}}</small></td>
<td>{{.RoomID}}<br><small>{{.NumberOfGuests}} guests</small></td>
<td>{{date .CheckIn}}</td>
<td>{{date .CheckOut}}</td>
<td>{{datetime .CreatedAt}}</td>
<td><span class="badge {{.Status}}">{{.Status}}</span></td>
<td>
{{if cancellable .}}
<form method="post" action="/admin/reservations/{{.ID}}/cancel" onsubmit="if (!confirm('Are you sure you want to cancel this reservation?')) return false; var b = this.querySelector('button'); b.disabled = true; b.textContent = 'Cancelling...'; return true;">
{{if index $.Busy .ID}}<button type="submit" disabled>Cancelling...</button>{{else}}<button type="submit">Cancel</button>{{end}}
</form>
{{end}}
</td>
</tr>
{{end}}
</tbody>
</table>
{{end}}
<script>
(function () {
  var first = true;
  var es = new EventSource("/v1/reservations/stream");
  es.addEventListener("reservations", function () {
    if (first) { first = false; return; }
    location.reload();
  });
})();
</script>
</body>
</html>
`))

type adminPageData struct {
	State feed.State
	Busy  map[string]bool
	Flash string
	Empty string
}

// AdminReservations renders the live reservation table from the feed.
func (h *Handlers) AdminReservations(w http.ResponseWriter, r *http.Request) {
	state := h.feed.State()
	data := adminPageData{
		State: state,
		Busy:  map[string]bool{},
		Flash: r.URL.Query().Get("error"),
		Empty: emptyMessage,
	}

	if h.locks != nil && len(state.Reservations) > 0 {
		ids := make([]string, 0, len(state.Reservations))
		for _, b := range state.Reservations {
			if b.Status == domain.StatusConfirmed {
				ids = append(ids, b.ID)
			}
		}
		busy, err := h.locks.CancelsInFlight(r.Context(), ids)
		if err != nil {
			loggerFrom(r.Context(), h.logger).WithError(err).Warn("failed to load cancelling marks")
		} else {
			data.Busy = busy
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := adminPage.Execute(w, data); err != nil {
		loggerFrom(r.Context(), h.logger).WithError(err).Error("failed to render reservations page")
	}
}

// AdminCancel cancels from the admin table and sends the browser back to it.
func (h *Handlers) AdminCancel(w http.ResponseWriter, r *http.Request) {
	target := "/admin/reservations"
	if err := h.cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		target += "?error=" + url.QueryEscape(domain.UserMessage(err))
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
