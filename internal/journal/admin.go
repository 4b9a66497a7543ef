package journal

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/tracklink/internal/httputil"
)

// AttachAdminRoutes mounts the SQL browser and an events feed under /debug/.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.DB, &tailsql.DBOptions{
		Label: "Tracking journal",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("events", "Recent journal events (JSON; ?since=<RFC3339>&limit=N)", httputil.GetOnly(func(w http.ResponseWriter, r *http.Request) {
		since := time.Now().Add(-time.Hour)
		if s := r.URL.Query().Get("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				httputil.BadRequest(w, fmt.Sprintf("bad since: %v", err))
				return
			}
			since = t
		}
		limit := 500
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				httputil.BadRequest(w, "bad limit")
				return
			}
			limit = n
		}

		events, err := j.Events(since, limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to query events: %v", err))
			return
		}
		if events == nil {
			events = []Event{}
		}
		httputil.WriteJSONOK(w, events)
	}))
	return nil
}
