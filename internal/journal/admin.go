package journal

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/soundfield/internal/httputil"
)

const recentLimit = 50

// AttachAdminRoutes mounts tailsql over the journal and the summary pages on
// the /debug/ mux.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.DB, &tailsql.DBOptions{
		Label: "Session journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("journal-stats", "session journal summary", func(w http.ResponseWriter, r *http.Request) {
		st, err := j.Stats()
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read stats: %v", err))
			return
		}
		httputil.WriteJSONOK(w, st)
	})

	debug.HandleSilentFunc("journal-recent", func(w http.ResponseWriter, r *http.Request) {
		limit := recentLimit
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
		samples, err := j.StatusSamples(limit)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		events, err := j.NodeEvents(limit)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{
			"status_samples": samples,
			"node_events":    events,
		})
	})
	return nil
}
