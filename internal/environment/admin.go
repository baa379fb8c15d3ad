package environment

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/soundfield/internal/httputil"
	"github.com/banshee-data/soundfield/internal/monitor"
)

// FieldSnapshot projects the registered instances for the sound-field view.
func (e *Environment) FieldSnapshot() monitor.FieldSnapshot {
	views := e.Snapshot()
	frame := e.Frame()
	params := e.Params()

	snap := monitor.FieldSnapshot{
		Radius:  params.Radius,
		UserX:   frame.UserPosition.X,
		UserZ:   frame.UserPosition.Z,
		Sources: make([]monitor.FieldSource, 0, len(views)),
	}
	for _, v := range views {
		snap.Sources = append(snap.Sources, monitor.FieldSource{
			ID:      v.ID,
			X:       v.Spatial.Local.X,
			Z:       v.Spatial.Local.Z,
			WallX:   v.Spatial.Wall.X,
			WallZ:   v.Spatial.Wall.Z,
			Volume:  v.Spatial.Volume,
			Playing: v.Playing,
		})
	}
	return snap
}

type environmentPayload struct {
	Frame  Frame  `json:"frame"`
	Params Params `json:"params"`
}

// AttachAdminRoutes registers the environment debug pages on the /debug/ mux.
func (e *Environment) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("instances", "registered sound instances with derived control values", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, e.Snapshot())
	})

	debug.HandleFunc("environment", "listener/user frame and environment parameters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, environmentPayload{Frame: e.Frame(), Params: e.Params()})
	})

	debug.Handle("sound-field", "listener-plane view of sources and speaker ring", monitor.SoundFieldHandler(e.FieldSnapshot))
}
