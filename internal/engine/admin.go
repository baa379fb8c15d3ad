package engine

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/soundfield/internal/httputil"
	"github.com/banshee-data/soundfield/internal/osc"
)

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// ParseCommand turns "/address arg ..." into a message. Integers become
// int32, other numbers float32, anything else a string.
func ParseCommand(line string) (*osc.Message, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, fmt.Errorf("command must start with an address pattern, got %q", line)
	}
	msg := osc.NewMessage(fields[0])
	for _, f := range fields[1:] {
		if i, err := strconv.ParseInt(f, 10, 32); err == nil {
			msg.Int32(int32(i))
		} else if v, err := strconv.ParseFloat(f, 32); err == nil {
			msg.Float32(float32(v))
		} else {
			msg.Str(f)
		}
	}
	return msg, nil
}

type tailPayload struct {
	Time      time.Time     `json:"time"`
	Direction Direction     `json:"direction"`
	Address   string        `json:"address"`
	Args      []interface{} `json:"args"`
}

// AttachAdminRoutes registers the session debug pages on the /debug/ mux.
func (s *Session) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("session", "engine session state and last status reply", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Status())
	})

	debug.HandleFunc("send-command", "send a control message to the engine", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, s.Status()); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		msg, err := ParseCommand(command)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.FormValue("channel") == "query" {
			err = s.sendQuery(msg)
		} else {
			if !s.CanSend() {
				http.Error(w, fmt.Sprintf("Session is %s; control messages are dropped", s.State()), http.StatusConflict)
				return
			}
			err = s.Send(msg)
		}
		if err != nil {
			http.Error(w, "Failed to send command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent %s", msg.Text()))
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case ev, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(tailPayload{
					Time:      s.clock.Now(),
					Direction: ev.Direction,
					Address:   ev.Message.Address,
					Args:      ev.Message.Values(),
				})
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
