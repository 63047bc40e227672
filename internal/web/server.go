// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/imu_logger/internal/acquisition"
)

// Control is what the web surface drives; *acquisition.Controller
// implements it.
type Control interface {
	Start() error
	Stop() error
	Export() (string, error)
	ExportTo(w io.Writer) error
	Status() acquisition.Status
}

// Server routes the HTTP API, the websocket and optional static files.
type Server struct {
	ctrl Control
	hub  *Hub
	mux  *http.ServeMux
}

// NewServer builds the routes. staticDir may be empty.
func NewServer(ctrl Control, hub *Hub, staticDir string) *Server {
	s := &Server{ctrl: ctrl, hub: hub, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/orientation", s.handleOrientation)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/start", s.handleStart)
	s.mux.HandleFunc("POST /api/stop", s.handleStop)
	s.mux.HandleFunc("POST /api/export", s.handleExport)
	s.mux.HandleFunc("GET /api/export.csv", s.handleExportCSV)
	s.mux.HandleFunc("GET /ws", s.handleWS)

	if staticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleOrientation(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.hub.Latest()
	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		// The controller is idle regardless; report the close failure.
		log.Printf("web: stop: %v", err)
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	path, err := s.ctrl.Export()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.ctrl.ExportTo(&buf); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="imu_log.csv"`)
	w.Write(buf.Bytes())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}

	c := newWSClient(conn)
	s.hub.add(c)
	defer s.hub.remove(c)
	defer c.close()
	go c.writeLoop()

	st := s.ctrl.Status()
	c.reply(WSResponse{Type: "status", Status: &st})

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket read error: %v", err)
			}
			return
		}
		c.reply(s.runAction(msg.Action))
	}
}

func (s *Server) runAction(action string) WSResponse {
	var err error
	switch action {
	case "start":
		err = s.ctrl.Start()
	case "stop":
		if err := s.ctrl.Stop(); err != nil {
			log.Printf("web: stop: %v", err)
		}
	case "export":
		path, err := s.ctrl.Export()
		if err != nil {
			return WSResponse{Type: "error", Message: err.Error()}
		}
		return WSResponse{Type: "exported", Path: path}
	case "status":
	default:
		return WSResponse{Type: "error", Message: "unknown action: " + action}
	}
	if err != nil {
		return WSResponse{Type: "error", Message: err.Error()}
	}
	st := s.ctrl.Status()
	return WSResponse{Type: "status", Status: &st}
}

// statusCode maps controller errors onto HTTP status codes.
func statusCode(err error) int {
	var connErr *acquisition.ConnectionError
	switch {
	case errors.As(err, &connErr):
		return http.StatusBadGateway
	case errors.Is(err, acquisition.ErrNoSession):
		return http.StatusConflict
	default:
		// Includes *session.ExportError.
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}
