package server

import (
	"net/http"

	"github.com/cuemby/poolbroker/pkg/apierr"
	"github.com/cuemby/poolbroker/static"
)

func staticHandler() http.Handler {
	return http.FileServer(http.FS(static.FS))
}

func (s *Server) handleAdminUI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	body, err := static.FS.ReadFile("admin.html")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(body)
}
