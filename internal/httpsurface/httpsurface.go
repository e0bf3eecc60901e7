// Package httpsurface implements MediaBus's fixed HTTPS REST surface:
// pairing, session, heartbeat, file transfer, and QR endpoints, plus
// the embedded SPA's static asset routes. It is stateless between
// requests — all mutable state lives in internal/runtime.
package httpsurface

import (
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tc3107/mediabus/internal/assets"
	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/sharedfs"
)

const appName = "MediaBus"

// Server builds the MediaBus HTTP handler. Host and Port are the
// values Supervisor reports for the currently bound address; they are
// surfaced verbatim in /api/bootstrap responses.
type Server struct {
	rt   *runtime.Runtime
	fs   *sharedfs.FS
	log  *slog.Logger
	Host string
	Port int

	pairLimiter *fixedWindowLimiter
}

// NewServer wires a Server against a live Runtime and shared-folder FS.
func NewServer(rt *runtime.Runtime, sfs *sharedfs.FS, log *slog.Logger, host string, port int) *Server {
	return &Server{
		rt:          rt,
		fs:          sfs,
		log:         log,
		Host:        host,
		Port:        port,
		pairLimiter: newFixedWindowLimiter(60, time.Minute),
	}
}

// Close stops background goroutines owned by the server (the pair
// status rate limiter's cleanup loop).
func (s *Server) Close() {
	s.pairLimiter.Stop()
}

// Handler builds the full middleware-wrapped mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/bootstrap", s.handleBootstrap)
	mux.HandleFunc("GET /api/pair/status", s.withPairLimit(s.handlePairStatus))
	mux.HandleFunc("POST /api/session/disconnect", s.handleSessionDisconnect)
	mux.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)

	mux.HandleFunc("GET /api/files/list", s.handleFilesList)
	mux.HandleFunc("GET /api/files/download", s.handleFilesDownload)
	mux.HandleFunc("GET /api/files/download-zip", s.handleFilesDownloadZip)
	mux.HandleFunc("GET /api/files/download-zip-batch", s.handleFilesDownloadZipBatch)
	mux.HandleFunc("PUT /api/files/upload", s.handleFilesUpload)
	mux.HandleFunc("DELETE /api/files/delete", s.handleFilesDelete)
	mux.HandleFunc("POST /api/files/mkdir", s.handleFilesMkdir)
	mux.HandleFunc("POST /api/files/rename", s.handleFilesRename)

	mux.HandleFunc("GET /api/qr", s.handleQR)

	s.mountAssets(mux)

	var h http.Handler = mux
	h = withSecurityHeaders(h)
	h = s.withRequestLog(h)
	h = s.withRecover(h)
	return h
}

func (s *Server) mountAssets(mux *http.ServeMux) {
	staticFS := assets.Static()
	fileServer := http.FileServerFS(staticFS)

	entry := func(path string) {
		mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
			noStore(w)
			http.ServeFileFS(w, r, staticFS, relativeAssetPath(path))
		})
	}
	entry("/")
	entry("/index.html")
	entry("/sw.js")
	entry("/manifest.webmanifest")

	mux.Handle("/assets/", fileServer)
	mux.Handle("/icons/", fileServer)
	mux.Handle("/ui-icons/", fileServer)
}

func relativeAssetPath(route string) string {
	if route == "/" {
		return "index.html"
	}
	return route[1:]
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "host": s.Host, "port": s.Port})
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	if cookie, ok := readCookie(r, sessionCookieName); ok {
		if res, err := s.rt.AuthenticateSession(cookie, clientIP(r), true); err == nil {
			settings := s.rt.Settings()
			writeJSON(w, http.StatusOK, map[string]any{
				"paired": true,
				"device": map[string]any{
					"id":          res.Device.DeviceID,
					"displayName": res.Device.DisplayName,
				},
				"host":            s.Host,
				"port":            s.Port,
				"showHiddenFiles": settings.ShowHiddenFiles,
				"allowUpload":     settings.AllowUpload,
				"allowDownload":   settings.AllowDownload,
				"allowDelete":     settings.AllowDelete,
			})
			return
		}
		clearCookie(w, sessionCookieName)
	}

	anonID, err := ensureAnonCookie(w, r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	pc, err := s.rt.EnsurePendingChallenge(anonID, r.UserAgent(), clientIP(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"paired":       false,
		"appName":      appName,
		"pairCode":     pc.Code,
		"pairToken":    pc.Token,
		"pairExpiresAt": pc.ExpiresAtMs,
		"pairQrPayload": pairQrPayload(pc.Token, pc.Code),
	})
}

func pairQrPayload(token, code string) string {
	return "mediabus://pair?token=" + url.QueryEscape(token) + "&code=" + url.QueryEscape(code)
}

func (s *Server) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}
	st, err := s.rt.PairingStatus(r.Context(), token, clientIP(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	if !st.Found {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_found"})
		return
	}
	if st.Pending {
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending", "expiresAt": st.ExpiresAtMs})
		return
	}
	if st.Blocked {
		writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "reason": "max_clients"})
		return
	}
	setCookie(w, sessionCookieName, st.SessionToken, sessionCookieTTL)
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) withPairLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := s.pairLimiter.Allow(clientIP(r))
		if !ok {
			w.Header().Set("retry-after", retryAfterSeconds(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many requests"})
			return
		}
		next(w, r)
	}
}

func retryAfterSeconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.Itoa(int(d.Seconds()))
}

func (s *Server) handleSessionDisconnect(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	cookie, _ := readCookie(r, sessionCookieName)
	s.rt.DisconnectSession(cookie)
	clearCookie(w, sessionCookieName)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	res, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	s.rt.Heartbeat(res.DeviceID, clientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("value")
	if value == "" {
		writeAPIErrF(w, http.StatusBadRequest, "value is required")
		return
	}
	svg, err := qrSVG(value)
	if err != nil {
		writeAPIErrF(w, http.StatusInternalServerError, "qr encode failed")
		return
	}
	w.Header().Set("content-type", "image/svg+xml")
	_, _ = w.Write(svg)
}

func writeAPIErrF(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
