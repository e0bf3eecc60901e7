package httpsurface

import (
	"net/http"

	"github.com/tc3107/mediabus/internal/apierr"
	"github.com/tc3107/mediabus/internal/runtime"
	"github.com/tc3107/mediabus/internal/sharedfs"
)

// authenticate requires a valid session cookie, touching the device's
// liveness timestamps. On failure it checks for a pending revocation
// notice so the caller can distinguish "revoked" from "never paired".
// Every caller is a session-bearing endpoint, so it also marks the
// response no-store.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (runtime.AuthResult, bool) {
	noStore(w)
	cookie, _ := readCookie(r, sessionCookieName)
	res, err := s.rt.AuthenticateSession(cookie, clientIP(r), true)
	if err == nil {
		return res, true
	}
	if msg, ok := s.rt.ConsumeRevocationNotice(cookie); ok {
		clearCookie(w, sessionCookieName)
		writeAPIErr(w, apierr.New(apierr.Revoked, msg))
		return runtime.AuthResult{}, false
	}
	clearCookie(w, sessionCookieName)
	writeAPIErr(w, apierr.New(apierr.NotAuthorized, "not authenticated"))
	return runtime.AuthResult{}, false
}

// resolvePath validates a raw path query parameter against the current
// HostSettings and resolves it through sharedfs, translating both
// failure modes to the apierr kinds spec.md §4.6/§7 assign them.
func (s *Server) resolvePath(raw string) ([]string, string, *apierr.Error) {
	settings := s.rt.Settings()
	segments, err := sharedfs.ValidateSegments(raw, settings.ShowHiddenFiles)
	switch err {
	case nil:
		p, rerr := s.fs.Resolve(segments)
		if rerr != nil {
			return nil, "", apierr.New(apierr.Validation, "invalid path")
		}
		return segments, p, nil
	case sharedfs.ErrHidden:
		return nil, "", apierr.New(apierr.PolicyDenied, "hidden path denied")
	default:
		return nil, "", apierr.New(apierr.Validation, "invalid path")
	}
}
