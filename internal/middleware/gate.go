package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Upreak/Upjobv1-sub001/internal/access"
	"github.com/Upreak/Upjobv1-sub001/internal/session"
)

type GateOptions struct {
	// SigninPath receives page navigations that were denied. Defaults to /signin.
	SigninPath string
	// APIPrefix marks the API surface, which is answered with JSON instead
	// of redirects. Defaults to /api.
	APIPrefix string
	// OnDecision, when set, observes every decision after it is made.
	OnDecision func(r *http.Request, d access.Decision)
}

// Gate runs in front of every route. Pages and API share the same rule
// evaluation and only differ in how a denial is reported.
func Gate(table *access.Table, resolver session.Resolver, opts GateOptions) func(http.Handler) http.Handler {
	signin := opts.SigninPath
	if signin == "" {
		signin = "/signin"
	}
	apiPrefix := strings.TrimRight(opts.APIPrefix, "/")
	if apiPrefix == "" {
		apiPrefix = "/api"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.URL.Path
			clean := access.CleanPath(raw)
			if raw != "" && raw != clean && raw != clean+"/" {
				// Route on the same path the rules were matched against.
				u := *r.URL
				u.Path = clean
				u.RawPath = ""
				http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
				return
			}

			rule, ok := table.Match(clean)
			if !ok {
				observe(opts.OnDecision, r, access.Decision{Allowed: true, Reason: access.ReasonNoRule})
				next.ServeHTTP(w, r)
				return
			}

			sess, err := resolver.Resolve(r)
			if err != nil {
				logResolveError(r, err)
				sess = nil
			}

			d := access.EvaluateRule(rule, sess)
			observe(opts.OnDecision, r, d)
			if !d.Allowed {
				if isAPIPath(apiPrefix, clean) {
					denyAPI(w, d)
				} else {
					denyPage(w, r, signin)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

func observe(fn func(*http.Request, access.Decision), r *http.Request, d access.Decision) {
	if fn != nil {
		fn(r, d)
	}
}

func logResolveError(r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNoCredentials):
		// Common for anonymous browsers.
	case errors.Is(err, session.ErrUnavailable):
		slog.Warn("session provider unavailable, denying", "path", r.URL.Path, "error", err)
	default:
		slog.Info("session rejected", "path", r.URL.Path, "error", err)
	}
}

func isAPIPath(apiPrefix, p string) bool {
	return p == apiPrefix || strings.HasPrefix(p, apiPrefix+"/")
}

func denyAPI(w http.ResponseWriter, d access.Decision) {
	w.Header().Set("Cache-Control", "no-store")
	if errors.Is(d.Err(), access.ErrUnauthenticated) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="upjob"`)
		writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSONError(w, http.StatusForbidden, "Forbidden")
}

func denyPage(w http.ResponseWriter, r *http.Request, signin string) {
	w.Header().Set("Cache-Control", "no-store")
	target := signin + "?next=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusSeeOther)
}
