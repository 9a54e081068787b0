package pages

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Upreak/Upjobv1-sub001/internal/middleware"
	"github.com/Upreak/Upjobv1-sub001/internal/session"

	"github.com/go-chi/chi/v5"
)

//go:embed templates/*.html
var templateFS embed.FS

// dashboard is a page area that sits behind the gate.
type dashboard struct {
	Path  string
	Title string
	API   string
}

var dashboards = []dashboard{
	{Path: "/admin", Title: "Admin dashboard", API: "/api/admin"},
	{Path: "/recruiter", Title: "Recruiter dashboard", API: "/api/recruiter"},
	{Path: "/candidate", Title: "My applications", API: "/api/candidate"},
	{Path: "/jobs", Title: "Open jobs", API: "/api/jobs"},
	{Path: "/chat", Title: "Messages", API: "/api/chat"},
}

// Prefixes lists the page areas that must have an access rule.
func Prefixes() []string {
	out := make([]string, len(dashboards))
	for i, d := range dashboards {
		out[i] = d.Path
	}
	return out
}

type view struct {
	Title string
	// Session is set on dashboards only. The gate skips resolution on
	// paths without a rule, so public pages always render anonymous.
	Session   *session.Session
	Area      string
	API       string
	SigninURL string
}

type Handler struct {
	templates map[string]*template.Template
	signinURL string
}

// New parses the embedded page templates. signinURL is the identity
// provider's login page; an empty value hides the link.
func New(signinURL string) (*Handler, error) {
	h := &Handler{templates: map[string]*template.Template{}, signinURL: signinURL}
	for _, name := range []string{"home", "about", "signin", "dashboard"} {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		h.templates[name] = t
	}
	return h, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.page("home", "Home"))
	r.Get("/about", h.page("about", "About"))
	r.Get("/signin", h.handleSignin)
	for _, d := range dashboards {
		serve := h.handleDashboard(d)
		r.Get(d.Path, serve)
		r.Get(d.Path+"/*", serve)
	}
}

func (h *Handler) render(w http.ResponseWriter, name string, v view) {
	var buf bytes.Buffer
	if err := h.templates[name].ExecuteTemplate(&buf, "layout", v); err != nil {
		slog.Error("render page failed", "page", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (h *Handler) page(name, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, name, view{Title: title})
	}
}

func (h *Handler) handleDashboard(d dashboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, "dashboard", view{
			Title:   d.Title,
			Session: middleware.GetSession(r),
			Area:    strings.TrimPrefix(d.Path, "/"),
			API:     d.API,
		})
	}
}

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	v := view{Title: "Sign in"}
	if h.signinURL != "" {
		if u, err := url.Parse(h.signinURL); err == nil {
			if next := SafeNext(r.URL.Query().Get("next")); next != "" {
				q := u.Query()
				q.Set("next", next)
				u.RawQuery = q.Encode()
			}
			v.SigninURL = u.String()
		}
	}
	h.render(w, "signin", v)
}

// SafeNext returns next when it is a path on this host and "" otherwise.
func SafeNext(next string) string {
	if next == "" || next[0] != '/' || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return next
}
