package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"gated-chat/internal/auth"
	"gated-chat/internal/chat"
	"gated-chat/internal/guard"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Authorizer is the part of the authorization engine the web surface drives.
type Authorizer interface {
	TryAuthorize(code string) auth.Result
	Current() auth.Session
	SuppressAutoVerify() bool
	Logout() error
	ResetAll() error
}

// Server serves the login, chat and admin views for this device.
type Server struct {
	auth   Authorizer
	guard  *guard.Guard
	chat   *chat.Session
	tmpl   *template.Template
	md     goldmark.Markdown
	server *http.Server
}

func New(a Authorizer, g *guard.Guard, c *chat.Session) (*Server, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Server{
		auth:  a,
		guard: g,
		chat:  c,
		tmpl:  tmpl,
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/admin", s.handleAdminPage).Methods(http.MethodGet)
	r.HandleFunc("/admin/reset", s.handleAdminReset).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.requireAuth)
	protected.HandleFunc("/", s.handleChatPage).Methods(http.MethodGet)
	protected.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost)
	protected.HandleFunc("/chat/dismiss", s.handleDismiss).Methods(http.MethodPost)
	protected.HandleFunc("/chat/reset", s.handleChatReset).Methods(http.MethodPost)
	return r
}

// Start listens on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	log.Printf("web: listening on http://%s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// requireAuth lets a request through only when the guard authorizes it.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.guard.Check(r.URL.Query().Get(guard.CycleParam) != "")
		if !d.Render() {
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, "OK")
}

type loginView struct {
	Error    string
	Code     string
	Suppress bool
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	suppress := r.URL.Query().Get("reset") == "true" || s.auth.SuppressAutoVerify()
	if !suppress {
		if s.auth.Current().IsAuthenticated {
			http.Redirect(w, r, guard.VerifiedPath, http.StatusSeeOther)
			return
		}
		if res := s.auth.TryAuthorize(""); res.Success {
			http.Redirect(w, r, guard.VerifiedPath, http.StatusSeeOther)
			return
		}
	}
	s.render(w, http.StatusOK, "login.html", loginView{Suppress: suppress})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	if strings.TrimSpace(code) == "" {
		s.render(w, http.StatusBadRequest, "login.html", loginView{Error: "Please enter an access code."})
		return
	}
	res := s.auth.TryAuthorize(code)
	if !res.Success {
		status := http.StatusUnauthorized
		if !errors.Is(res.Err, auth.ErrInvalidCode) && !errors.Is(res.Err, auth.ErrCodeAlreadyUsed) {
			log.Printf("web: login failed: %v", res.Err)
			status = http.StatusInternalServerError
		}
		s.render(w, status, "login.html", loginView{Error: res.Message, Code: code})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(); err != nil {
		log.Printf("web: logout: %v", err)
	}
	s.chat.Reset()
	http.Redirect(w, r, guard.SuppressedLoginPath, http.StatusSeeOther)
}

type turnView struct {
	User bool
	HTML template.HTML
}

type chatView struct {
	Code        string
	Turns       []turnView
	Banner      string
	Busy        bool
	Draft       string
	Suggestions []string
}

// Suggestions offered on an empty conversation; picking one prefills the input.
var suggestions = []string{
	"What are the main anxiety disorders in the DSM-5?",
	"How do you tell depression apart from bipolar disorder?",
}

func (s *Server) handleChatPage(w http.ResponseWriter, r *http.Request) {
	turns := s.chat.Turns()
	view := chatView{
		Code:   s.auth.Current().AccessCode,
		Turns:  make([]turnView, 0, len(turns)),
		Banner: s.chat.Banner(),
		Busy:   s.chat.Busy(),
		Draft:  r.URL.Query().Get("prompt"),
	}
	if len(turns) == 0 {
		view.Suggestions = suggestions
	}
	for _, t := range turns {
		if t.Role == chat.RoleUser {
			view.Turns = append(view.Turns, turnView{User: true, HTML: template.HTML(template.HTMLEscapeString(t.Content))})
			continue
		}
		view.Turns = append(view.Turns, turnView{HTML: s.markdown(t.Content)})
	}
	s.render(w, http.StatusOK, "chat.html", view)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	_, err := s.chat.Submit(r.Context(), r.FormValue("message"))
	switch {
	case errors.Is(err, chat.ErrBusy):
		http.Error(w, "A message is already being sent, please wait.", http.StatusConflict)
		return
	case err != nil && !errors.Is(err, chat.ErrEmptyMessage):
		log.Printf("web: submit: %v", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.chat.DismissBanner()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	s.chat.Reset()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type adminView struct {
	Message string
	OK      bool
}

func (s *Server) handleAdminPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "admin.html", adminView{})
}

func (s *Server) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.ResetAll(); err != nil {
		log.Printf("web: admin reset: %v", err)
		s.render(w, http.StatusInternalServerError, "admin.html", adminView{Message: "Could not clear the stored data."})
		return
	}
	s.chat.Reset()
	log.Printf("web: all authorization data cleared")
	s.render(w, http.StatusOK, "admin.html", adminView{Message: "All authorization data was cleared.", OK: true})
}

func (s *Server) markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("web: render %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
