package server

import (
	"net/http"
	"strings"

	"github.com/quadi/qsa-engrave/models"
)

// sessionToken pulls the session token from the Authorization header or the
// session cookie the UI sets.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("session"); err == nil {
		return c.Value
	}
	return ""
}

// staff resolves the caller's session. On failure it writes the 401 envelope
// and returns ok=false; handlers bail out immediately.
func (s *Server) staff(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	u, err := s.users.SessionUser(r.Context(), sessionToken(r))
	if err != nil {
		s.fail(w, err)
		return nil, false
	}
	return u, true
}

// admin is staff plus the admin role.
func (s *Server) admin(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	u, ok := s.staff(w, r)
	if !ok {
		return nil, false
	}
	if u.Role != "admin" {
		s.fail(w, models.NewFault(models.CodeInsufficientPermissions, "admin role required"))
		return nil, false
	}
	return u, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	var req LoginRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed login request", err))
		return
	}
	token, user, err := s.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.users.Audit(r.Context(), user.Username, "login", "auth", "", "")
	s.ok(w, LoginResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	if err := s.users.Logout(r.Context(), sessionToken(r)); err != nil {
		s.fail(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
	s.ok(w, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	u, ok := s.staff(w, r)
	if !ok {
		return
	}
	s.ok(w, u)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	admin, ok := s.admin(w, r)
	if !ok {
		return
	}
	var req CreateUserRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed user request", err))
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		s.fail(w, models.NewFault(models.CodeInvalidParams, "username required and password must be at least 8 characters"))
		return
	}
	switch req.Role {
	case "operator", "admin":
	default:
		s.fail(w, models.Faultf(models.CodeInvalidParams, "unknown role %q", req.Role))
		return
	}
	id, err := s.users.CreateUser(r.Context(), req.Username, req.Password, req.DisplayName, req.Role)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.users.Audit(r.Context(), admin.Username, "create", "users", req.Username, "role="+req.Role)
	s.ok(w, map[string]int64{"id": id})
}
