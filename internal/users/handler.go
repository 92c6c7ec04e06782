package users

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"song-catalog/internal/api"
	"song-catalog/internal/observability/logging"
	"song-catalog/internal/observability/metrics"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type envelope struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Data      *User      `json:"data,omitempty"`
}

// Handler serves the account endpoints relative to the /user mount point.
type Handler struct {
	Users    UserStore
	Sessions *SessionManager
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

func NewHandler(users UserStore, sessions *SessionManager, logger *slog.Logger) *Handler {
	if users == nil {
		users = NewMemoryUserStore()
	}
	if sessions == nil {
		sessions = NewSessionManager(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Users: users, Sessions: sessions, Logger: logging.WithComponent(logger, "users")}
}

// Routes returns a mux expecting paths with the /user prefix already removed.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signup", h.Signup)
	mux.HandleFunc("/signin", h.Signin)
	mux.HandleFunc("/signout", h.Signout)
	mux.HandleFunc("/me", h.Me)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "Route not found")
	})
	return mux
}

// Ping reports whether both the account and session stores are reachable.
func (h *Handler) Ping(ctx context.Context) error {
	if err := h.Users.Ping(ctx); err != nil {
		return err
	}
	return h.Sessions.Ping(ctx)
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}
	var req signupRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = NormalizeEmail(req.Email)
	switch {
	case req.Name == "" || req.Email == "" || req.Password == "":
		writeStatus(w, http.StatusBadRequest, "All fields are required")
		return
	case !validEmail(req.Email):
		writeStatus(w, http.StatusBadRequest, "Invalid email address")
		return
	case len(req.Password) < minPasswordLength:
		writeStatus(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		h.serverError(w, r, "hash password failed", err)
		return
	}
	user, err := h.Users.CreateUser(r.Context(), User{Name: req.Name, Email: req.Email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeStatus(w, http.StatusConflict, "User already exists")
			return
		}
		h.serverError(w, r, "create user failed", err)
		return
	}
	h.recorder().ObserveAuthEvent("signup")
	api.WriteJSON(w, http.StatusCreated, envelope{Status: "success", Message: "User registered successfully", Data: &user})
}

func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}
	var req signinRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeStatus(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.Users.FindUserByEmail(r.Context(), req.Email)
	if err == nil {
		err = VerifyPassword(user.PasswordHash, req.Password)
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrInvalidCredentials) {
			h.recorder().ObserveAuthEvent("signin_failed")
			writeStatus(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		h.serverError(w, r, "sign in failed", err)
		return
	}

	token, expiresAt, err := h.Sessions.Create(r.Context(), user.ID)
	if err != nil {
		h.serverError(w, r, "create session failed", err)
		return
	}
	h.recorder().ObserveAuthEvent("signin")
	api.WriteJSON(w, http.StatusOK, envelope{
		Status:    "success",
		Message:   "Signed in successfully",
		Token:     token,
		ExpiresAt: &expiresAt,
		Data:      &user,
	})
}

func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}
	token := ExtractToken(r)
	if token == "" {
		writeStatus(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := h.Sessions.Revoke(r.Context(), token); err != nil {
		h.serverError(w, r, "revoke session failed", err)
		return
	}
	h.recorder().ObserveAuthEvent("signout")
	writeStatus(w, http.StatusOK, "Signed out successfully")
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, envelope{Status: "success", Message: "Authenticated", Data: &user})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (User, bool) {
	userID, ok, err := h.Sessions.Validate(r.Context(), ExtractToken(r))
	if err != nil {
		h.serverError(w, r, "validate session failed", err)
		return User{}, false
	}
	if !ok {
		writeStatus(w, http.StatusUnauthorized, "Authentication required")
		return User{}, false
	}
	user, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeStatus(w, http.StatusUnauthorized, "Authentication required")
			return User{}, false
		}
		h.serverError(w, r, "load user failed", err)
		return User{}, false
	}
	return user, true
}

// ExtractToken returns the bearer token from the Authorization header.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context(), h.Logger).Error(msg, "error", err)
	writeStatus(w, http.StatusInternalServerError, "Internal server error")
}

func (h *Handler) recorder() *metrics.Recorder {
	if h.Metrics == nil {
		return metrics.Default()
	}
	return h.Metrics
}

func writeStatus(w http.ResponseWriter, code int, message string) {
	status := "success"
	if code >= http.StatusBadRequest {
		status = "error"
	}
	api.WriteJSON(w, code, envelope{Status: status, Message: message})
}
