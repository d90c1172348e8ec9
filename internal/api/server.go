package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lootarena/internal/auth"
	"lootarena/internal/config"
	"lootarena/internal/game"
	"lootarena/internal/rules"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

type UserContext struct {
	UserID   string
	Username string
	Token    string
	Profile  game.Profile
}

// Players provisions first-time players and looks up the profile every
// session call is made on behalf of.
type Players interface {
	EnsurePlayer(ctx context.Context, userID, username string) error
	GetProfile(ctx context.Context, userID string) (game.Profile, error)
}

type Server struct {
	cfg     config.APIConfig
	log     *slog.Logger
	auth    *auth.Verifier
	players Players
	game    *game.Service
	rules   *rules.Cache
	hub     *Hub
	mux     *chi.Mux
}

// New builds the router. hub may be nil, in which case the live endpoint is
// not mounted and PvP clients poll state.
func New(cfg config.APIConfig, logger *slog.Logger, verifier *auth.Verifier, players Players, gameSvc *game.Service, rulesCache *rules.Cache, hub *Hub) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		log:     logger,
		auth:    verifier,
		players: players,
		game:    gameSvc,
		rules:   rulesCache,
		hub:     hub,
		mux:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		if s.hub != nil {
			r.With(s.authenticate(liveToken)).Get("/pvp/live", s.handleLive)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate(headerToken))
			r.Use(middleware.Timeout(s.requestTimeout()))
			r.Get("/daily", s.handleDaily)
			r.Post("/{variant}/start", s.handleStart)
			r.Post("/{variant}/action", s.handleAction)
			r.Post("/{variant}/resolve", s.handleResolve)
			r.Get("/{variant}/state", s.handleState)
		})
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout > 0 {
		return s.cfg.RequestTimeout
	}
	return 20 * time.Second
}

func headerToken(r *http.Request) string {
	return bearerToken(r.Header.Get("Authorization"))
}

// liveToken also accepts ?access_token=, since browsers cannot set headers
// on a websocket handshake.
func liveToken(r *http.Request) string {
	if token := headerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func (s *Server) authenticate(tokenFrom func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler { return s.requireUser(tokenFrom, next) }
}

func (s *Server) requireUser(tokenFrom func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFrom(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		claims, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
			return
		}
		if err := s.players.EnsurePlayer(r.Context(), claims.Subject, claims.Username); err != nil {
			s.log.Error("ensure player failed", "user_id", claims.Subject, "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not load player", nil)
			return
		}
		profile, err := s.players.GetProfile(r.Context(), claims.Subject)
		if err != nil {
			s.log.Error("load profile failed", "user_id", claims.Subject, "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "could not load player", nil)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID:   claims.Subject,
			Username: claims.Username,
			Token:    token,
			Profile:  profile,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

// prepare resolves the caller, the variant from the path and the current
// rules snapshot. It writes the error response itself and reports false.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request) (UserContext, game.Variant, *rules.Rules, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
		return UserContext{}, "", nil, false
	}
	v, err := game.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		s.writeDomainError(w, err)
		return UserContext{}, "", nil, false
	}
	cfg, err := s.rules.Get(r.Context())
	if err != nil {
		s.log.Error("rules unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "rules_unavailable", "economy rules are not loaded", nil)
		return UserContext{}, "", nil, false
	}
	return user, v, cfg, true
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	user, v, cfg, ok := s.prepare(w, r)
	if !ok {
		return
	}
	var in struct {
		RequestID string `json:"request_id"`
		Mode      string `json:"mode"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, string(game.CodeInvalidInput), err.Error(), nil)
		return
	}
	if strings.TrimSpace(in.RequestID) == "" {
		in.RequestID = idempotencyKey(r)
	}
	out, err := s.game.Start(r.Context(), v, user.Profile, cfg, game.StartInput{
		RequestID: in.RequestID,
		Mode:      in.Mode,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	user, v, cfg, ok := s.prepare(w, r)
	if !ok {
		return
	}
	var in struct {
		SessionRef  string `json:"session_ref"`
		ActionSeq   int    `json:"action_seq"`
		InputAction string `json:"input_action"`
		LatencyMS   int64  `json:"latency_ms"`
		ClientTS    int64  `json:"client_ts"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, string(game.CodeInvalidInput), err.Error(), nil)
		return
	}
	out, err := s.game.ApplyAction(r.Context(), v, user.Profile, cfg, game.ActionInput{
		SessionRef:  in.SessionRef,
		ActionSeq:   in.ActionSeq,
		InputAction: in.InputAction,
		LatencyMS:   in.LatencyMS,
		ClientTS:    in.ClientTS,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	user, v, cfg, ok := s.prepare(w, r)
	if !ok {
		return
	}
	var in struct {
		SessionRef string `json:"session_ref"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, string(game.CodeInvalidInput), err.Error(), nil)
		return
	}
	out, err := s.game.Resolve(r.Context(), v, user.Profile, cfg, in.SessionRef)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	user, v, cfg, ok := s.prepare(w, r)
	if !ok {
		return
	}
	out, err := s.game.GetState(r.Context(), v, user.Profile, cfg, r.URL.Query().Get("ref"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	daily, err := s.game.Daily(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "daily": daily})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var de *game.Error
	if !errors.As(err, &de) {
		s.log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}
	writeError(w, statusForCode(de.Code), string(de.Code), de.Message, de.Metadata)
}

func statusForCode(code game.Code) int {
	switch {
	case game.IsTablesMissing(code):
		return http.StatusServiceUnavailable
	case code == game.CodeSessionNotFound:
		return http.StatusNotFound
	case code == game.CodeSessionNotActive, code == game.CodeSessionExpired, code == game.CodeSessionNotReady:
		return http.StatusConflict
	case code == game.CodeInsufficientRC:
		return http.StatusPaymentRequired
	case code == game.CodeInvalidActionSeq, code == game.CodeInvalidInput, code == game.CodeInvalidVariant:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, meta map[string]any) {
	body := map[string]any{
		"ok":      false,
		"error":   code,
		"message": strings.TrimSpace(message),
	}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	writeJSON(w, status, body)
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
