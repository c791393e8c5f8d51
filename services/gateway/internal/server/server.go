package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"farmassist/internal/metrics"
	"farmassist/internal/ratelimit"
	"farmassist/internal/util"
	"farmassist/pkg/ai"
	"farmassist/pkg/domain"
	"farmassist/pkg/kv"
	"farmassist/pkg/market"
	"farmassist/pkg/store"
	"farmassist/services/gateway/internal/app"
	"farmassist/services/gateway/internal/security"
)

const (
	serviceName = "gateway"

	maxJSONBytes = 1 << 20
	// Advisor bodies carry an image, base64 encoded in the JSON form.
	maxAdvisorBytes = 8 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App     *app.App
	Metrics *metrics.Metrics
	// Redis backs the auth rate limiters and security alerts. Nil disables both.
	Redis                    redis.Scripter
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	TrustedProxyCIDRs        []string
	// BasePath is stripped from every request before routing, e.g.
	// "/make-server-37861144".
	BasePath string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app           *app.App
	metrics       *metrics.Metrics
	mux           *http.ServeMux
	basePath      string
	trusted       *util.TrustedProxies
	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
	alerter       *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	s := &Server{
		app:      cfg.App,
		metrics:  cfg.Metrics,
		mux:      http.NewServeMux(),
		basePath: normalizeBasePath(cfg.BasePath),
		trusted:  trusted,
	}
	if cfg.Redis != nil {
		s.alerter = security.NewAuditAlerter(cfg.Redis, "farmassist:gateway:alerts")
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				return nil, nil
			}
			limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "farmassist:gateway:ratelimit:"+name, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.signupLimiter, err = newLimiter("signup", cfg.SignupRateLimitPerMinute); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	if s.basePath != "" {
		h = http.StripPrefix(s.basePath, h)
	}
	h = util.WithCORS(h)
	h = util.WithSecurityHeaders(h)
	if s.metrics != nil {
		h = s.metrics.Instrument(h)
	}
	h = util.WithRequestLog(serviceName, h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// auth
	s.mux.HandleFunc("POST /auth/signup", s.handleSignup)
	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /auth/me", s.handleMe)

	// farm
	s.mux.HandleFunc("GET /sensors/{userId}", s.handleListSensors)
	s.mux.HandleFunc("POST /sensors", s.handleAddSensor)
	s.mux.HandleFunc("DELETE /sensors/{userId}/{sensorId}", s.handleRemoveSensor)
	s.mux.HandleFunc("GET /vitals/{userId}", s.handleGetVitals)
	s.mux.HandleFunc("POST /vitals/{userId}", s.handleUpdateVitals)
	s.mux.HandleFunc("GET /alerts/{userId}", s.handleListAlerts)
	s.mux.HandleFunc("POST /alerts", s.handleCreateAlert)
	s.mux.HandleFunc("DELETE /alerts/{userId}/{alertId}", s.handleDismissAlert)
	s.mux.HandleFunc("GET /dashboard/{userId}", s.handleDashboard)

	// claims
	s.mux.HandleFunc("GET /claims/{userId}", s.handleListClaims)
	s.mux.HandleFunc("POST /claims", s.handleFileClaim)
	s.mux.HandleFunc("PUT /claims/{userId}/{claimId}", s.handleUpdateClaim)
	s.mux.HandleFunc("GET /claims/{userId}/{claimId}/proof", s.handleClaimProof)

	// chat & advisor
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /chat/{userId}", s.handleChatHistory)
	s.mux.HandleFunc("POST /chat/advisor", s.handleAdvisor)

	// upstream data
	s.mux.HandleFunc("GET /market/prices", s.handleMarketPrices)
	s.mux.HandleFunc("GET /market/states", s.handleMarketStates)
	s.mux.HandleFunc("GET /weather/{location}", s.handleWeather)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "gateway.signup", "rate_limited")
		return
	}
	var req signupRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		s.audit(r, "gateway.signup", "fail", "reason", "invalid_json")
		return
	}
	user, err := s.app.SignUp(r.Context(), app.SignUpInput{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.audit(r, "gateway.signup", "fail", "reason", auditReason(err))
		s.writeAppError(w, r, "register user", err)
		return
	}
	s.audit(r, "gateway.signup", "success", "user_id", user.ID)
	writeData(w, user, "User registered successfully")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "gateway.login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		s.audit(r, "gateway.login", "fail", "reason", "invalid_json")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		s.audit(r, "gateway.login", "fail", "reason", auditReason(err))
		s.writeAppError(w, r, "login", err)
		return
	}
	s.audit(r, "gateway.login", "success", "user_id", user.ID)
	writeData(w, loginResponse{User: user, Token: token}, "Login successful")
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "gateway.token.verify", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := s.app.UserByToken(r.Context(), token)
	if err != nil {
		s.audit(r, "gateway.token.verify", "fail", "reason", auditReason(err))
		s.writeAppError(w, r, "fetch profile", err)
		return
	}
	s.audit(r, "gateway.token.verify", "success", "user_id", user.ID)
	writeData(w, user, "")
}

// farm handlers
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.app.Sensors(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeAppError(w, r, "fetch sensors", err)
		return
	}
	writeData(w, map[string]any{"sensors": sensors}, "")
}

func (s *Server) handleAddSensor(w http.ResponseWriter, r *http.Request) {
	var req sensorRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		return
	}
	sensor, err := s.app.AddSensor(r.Context(), req.UserID, store.SensorInput{
		Name:     req.Name,
		Type:     req.Type,
		Location: req.Location,
	})
	if err != nil {
		s.writeAppError(w, r, "add sensor", err)
		return
	}
	writeData(w, sensor, "Sensor added")
}

func (s *Server) handleRemoveSensor(w http.ResponseWriter, r *http.Request) {
	if err := s.app.RemoveSensor(r.Context(), r.PathValue("userId"), r.PathValue("sensorId")); err != nil {
		s.writeAppError(w, r, "remove sensor", err)
		return
	}
	writeMessage(w, "Sensor removed")
}

func (s *Server) handleGetVitals(w http.ResponseWriter, r *http.Request) {
	vitals, err := s.app.Vitals(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeAppError(w, r, "fetch vitals", err)
		return
	}
	writeData(w, vitals, "")
}

func (s *Server) handleUpdateVitals(w http.ResponseWriter, r *http.Request) {
	var req domain.Vitals
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		return
	}
	if _, err := s.app.UpdateVitals(r.Context(), r.PathValue("userId"), req); err != nil {
		s.writeAppError(w, r, "update vitals", err)
		return
	}
	writeMessage(w, "Vitals updated")
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.app.Alerts(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeAppError(w, r, "fetch alerts", err)
		return
	}
	writeData(w, map[string]any{"alerts": alerts}, "")
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		return
	}
	alert, err := s.app.CreateAlert(r.Context(), req.UserID, store.AlertInput{
		Type:        req.Type,
		Severity:    domain.AlertSeverity(strings.ToLower(strings.TrimSpace(req.Severity))),
		Title:       req.Title,
		Description: req.Description,
		Action:      req.Action,
	})
	if err != nil {
		s.writeAppError(w, r, "create alert", err)
		return
	}
	writeData(w, alert, "Alert created")
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DismissAlert(r.Context(), r.PathValue("userId"), r.PathValue("alertId")); err != nil {
		s.writeAppError(w, r, "dismiss alert", err)
		return
	}
	writeMessage(w, "Alert dismissed")
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.app.Dashboard(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeAppError(w, r, "fetch dashboard", err)
		return
	}
	writeData(w, dashboard, "")
}

// claim handlers
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	claims, summary, err := s.app.Claims(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeAppError(w, r, "fetch claims", err)
		return
	}
	writeData(w, map[string]any{"claims": claims, "summary": summary}, "")
}

func (s *Server) handleFileClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		return
	}
	claim, err := s.app.FileClaim(r.Context(), req.UserID, store.ClaimInput{
		Crop:        req.Crop,
		Event:       req.Event,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		s.writeAppError(w, r, "file claim", err)
		return
	}
	writeData(w, claim, "Claim filed successfully")
}

func (s *Server) handleUpdateClaim(w http.ResponseWriter, r *http.Request) {
	var patch store.ClaimPatch
	if !decodeJSON(w, r, maxJSONBytes, &patch) {
		return
	}
	claim, err := s.app.UpdateClaim(r.Context(), r.PathValue("userId"), r.PathValue("claimId"), patch)
	if err != nil {
		s.writeAppError(w, r, "update claim", err)
		return
	}
	writeData(w, claim, "Claim updated")
}

func (s *Server) handleClaimProof(w http.ResponseWriter, r *http.Request) {
	proof, err := s.app.ClaimProof(r.Context(), r.PathValue("userId"), r.PathValue("claimId"))
	if err != nil {
		s.writeAppError(w, r, "fetch proof", err)
		return
	}
	writeData(w, proof, "")
}

// chat handlers
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, maxJSONBytes, &req) {
		return
	}
	msg, err := s.app.Chat(r.Context(), req.UserID, req.Message)
	if err != nil {
		s.writeAppError(w, r, "process message", err)
		return
	}
	writeData(w, map[string]any{"response": msg.BotResponse}, "")
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	chats, err := s.app.ChatHistory(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeAppError(w, r, "fetch chat history", err)
		return
	}
	writeData(w, map[string]any{"chats": chats}, "")
}

func (s *Server) handleAdvisor(w http.ResponseWriter, r *http.Request) {
	var req app.AdvisorRequest
	if isMultipart(r) {
		var ok bool
		if req, ok = readAdvisorForm(w, r); !ok {
			return
		}
	} else {
		var body advisorRequest
		if !decodeJSON(w, r, maxAdvisorBytes, &body) {
			return
		}
		img, err := body.image()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req = app.AdvisorRequest{Prompt: body.Prompt, Language: body.Language, Image: img}
	}
	answer, err := s.app.AskAdvisor(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, "generate answer", err)
		return
	}
	writeData(w, map[string]string{"answer": answer}, "")
}

// readAdvisorForm parses the multipart form: prompt, language and an
// optional image in "file".
func readAdvisorForm(w http.ResponseWriter, r *http.Request) (app.AdvisorRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdvisorBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return app.AdvisorRequest{}, false
	}
	req := app.AdvisorRequest{
		Prompt:   r.FormValue("prompt"),
		Language: r.FormValue("language"),
	}
	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return app.AdvisorRequest{}, false
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, app.MaxAdvisorImageBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return app.AdvisorRequest{}, false
	}
	req.Image = &ai.InlineImage{MIMEType: sniffMIME(header.Header.Get("Content-Type"), data), Data: data}
	return req, true
}

// upstream data handlers
func (s *Server) handleMarketPrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prices, err := s.app.MarketPrices(r.Context(), market.Filter{
		State:     q.Get("state"),
		District:  q.Get("district"),
		Market:    q.Get("market"),
		Commodity: q.Get("commodity"),
		Date:      q.Get("date"),
	})
	if err != nil {
		s.writeAppError(w, r, "fetch market prices", err)
		return
	}
	writeData(w, prices, "Market prices fetched successfully")
}

func (s *Server) handleMarketStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.app.MarketStates(r.Context())
	if err != nil {
		s.writeAppError(w, r, "fetch states", err)
		return
	}
	writeData(w, map[string]any{"states": states}, "")
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.app.Weather(r.PathValue("location")), "")
}

type signupRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

type sensorRequest struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

type alertRequest struct {
	UserID      string `json:"userId"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

type claimRequest struct {
	UserID      string  `json:"userId"`
	Crop        string  `json:"crop"`
	Event       string  `json:"event"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type chatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// advisorRequest is the JSON form of an advisor question. Image is base64
// or a data URL.
type advisorRequest struct {
	Prompt        string `json:"prompt"`
	Language      string `json:"language"`
	Image         string `json:"image"`
	ImageMIMEType string `json:"imageMimeType"`
}

func (req advisorRequest) image() (*ai.InlineImage, error) {
	raw := strings.TrimSpace(req.Image)
	if raw == "" {
		return nil, nil
	}
	mimeType := strings.TrimSpace(req.ImageMIMEType)
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, errors.New("image must be a base64 data URL")
		}
		mimeType = strings.TrimSuffix(meta, ";base64")
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, errors.New("image must be base64 encoded")
	}
	return &ai.InlineImage{MIMEType: sniffMIME(mimeType, data), Data: data}, nil
}

// envelope is the response body of every endpoint except /metrics.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func writeData(w http.ResponseWriter, data any, message string) {
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func writeMessage(w http.ResponseWriter, message string) {
	writeEnvelope(w, http.StatusOK, envelope{Success: true, Message: message})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{Error: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeAppError maps an application error to its status. Failures that are
// not the caller's fault are logged and reported as "Failed to <action>".
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, action string, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		upstream   *domain.UpstreamError
		storage    *kv.StorageError
	)
	logger := util.LoggerFromContext(r.Context())
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Message)
	case errors.Is(err, domain.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, conflict.Message)
	case errors.Is(err, domain.ErrGeneratorUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &upstream):
		logger.Error("upstream failure", "action", action, "service", upstream.Service, "err", err)
		writeEnvelope(w, http.StatusInternalServerError, envelope{
			Error:   "Failed to " + action,
			Details: upstream.Details(),
		})
	case errors.As(err, &storage):
		logger.Error("storage failure", "action", action, "op", storage.Op, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	case errors.Is(err, context.Canceled):
		logger.Info("request canceled", "action", action)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	default:
		logger.Error("request failed", "action", action, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "multipart/form-data")
}

// sniffMIME trusts a declared image type and otherwise detects it.
func sniffMIME(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return http.DetectContentType(data)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func normalizeBasePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func auditReason(err error) string {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		return "invalid_" + validation.Field
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, domain.ErrUnauthorized):
		return "invalid_token"
	default:
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return "conflict"
		}
		return "internal"
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, s.clientIP(r))
	if err != nil {
		logger.Warn("security_alert_observe_failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", s.clientIP(r),
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

// allowRate admits the request when limiting is off or the caller still has
// quota for this path in the current window.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(limiter.Window().Seconds())))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}
