// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gamestore

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"time"
)

// ServerConfig holds configuration for the server
type ServerConfig struct {
	DatabaseURL string // empty selects the in-memory repository
	JWTSecret   string
	TokenTTL    time.Duration
	Collections map[string]CollectionRule
	Logger      *slog.Logger
}

// ServerComponents holds the initialized server components
type ServerComponents struct {
	Repo    Repository
	JWTAuth *JWTAuth
	Handler http.Handler
	Logger  *slog.Logger
}

// TokenRequest is the body of POST /auth/token. Any password is accepted.
type TokenRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

// TokenResponse is returned by POST /auth/token.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	User      string `json:"user"`
	Device    string `json:"device"`
}

const defaultJWTSecret = "your-secret-key-change-in-production"

// SetupServer opens the repository and builds the HTTP handler.
// This is the shared logic used by both main() and tests.
func SetupServer(ctx context.Context, config *ServerConfig) (*ServerComponents, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var repo Repository
	if config.DatabaseURL != "" {
		pg, err := OpenPostgres(ctx, config.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		repo = pg
	} else {
		logger.Info("Using in-memory repository")
		repo = NewMemoryRepository()
	}
	return NewServerComponents(repo, config), nil
}

// NewServerComponents builds the HTTP handler around an existing repository.
func NewServerComponents(repo Repository, config *ServerConfig) *ServerComponents {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	jwtSecret := config.JWTSecret
	if jwtSecret == "" {
		jwtSecret = defaultJWTSecret
		logger.Warn("Using default JWT secret - change in production!")
	}
	tokenTTL := config.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}

	jwtAuth := NewJWTAuth(jwtSecret, logger)
	handlers := NewHandlers(repo, config.Collections, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HandleHealth)
	mux.HandleFunc("POST /auth/token", handleToken(jwtAuth, tokenTTL, logger))
	mux.Handle("GET /collections/{collection}", jwtAuth.Middleware(http.HandlerFunc(handlers.HandleList)))
	mux.Handle("POST /collections/{collection}", jwtAuth.Middleware(http.HandlerFunc(handlers.HandleCreate)))
	mux.Handle("PATCH /collections/{collection}/{id}", jwtAuth.Middleware(http.HandlerFunc(handlers.HandleUpdate)))
	mux.Handle("DELETE /collections/{collection}/{id}", jwtAuth.Middleware(http.HandlerFunc(handlers.HandleDelete)))

	return &ServerComponents{
		Repo:    repo,
		JWTAuth: jwtAuth,
		Handler: LoggingMiddleware(mux, logger),
		Logger:  logger,
	}
}

// handleToken issues a JWT for the given user and device
func handleToken(jwtAuth *JWTAuth, ttl time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, logger, http.StatusBadRequest, "validation", "invalid JSON")
			return
		}
		if req.User == "" {
			writeError(w, logger, http.StatusBadRequest, "validation", "user required")
			return
		}
		if req.Device == "" {
			req.Device = "device-" + strconv.FormatInt(time.Now().UnixNano(), 36)
		}
		tok, err := jwtAuth.GenerateToken(req.User, req.Device, ttl)
		if err != nil {
			writeError(w, logger, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, logger, http.StatusOK, TokenResponse{
			Token:     tok,
			ExpiresIn: int64(ttl.Seconds()),
			User:      req.User,
			Device:    req.Device,
		})
		logger.Info("Issued token", "user", req.User, "device", req.Device)
	}
}

// Close releases the repository
func (sc *ServerComponents) Close() {
	if sc.Repo != nil {
		sc.Repo.Close()
	}
}

// TestServer is a running in-process server
type TestServer struct {
	*ServerComponents
	HTTPServer *httptest.Server
}

// NewTestServer starts an httptest server around repo. A nil repo uses a
// fresh MemoryRepository.
func NewTestServer(repo Repository, config *ServerConfig) *TestServer {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if config == nil {
		config = &ServerConfig{JWTSecret: "test-secret"}
	}
	components := NewServerComponents(repo, config)
	return &TestServer{
		ServerComponents: components,
		HTTPServer:       httptest.NewServer(components.Handler),
	}
}

// Close shuts down the test server and cleans up resources
func (ts *TestServer) Close() {
	if ts.HTTPServer != nil {
		ts.HTTPServer.Close()
	}
	ts.ServerComponents.Close()
}

// URL returns the base URL of the test server
func (ts *TestServer) URL() string {
	return ts.HTTPServer.URL
}

// GenerateToken generates a token for testing
func (ts *TestServer) GenerateToken(userID, deviceID string, duration time.Duration) (string, error) {
	return ts.JWTAuth.GenerateToken(userID, deviceID, duration)
}

// LoggingMiddleware logs every request at debug level
func LoggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start).String())
	})
}

// responseWriter captures the status code for logging
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
