package main

import (
	"context"
	"errors"
	"fittrack/activity"
	"fittrack/auth"
	"fittrack/config"
	"fittrack/herr"
	mw "fittrack/middleware"
	"fittrack/objstore"
	"fittrack/session"
	"fittrack/store"
	"fittrack/upload"
	"fittrack/ws"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 10 * time.Second

var protectedRoutes = []string{
	"/api/activities",
	"/api/uploads",
	"/api/ws",
}

type server struct {
	cfg            *config.Config
	store          store.Store
	sessionManager *session.Manager
	auth           *auth.Handler
	activities     *activity.Handler
	uploads        *upload.Handler
	files          *objstore.Disk
	hub            *ws.Hub
	metrics        *mw.Metrics
}

func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	st, err := store.New(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("error creating store: %w", err)
	}

	sessionManager := session.NewManager(st, session.Config{
		ExpirationInDays:       cfg.Session.ExpirationDays,
		RefreshThresholdInDays: cfg.Session.RefreshThresholdDays,
		IsProd:                 cfg.IsProd(),
		Secret:                 []byte(cfg.Auth.TokenSecret),
		TokenTTL:               cfg.Auth.TokenTTL,
	})

	var provider auth.Provider
	switch cfg.Auth.Provider {
	case "cognito":
		c := cfg.Auth.Cognito
		provider, err = auth.NewCognitoFromRegion(ctx, c.Region, c.UserPoolID, c.ClientID, c.ClientSecret, st)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("error creating cognito provider: %w", err)
		}
	default:
		provider = auth.NewLocal(st)
	}

	s := &server{
		cfg:            cfg,
		store:          st,
		sessionManager: sessionManager,
		auth:           auth.NewHandler(provider, sessionManager),
		hub:            ws.NewHub(cfg.CORS.AllowedOrigins),
	}

	var bucket objstore.Bucket
	switch cfg.ObjStore.Driver {
	case "s3":
		o := cfg.ObjStore
		bucket, err = objstore.NewS3(ctx, objstore.S3Options{
			Bucket:    o.Bucket,
			Region:    o.Region,
			Endpoint:  o.Endpoint,
			PathStyle: o.PathStyle,
			AccessKey: o.AccessKey,
			SecretKey: o.SecretKey,
		})
	default:
		s.files, err = objstore.NewDisk(cfg.ObjStore.Dir, cfg.Host+"/api/files/", []byte(cfg.Auth.TokenSecret))
		bucket = s.files
	}
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("error creating object store: %w", err)
	}

	adapter := upload.New(bucket, upload.Config{
		Strategy:     upload.Strategy(cfg.Upload.Strategy),
		MaxBytes:     cfg.Upload.MaxBytes,
		InlineMax:    cfg.Upload.InlineMax,
		URLExpiry:    cfg.Upload.URLExpiry,
		SuffixLength: cfg.Upload.SuffixLength,
	})
	s.uploads = upload.NewHandler(adapter)
	s.activities = activity.NewHandler(activity.NewService(st, adapter, s.hub))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = mw.NewMetrics(reg)
	return s, nil
}

func (s *server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/signup", herr.Wrap(s.auth.HandleSignup))
	mux.Handle("POST /api/auth/login", herr.Wrap(s.auth.HandleLogin))
	mux.Handle("POST /api/auth/logout", herr.Wrap(s.sessionManager.HandleLogout))
	mux.Handle("POST /api/auth/refresh", herr.Wrap(s.sessionManager.HandleRefresh))
	mux.Handle("GET /api/auth/me", herr.Wrap(s.sessionManager.HandleCurrentSession))

	mux.Handle("GET /api/activities", herr.Wrap(s.activities.HandleList))
	mux.Handle("GET /api/activities/user/{id}", herr.Wrap(s.activities.HandleListByUser))
	mux.Handle("POST /api/activities", herr.Wrap(s.activities.HandleCreate))
	mux.Handle("GET /api/activities/{id}", herr.Wrap(s.activities.HandleGet))
	mux.Handle("DELETE /api/activities/{id}", herr.Wrap(s.activities.HandleDelete))

	mux.Handle("POST /api/uploads", herr.Wrap(s.uploads.Handle))
	mux.Handle("GET /api/uploads/url", herr.Wrap(s.uploads.HandleURL))
	if s.files != nil {
		mux.Handle("GET /api/files/{key...}", herr.Wrap(s.files.Handle))
	}

	mux.Handle("GET /api/ws", herr.Wrap(s.hub.Handle))
	mux.Handle("GET /api/health", herr.Wrap(s.handleHealth))
	mux.Handle("GET /metrics", s.metrics.Handler())

	return mw.Chain(
		mux,
		mw.RateLimit(ctx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, mw.ParseProxies(s.cfg.RateLimit.TrustedProxies)),
		mw.Logger(),
		mw.CORS(s.cfg.CORS.AllowedOrigins),
		s.metrics.Middleware(mux),
		mw.Protect(protectedRoutes, s.sessionManager),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) *herr.Error {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(); err != nil {
		slog.Error("Health check failed", "err", err)
		herr.Write(w, http.StatusServiceUnavailable, "Database unavailable")
		return nil
	}
	_, err := w.Write([]byte(`{"status":"ok"}` + "\n"))
	if err != nil {
		return herr.Internal(err, "Error writing health response")
	}
	return nil
}

// start serves until ctx is cancelled, then drains connections.
func (s *server) start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server is listening", "port", s.cfg.Port, "env", s.cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

func (s *server) close() error {
	return s.store.Close()
}
