// Reelguard - Protected Lesson Playback Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/reelguard

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tomtom215/reelguard/internal/api"
	"github.com/tomtom215/reelguard/internal/auth"
	"github.com/tomtom215/reelguard/internal/config"
	"github.com/tomtom215/reelguard/internal/content"
	"github.com/tomtom215/reelguard/internal/logging"
	"github.com/tomtom215/reelguard/internal/middleware"
	"github.com/tomtom215/reelguard/internal/playback"
	"github.com/tomtom215/reelguard/internal/ratelimit"
	"github.com/tomtom215/reelguard/internal/session"
	"github.com/tomtom215/reelguard/internal/supervisor"
	"github.com/tomtom215/reelguard/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("Server stopped with error")
	}
	logging.Info().Msg("Application stopped gracefully")
}

//nolint:gocyclo // sequential wiring
func run(cfg *config.Config) error {
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("store", cfg.Store.Backend).
		Str("ratelimit", cfg.RateLimit.Backend).
		Int("content", len(cfg.Content)).
		Msg("Starting Reelguard")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	dispatcher, closeIncidents, err := initIncidents(cfg)
	if err != nil {
		return err
	}
	defer closeIncidents()

	catalog, err := content.NewMemoryCatalog(cfg.Content)
	if err != nil {
		return fmt.Errorf("load content catalog: %w", err)
	}
	if catalog.Len() == 0 {
		logging.Warn().Msg("Content catalog is empty; every session start will be denied")
	}

	policy := cfg.SessionPolicy()
	engine := session.NewEngine(backends.store, dispatcher, policy)
	gate := session.NewGate(engine, catalog, initEntitlements(cfg))

	keys, err := playback.DeriveKeys(cfg.Playback.Secret)
	if err != nil {
		return fmt.Errorf("derive playback keys: %w", err)
	}
	signer := playback.NewSigner(keys, cfg.Playback.TokenTTL, engine.Now)
	hasher := playback.NewHasher(keys)
	binding := playback.BindingPolicy{
		IP:        cfg.Playback.BindIP,
		UserAgent: cfg.Playback.BindUserAgent,
		Device:    cfg.Playback.BindDevice,
	}
	cookie := playback.CookieConfig{
		Name:     cfg.Playback.CookieName,
		Secure:   cfg.Playback.CookieSecure,
		SameSite: parseSameSite(cfg.Playback.CookieSameSite),
	}
	audit := logging.NewSecurityLogger()

	issuer := playback.NewIssuer(backends.store, signer, hasher, playback.IssuerConfig{
		PublicBaseURL: cfg.Server.PublicBaseURL,
		Binding:       binding,
		Cookie:        cookie,
	}, audit)
	gateway := playback.NewGateway(backends.store, catalog, signer, hasher, dispatcher, playback.GatewayConfig{
		AllowedReferrers: cfg.Playback.AllowedReferrers,
		Binding:          binding,
	}, audit)

	resolver, err := middleware.NewClientIPResolver(cfg.Security.TrustedProxies)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}
	if !resolver.TrustsProxies() {
		logging.Info().Msg("No trusted proxies configured; forwarding headers are ignored")
	}

	jwtManager, err := auth.NewJWTManager(auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("init viewer auth: %w", err)
	}

	limiter := ratelimit.NewLimiter(backends.counter, map[ratelimit.Class]int{
		ratelimit.ClassIssue:  cfg.RateLimit.IssueLimit,
		ratelimit.ClassRedeem: cfg.RateLimit.RedeemLimit,
	})

	handler := api.NewHandler(api.Deps{
		Gate:              gate,
		Engine:            engine,
		Issuer:            issuer,
		Gateway:           gateway,
		ClientIP:          resolver,
		DeviceCookie:      cookie.EffectiveName(),
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		Ready:             backends.Ready,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:  cfg.Security.CORSOrigins,
		APIRateLimit: cfg.Security.APIRateLimit,
		Auth:         auth.NewMiddleware(jwtManager, api.UnauthorizedJSON),
		Limiter:      limiter,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if backends.badger != nil {
		tree.AddDataService(services.NewValueLogGCService(backends.badger, cfg.Store.GCInterval))
	}
	tree.AddMessagingService(services.NewIncidentDrainService(dispatcher, cfg.Server.ShutdownTimeout/2))
	tree.AddAPIService(services.NewHTTPServerService(server, addr, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	var serveErr error
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
			serveErr = err
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}
	return serveErr
}

func initEntitlements(cfg *config.Config) content.Entitlements {
	if cfg.Entitlements.Mode != "http" {
		return content.GroupEntitlements{}
	}
	headers := map[string]string{}
	if cfg.Entitlements.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.Entitlements.APIKey
	}
	logging.Info().Str("url", cfg.Entitlements.URL).Msg("Remote entitlement checks enabled")
	return content.NewHTTPEntitlements(content.HTTPEntitlementsConfig{
		URL:     cfg.Entitlements.URL,
		Timeout: cfg.Entitlements.Timeout,
		Headers: headers,
	})
}

func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
