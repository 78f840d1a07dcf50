package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/parlo-app/parlo/internal/config"
	"github.com/parlo-app/parlo/internal/httpapi"
	"github.com/parlo-app/parlo/internal/livesession"
	"github.com/parlo-app/parlo/internal/observability"
	"github.com/parlo-app/parlo/internal/realtime"
	"github.com/parlo-app/parlo/internal/recap"
	"github.com/parlo-app/parlo/internal/store"
)

// BuildResult is the wired service: every long-lived collaborator the binary
// needs, plus a Cleanup to release them on shutdown.
type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Facade  *livesession.Facade
	Manager *livesession.Manager
	Store   store.Store
	Metrics *observability.Metrics

	// ChannelMode and RecapMode report which backends were selected, for
	// startup logs and health checks.
	ChannelMode string
	RecapMode   string

	// Cleanup should be called on shutdown to settle any in-flight session
	// and release external resources.
	Cleanup func() error
}

// Build wires the whole service from configuration. Backends are chosen by
// presence of their settings: a realtime gateway URL selects the websocket
// channel over the local loopback, a recap URL selects the HTTP generator
// over the local heuristic, a database URL selects postgres persistence over
// in-memory.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	var generator recap.Generator
	recapMode := "local"
	if strings.TrimSpace(cfg.RecapHTTPURL) != "" {
		generator = recap.NewHTTPGenerator(cfg.RecapHTTPURL, cfg.RecapTimeout)
		recapMode = "http"
	} else {
		generator = recap.NewLocalGenerator()
	}

	var dialer realtime.Dialer
	channelMode := "loopback"
	if strings.TrimSpace(cfg.RealtimeWSURL) != "" {
		gw, err := realtime.NewGatewayDialer(realtime.GatewayConfig{
			WSURL:  cfg.RealtimeWSURL,
			APIKey: cfg.RealtimeAPIKey,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("realtime gateway init failed: %w", err)
		}
		dialer = gw
		channelMode = "gateway"
	} else {
		dialer = realtime.NewLoopbackDialer()
	}

	manager := livesession.NewManager(generator, st, metrics)
	facade := livesession.NewFacade(manager, dialer, livesession.FacadeConfig{
		UserFlushDelay:      cfg.UserFlushDelay,
		AssistantFlushDelay: cfg.AssistantFlushDelay,
		CaptureDumpPath:     cfg.CaptureDumpPath,
	}, metrics)

	api := httpapi.New(cfg, facade, st, metrics)

	cleanup := func() error {
		// Settle any in-flight session before the store goes away so its
		// recap is persisted rather than lost.
		if err := facade.EndSession(context.Background()); err != nil && !errors.Is(err, livesession.ErrNoSession) {
			log.Printf("app: finalize on shutdown: %v", err)
		}
		return st.Close()
	}

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Facade:      facade,
		Manager:     manager,
		Store:       st,
		Metrics:     metrics,
		ChannelMode: channelMode,
		RecapMode:   recapMode,
		Cleanup:     cleanup,
	}, nil
}
