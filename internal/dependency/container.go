// Package dependency wires the bridge services using go.uber.org/dig.
package dependency

import (
	"fmt"
	"time"

	"go.uber.org/dig"

	"chat-bridge/backend"
	"chat-bridge/circuitbreaker"
	"chat-bridge/config"
	"chat-bridge/logger"
	"chat-bridge/metrics"
	"chat-bridge/proxy"
)

// Container holds the resolved service singletons.
type Container struct {
	logger  *logger.ObservabilityLogger
	store   logger.RequestStore
	metrics *metrics.Metrics
	backend *backend.Client
	server  *proxy.Server
}

func (c *Container) Logger() *logger.ObservabilityLogger { return c.logger }
func (c *Container) Store() logger.RequestStore          { return c.store }
func (c *Container) Metrics() *metrics.Metrics           { return c.metrics }
func (c *Container) Backend() *backend.Client            { return c.backend }
func (c *Container) Server() *proxy.Server               { return c.server }

// Close releases the store and the log file
func (c *Container) Close() error {
	storeErr := c.store.Close()
	if err := c.logger.Close(); err != nil {
		return err
	}
	return storeErr
}

// Version is the build version reported by the server
type Version string

// New builds and wires all services. loader must already have loaded.
func New(loader *config.Loader, version Version) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Loader { return loader }); err != nil {
		return nil, err
	}
	if err := d.Provide(func(l *config.Loader) *config.Config { return l.Current() }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() Version { return version }); err != nil {
		return nil, err
	}
	if err := d.Provide(newLogger); err != nil {
		return nil, err
	}
	if err := d.Provide(newStore); err != nil {
		return nil, err
	}
	if err := d.Provide(metrics.New); err != nil {
		return nil, err
	}
	if err := d.Provide(newBreaker); err != nil {
		return nil, err
	}
	if err := d.Provide(newCredentials); err != nil {
		return nil, err
	}
	if err := d.Provide(newBackend); err != nil {
		return nil, err
	}
	if err := d.Provide(newServer); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		log *logger.ObservabilityLogger,
		store logger.RequestStore,
		m *metrics.Metrics,
		client *backend.Client,
		server *proxy.Server,
	) {
		result = &Container{
			logger:  log,
			store:   store,
			metrics: m,
			backend: client,
			server:  server,
		}
	})
	return result, err
}

func newLogger(cfg *config.Config) (*logger.ObservabilityLogger, error) {
	return logger.NewObservabilityLogger(cfg.Logging.Dir, cfg.Logging.Level)
}

func newStore(cfg *config.Config, log *logger.ObservabilityLogger) (logger.RequestStore, error) {
	if !cfg.Store.Enabled {
		return logger.NopStore{}, nil
	}
	store, err := logger.NewGORMStore(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open request store: %w", err)
	}
	log.Info(logger.ComponentStore, logger.CategoryHealth, "", "Request store opened", map[string]interface{}{
		"dsn": cfg.Store.DSN,
	})
	return store, nil
}

func newBreaker(cfg *config.Config, log *logger.ObservabilityLogger, m *metrics.Metrics) *circuitbreaker.Breaker {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold:   cfg.Backend.Breaker.FailureThreshold,
		BackoffDuration:    cfg.Backend.Breaker.Backoff,
		MaxBackoffDuration: cfg.Backend.Breaker.MaxBackoff,
	})
	breaker.OnStateChange(func(state circuitbreaker.State) {
		m.SetCircuitOpen(state.Open)
		if state.Open {
			log.Warn(logger.ComponentBackend, logger.CategoryHealth, "", "Backend circuit opened", map[string]interface{}{
				"failures":   state.FailureCount,
				"next_retry": state.NextRetry,
			})
			return
		}
		log.Info(logger.ComponentBackend, logger.CategoryHealth, "", "Backend circuit closed", nil)
	})
	return breaker
}

// newCredentials picks OAuth refresh-token credentials when a token URL is
// configured and the static API key otherwise
func newCredentials(cfg *config.Config, log *logger.ObservabilityLogger) (backend.CredentialSource, error) {
	oauth := cfg.Backend.OAuth
	if !oauth.Enabled() {
		return backend.StaticCredentials(cfg.Backend.APIKey), nil
	}
	creds, err := backend.NewOAuthCredentials(backend.OAuthOptions{
		TokenURL:       oauth.TokenURL,
		ClientID:       oauth.ClientID,
		ClientSecret:   oauth.ClientSecret,
		RefreshToken:   oauth.RefreshToken,
		TokenFile:      oauth.TokenFile,
		Proxy:          cfg.Backend.Proxy,
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		Timeout:        cfg.Backend.ConnectTimeout + 30*time.Second,
		OnRefresh: func(r backend.Refresh) {
			fields := map[string]interface{}{
				"expires_at": r.Expiry,
				"rotated":    r.Rotated,
			}
			if r.SaveErr != nil {
				fields["error"] = r.SaveErr.Error()
				log.Warn(logger.ComponentBackend, logger.CategoryHealth, "", "Failed to save rotated refresh token", fields)
				return
			}
			log.Info(logger.ComponentBackend, logger.CategoryHealth, "", "OAuth access token refreshed", fields)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("oauth credentials: %w", err)
	}
	return creds, nil
}

func newBackend(cfg *config.Config, creds backend.CredentialSource, breaker *circuitbreaker.Breaker, m *metrics.Metrics) (*backend.Client, error) {
	return backend.NewClient(backend.Options{
		URL:            cfg.Backend.URL,
		Proxy:          cfg.Backend.Proxy,
		Timeout:        cfg.Backend.Timeout,
		ConnectTimeout: cfg.Backend.ConnectTimeout,
		Credentials:    creds,
		Breaker:        breaker,
		OnResponse:     m.ObserveBackend,
	})
}

func newServer(
	loader *config.Loader,
	client *backend.Client,
	log *logger.ObservabilityLogger,
	store logger.RequestStore,
	m *metrics.Metrics,
	version Version,
) *proxy.Server {
	return proxy.NewServer(proxy.Options{
		Config:  loader,
		Backend: client,
		Logger:  log,
		Store:   store,
		Metrics: m,
		Version: string(version),
	})
}
