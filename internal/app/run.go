package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/hass"
	"github.com/jkaflik/hundesystem/internal/api"
	"github.com/jkaflik/hundesystem/internal/config"
	"github.com/jkaflik/hundesystem/internal/discovery"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/journal"
	"github.com/jkaflik/hundesystem/internal/publish"
	"github.com/jkaflik/hundesystem/internal/status"
	"github.com/jkaflik/hundesystem/pkg/clickhouse"
)

// Run connects to Home Assistant and runs the service until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	url, err := resolveURL(ctx, cfg)
	if err != nil {
		return err
	}

	ws := hass.NewClient(url, cfg.Hass.Token, hass.WithResultTimeout(cfg.Hass.ResultTimeout))
	if err := ws.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			log.Err(err).Msg("Failed to close Home Assistant connection")
		}
	}()

	if err := ws.WaitAuthenticated(ctx); err != nil {
		return fmt.Errorf("failed to authenticate with Home Assistant: %w", err)
	}
	log.Info().Str("url", url).Str("version", ws.Version()).Msg("Connected to Home Assistant")

	rest, err := hass.NewRESTClient(url, cfg.Hass.Token, hass.WithHTTPClient(&http.Client{Timeout: cfg.Hass.RequestTimeout}))
	if err != nil {
		return err
	}
	host := &hass.Host{WS: ws, REST: rest}

	publisher, closePublisher, err := newPublisher(cfg, host)
	if err != nil {
		return err
	}
	defer closePublisher()

	j, err := newJournal(cfg)
	if err != nil {
		return err
	}

	a, err := New(cfg, Deps{
		Host:      host,
		States:    ws.GetStates,
		Publisher: publisher,
		Journal:   j,
		Health: map[string]api.HealthFunc{
			"hass": func() error {
				select {
				case <-ws.Done():
					return hass.ErrNotConnected
				default:
					return nil
				}
			},
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.LoadStates(ctx); err != nil {
		return err
	}

	// The subscription ends with runCtx, which also ends when Serve fails.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Provision(runCtx); err != nil {
		return err
	}
	a.Dashboards(runCtx)

	// Subscribe only once Serve is about to consume the events. Reloading after
	// subscribing covers the changes made while provisioning.
	events, err := ws.SubscribeEvents(runCtx)
	if err != nil {
		return err
	}
	if err := a.LoadStates(runCtx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Serve(runCtx, events)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ws.Done():
		cancel()
		<-serveErr
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("lost connection to Home Assistant: %w", hass.ErrNotConnected)
	}
}

func resolveURL(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Hass.URL != "" {
		return cfg.Hass.URL, nil
	}

	instance, err := discovery.Find(ctx, cfg.Hass.DiscoverTimeout)
	if err != nil {
		return "", fmt.Errorf("failed to discover Home Assistant: %w", err)
	}
	return instance.URL, nil
}

func newPublisher(cfg *config.Config, host *hass.Host) (status.Publisher, func(), error) {
	if cfg.Publisher.Kind != config.PublisherMQTT {
		return publish.NewRESTPublisher(host), func() {}, nil
	}

	p, closeFn, err := publish.ConnectMQTT(cfg.MQTTOptions())
	if err != nil {
		return nil, nil, err
	}
	return p, closeFn, nil
}

func newJournal(cfg *config.Config) (*journal.Journal, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}

	client, err := clickhouse.NewClient(cfg.Journal.URL, cfg.Journal.Username, cfg.Journal.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal client: %w", err)
	}

	dogs, err := cfg.DogList()
	if err != nil {
		return nil, err
	}
	ids := make([]dog.ID, len(dogs))
	for i, d := range dogs {
		ids[i] = d.ID
	}

	return journal.New(client, ids, journal.Options{
		Database:      cfg.Journal.Database,
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
	}), nil
}
