package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"

	"switchboard/pkg/agent"
	"switchboard/pkg/bus"
	"switchboard/pkg/channel"
	"switchboard/pkg/channel/simulate"
	"switchboard/pkg/channel/telegram"
	"switchboard/pkg/channel/web"
	"switchboard/pkg/config"
	"switchboard/pkg/provider"
	"switchboard/pkg/replies"
	"switchboard/pkg/router"
	"switchboard/pkg/store"
	"switchboard/pkg/store/memstore"
	"switchboard/pkg/store/sqlstore"
)

// Option overrides a collaborator Build would otherwise derive from config.
type Option func(*buildOptions)

type buildOptions struct {
	provider       provider.Client
	store          store.Store
	telegramSender telegram.MessageSender
	updateSource   telegram.UpdateSource
}

func WithProvider(client provider.Client) Option {
	return func(o *buildOptions) {
		o.provider = client
	}
}

func WithStore(st store.Store) Option {
	return func(o *buildOptions) {
		o.store = st
	}
}

// WithTelegram replaces the Bot API client used for replies and polling.
func WithTelegram(sender telegram.MessageSender, source telegram.UpdateSource) Option {
	return func(o *buildOptions) {
		o.telegramSender = sender
		o.updateSource = source
	}
}

// App is a fully wired gateway and the resources it owns.
type App struct {
	Service  *Service
	Bus      *bus.MessageBus
	Store    store.Store
	Registry *replies.Registry

	closers []func() error
}

// Close waits briefly for in-flight workers, then releases the queue and
// storage.
func (a *App) Close() error {
	if a.Service != nil {
		a.Service.Drain(shutdownTimeout)
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires every enabled channel, the queue, the dispatcher and its worker,
// storage and the model engine from cfg.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{}
	fail := func(err error) (*App, error) {
		_ = app.Close()
		return nil, err
	}

	client := o.provider
	if client == nil {
		var err error
		client, err = provider.New(cfg.Provider)
		if err != nil {
			return fail(fmt.Errorf("initialize provider: %w", err))
		}
	}

	st := o.store
	if st == nil {
		var err error
		st, err = openStore(ctx, cfg.Storage)
		if err != nil {
			return fail(err)
		}
	}
	app.Store = st
	app.closers = append(app.closers, st.Close)

	messageBus := bus.NewMessageBus(bus.WithCapacity(cfg.Dispatch.QueueCapacity))
	app.Bus = messageBus
	app.closers = append(app.closers, func() error {
		messageBus.Close()
		return nil
	})

	registry := replies.NewRegistry(log)
	app.Registry = registry

	deps := Deps{
		Provider: client,
		Store:    st,
		Queue:    messageBus,
		Background: []func(context.Context){
			func(ctx context.Context) { agent.ObserveEvents(ctx, messageBus, log) },
		},
	}
	senders := map[bus.Platform]router.Sender{}

	if cfg.Channels.Telegram.Enabled {
		if err := wireTelegram(cfg.Channels.Telegram, &o, messageBus, &deps, senders, log); err != nil {
			return fail(err)
		}
	}

	if cfg.Channels.Web.Enabled {
		producer, err := channel.NewProducer[web.Payload](cfg.Channels.Web.TenantID, web.Normalizer{}, messageBus, log)
		if err != nil {
			return fail(fmt.Errorf("web producer: %w", err))
		}
		deps.Routes = append(deps.Routes, channel.Route{
			Name:    "web",
			Pattern: "GET /ws/chat/{client_id}",
			Handler: web.NewEndpoint(producer, registry, cfg.Channels.Web.AllowedOrigins, log),
		})
		senders[bus.PlatformWeb] = router.Mailboxes(registry.Deliver)
	}

	if cfg.Channels.Simulator.Enabled {
		tenant := cfg.Channels.Simulator.TenantID
		if tenant == "" {
			tenant = config.DefaultSimulatorTenant
		}
		producer, err := channel.NewProducer[bus.InboundMessage](tenant, simulate.Normalizer{}, messageBus, log)
		if err != nil {
			return fail(fmt.Errorf("simulator producer: %w", err))
		}
		deps.Routes = append(deps.Routes, channel.Route{
			Name:    "simulator",
			Pattern: "POST /simulate/message",
			Handler: simulate.NewHandler(producer, messageBus, log),
		})
	}

	engine := provider.NewEngine(client, cfg.SystemPromptFor, cfg.Provider.FallbackMessage, log)
	worker := agent.NewWorker(st, engine, router.New(senders, log), log,
		agent.WithEvents(messageBus),
		agent.WithHistoryLimit(cfg.Dispatch.HistoryLimit),
	)
	deps.Dispatcher = agent.NewDispatcher(messageBus, worker, cfg.Dispatch.MaxWorkers, log)

	svc, err := NewService(cfg, deps, log)
	if err != nil {
		return fail(err)
	}
	app.Service = svc

	return app, nil
}

func wireTelegram(cfg config.TelegramConfig, o *buildOptions, messageBus *bus.MessageBus, deps *Deps, senders map[bus.Platform]router.Sender, log *slog.Logger) error {
	sender, source := o.telegramSender, o.updateSource
	if sender == nil && cfg.Token != "" {
		bot, err := telegram.NewBot(cfg)
		if err != nil {
			return err
		}
		sender = bot
		if source == nil {
			source = bot
		}
	}

	producer, err := channel.NewProducer[telego.Update](cfg.TenantID, telegram.Normalizer{}, messageBus, log)
	if err != nil {
		return fmt.Errorf("telegram producer: %w", err)
	}

	if cfg.Mode == config.TelegramModePolling {
		adapter, err := telegram.NewAdapter(source, producer, log)
		if err != nil {
			return fmt.Errorf("telegram polling: %w", err)
		}
		deps.Adapters = append(deps.Adapters, adapter)
	} else {
		deps.Routes = append(deps.Routes, channel.Route{
			Name:    "telegram",
			Pattern: "POST /webhook/telegram",
			Handler: telegram.NewWebhook(producer, cfg.WebhookSecret, log),
		})
	}

	senders[bus.PlatformTelegram] = telegram.NewResponder(sender, log)
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	if cfg.Driver == "" || cfg.Driver == config.StorageMemory {
		return memstore.New(), nil
	}

	st, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return st, nil
}
