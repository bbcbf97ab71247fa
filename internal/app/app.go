// Package app assembles the agent from configuration. Both the Lambda and
// the long-running server start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/MoonshotLab/carmen/handler"
	"github.com/MoonshotLab/carmen/internal/catalog"
	"github.com/MoonshotLab/carmen/internal/config"
	"github.com/MoonshotLab/carmen/internal/integrations/paramstore"
	"github.com/MoonshotLab/carmen/internal/integrations/twilio"
	"github.com/MoonshotLab/carmen/internal/intent"
	"github.com/MoonshotLab/carmen/internal/repository"
	"github.com/MoonshotLab/carmen/internal/repository/sqlite"
	"github.com/MoonshotLab/carmen/internal/session"
	"github.com/MoonshotLab/carmen/internal/stats"
	"github.com/MoonshotLab/carmen/internal/usecase"
)

// Store is what the agent persists: user profiles and stats.
type Store interface {
	usecase.ProfileStore
	stats.Store
}

type App struct {
	Handler  *handler.Handler
	Engine   *usecase.Engine
	Stats    *stats.Aggregator
	Sessions *session.Manager
	Rooms    int

	closers  []func() error
	inflight sync.WaitGroup
}

type Option func(*options)

type options struct {
	loadAWS    func(ctx context.Context) (aws.Config, error)
	background bool
}

// WithAWSLoader replaces the default AWS SDK config loader.
func WithAWSLoader(f func(ctx context.Context) (aws.Config, error)) Option {
	return func(o *options) {
		o.loadAWS = f
	}
}

// WithBackgroundDelivery sends replies after the webhook has returned.
func WithBackgroundDelivery() Option {
	return func(o *options) {
		o.background = true
	}
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	o := &options{
		loadAWS: func(ctx context.Context) (aws.Config, error) {
			return awsconfig.LoadDefaultConfig(ctx)
		},
	}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{}
	clients := &awsClients{load: o.loadAWS}

	store, err := a.openStore(ctx, cfg, clients)
	if err != nil {
		a.Close()
		return nil, err
	}

	cat, err := loadCatalog(ctx, cfg, clients)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Rooms = cat.Len()

	resolver := intent.NewResolver(cat.Rooms(), intent.WithThreshold(cfg.FuzzyThreshold))
	a.Sessions = session.NewManager(resolver,
		session.WithTimeout(cfg.DisambiguationTimeout),
		session.WithExpiryHook(func(p session.Pending) {
			slog.Info("question expired", "from", p.ConversationID, "room", p.Candidate.Name)
		}),
	)

	a.Stats = stats.New(store)
	if err := a.Stats.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	sender, err := newTwilio(ctx, cfg, clients)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Engine, err = usecase.NewEngine(resolver, a.Sessions, store, a.Stats,
		usecase.WithSender(sender),
		usecase.WithSiteURL(cfg.SiteURL),
		usecase.WithFollowUpDelay(cfg.FollowUpDelay),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	handlerOpts := []handler.Option{
		handler.WithSignatureCheck(sender, cfg.WebhookURL),
		handler.WithAdminToken(cfg.AdminToken),
		handler.WithContactCard(handler.ContactCard{
			Name:         cfg.VCardName,
			Organization: cfg.VCardOrganization,
			Phone:        cfg.VCardPhone,
			PhotoURL:     cfg.VCardPhotoURL,
			Street:       cfg.VCardStreet,
			City:         cfg.VCardCity,
			Region:       cfg.VCardRegion,
			PostalCode:   cfg.VCardPostalCode,
		}),
	}
	if o.background {
		handlerOpts = append(handlerOpts, handler.WithBackgroundDelivery(a.goTracked))
	}
	a.Handler, err = handler.NewHandler(a.Engine, a.Stats, handlerOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	slog.Info("agent ready", "backend", cfg.StoreBackend, "rooms", a.Rooms,
		"fuzzyThreshold", cfg.FuzzyThreshold, "timeout", cfg.DisambiguationTimeout)
	return a, nil
}

// Wait blocks until background deliveries finish or ctx is done.
func (a *App) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) goTracked(f func()) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		f()
	}()
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, clients *awsClients) (Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.BackendDynamoDB:
		api, err := clients.dynamoDB(ctx)
		if err != nil {
			return nil, err
		}
		c, err := repository.New(api, cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: open store: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
}

func loadCatalog(ctx context.Context, cfg *config.Config, clients *awsClients) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		cat, err := catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		return cat, nil
	}
	params, err := clients.paramStore(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.LoadParameter(ctx, params, cfg.CatalogParameter())
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return cat, nil
}

func newTwilio(ctx context.Context, cfg *config.Config, clients *awsClients) (*twilio.Client, error) {
	var opts []twilio.Option
	if cfg.TwilioAuthToken != "" {
		opts = append(opts, twilio.WithAuthToken(cfg.TwilioAuthToken))
	} else {
		params, err := clients.paramStore(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, twilio.WithParamStore(params, cfg.TwilioTokenParameter()))
	}
	c, err := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioNumber, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return c, nil
}

// awsClients loads the SDK config once, and only when a component needs it.
type awsClients struct {
	load func(ctx context.Context) (aws.Config, error)

	cfg    *aws.Config
	params *paramstore.Client
}

func (c *awsClients) sdkConfig(ctx context.Context) (aws.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := c.load(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	c.cfg = &cfg
	return cfg, nil
}

func (c *awsClients) dynamoDB(ctx context.Context) (*awsdynamodb.Client, error) {
	cfg, err := c.sdkConfig(ctx)
	if err != nil {
		return nil, err
	}
	return awsdynamodb.NewFromConfig(cfg), nil
}

func (c *awsClients) paramStore(ctx context.Context) (*paramstore.Client, error) {
	if c.params != nil {
		return c.params, nil
	}
	cfg, err := c.sdkConfig(ctx)
	if err != nil {
		return nil, err
	}
	p, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	c.params = p
	return p, nil
}
