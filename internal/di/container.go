package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/oakmart/storefront-api/internal/domain"
	"github.com/oakmart/storefront-api/internal/payments"
	"github.com/oakmart/storefront-api/internal/platform/config"
	"github.com/oakmart/storefront-api/internal/platform/intentstore"
	"github.com/oakmart/storefront-api/internal/repositories"
	"github.com/oakmart/storefront-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout services.CheckoutService
	System   services.SystemService
}

// ContainerDeps carries the externally constructed collaborators.
type ContainerDeps struct {
	Config       config.Config
	Repositories repositories.Registry
	Pointers     intentstore.Store
	// StripeAPI is built from Config.Stripe.APIKey when nil.
	StripeAPI *client.API
	// Events may be nil; checkout then skips event publication.
	Events services.PaymentEventPublisher
	// Subscriptions may be nil; recurring products are then billed nowhere
	// and their totals stay on the payment intent.
	Subscriptions payments.SubscriptionAdapter
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and payment infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Pointers     intentstore.Store

	// Lifecycles builds a fresh payment lifecycle manager per checkout attempt.
	Lifecycles services.PaymentLifecycleFactory
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and pointer stores.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Pointers == nil {
		return nil, errors.New("intent pointer store is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	api := deps.StripeAPI
	if api == nil {
		api = &client.API{}
		api.Init(deps.Config.Stripe.APIKey, nil)
	}

	stripeClient, err := payments.NewStripeClient(payments.StripeClientDeps{
		API:           api,
		Logger:        logger,
		Level3Enabled: deps.Config.Stripe.Level3Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("build stripe client: %w", err)
	}

	paramBuilder, err := payments.NewParamBuilder(payments.ParamBuilderDeps{
		Config: payments.ParamBuilderConfig{
			CaptureMethod:       deps.Config.Stripe.CaptureMethod,
			PaymentMethodTypes:  deps.Config.Stripe.PaymentMethodTypes,
			StatementDescriptor: deps.Config.Stripe.StatementDescriptor,
			SendReceipts:        deps.Config.Stripe.SendReceipts,
			Level3Enabled:       deps.Config.Stripe.Level3Enabled,
			ShippingFromZip:     deps.Config.Stripe.ShippingFromZip,
			MetadataTemplate:    deps.Config.Stripe.Metadata,
		},
		Addresses:     addressLoader{repo: deps.Repositories.Addresses()},
		Subscriptions: deps.Subscriptions,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build param builder: %w", err)
	}

	rollback, err := payments.NewRollbackRecorder(payments.RollbackRecorderDeps{
		Store:  deps.Repositories.Rollbacks(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build rollback recorder: %w", err)
	}

	managerCfg := payments.ManagerConfig{
		MOTOExemptionsEnabled:          deps.Config.Checkout.MOTOExemptionsEnabled,
		MultishippingAuthorizationPath: deps.Config.Checkout.MultishippingAuthorizationPath,
	}
	records := intentRecordStore{repo: deps.Repositories.IntentRecords()}
	pointers := deps.Pointers
	subscriptions := deps.Subscriptions

	lifecycles := services.PaymentLifecycleFactory(func() (services.PaymentLifecycle, error) {
		return payments.NewManager(payments.ManagerDeps{
			Client:        stripeClient,
			Cards:         stripeClient,
			SetupIntents:  stripeClient,
			Pointers:      pointers,
			Params:        paramBuilder,
			Subscriptions: subscriptions,
			Rollback:      rollback,
			Records:       records,
			Config:        managerCfg,
			Logger:        logger,
		})
	})

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Quotes:        deps.Repositories.Quotes(),
		Orders:        deps.Repositories.Orders(),
		IntentRecords: deps.Repositories.IntentRecords(),
		Payments:      lifecycles,
		Events:        deps.Events,
		Clock:         time.Now,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: deps.Repositories.Health(),
		Clock:            time.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services: Services{
			Checkout: checkoutSvc,
			System:   systemSvc,
		},
		Pointers:   deps.Pointers,
		Lifecycles: lifecycles,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// addressLoader adapts the address repository to the param builder contract.
type addressLoader struct {
	repo repositories.AddressRepository
}

func (l addressLoader) LoadAddress(ctx context.Context, addressID string) (*domain.Address, error) {
	if l.repo == nil {
		return nil, errors.New("address repository not configured")
	}
	addr, err := l.repo.Get(ctx, addressID)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// intentRecordStore adapts the intent record repository to the manager contract.
type intentRecordStore struct {
	repo repositories.IntentRecordRepository
}

func (s intentRecordStore) SaveIntentRecord(ctx context.Context, record payments.IntentRecord) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Save(ctx, record)
}
