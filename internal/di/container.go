package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/printfield/api/internal/payments"
	"github.com/printfield/api/internal/platform/config"
	"github.com/printfield/api/internal/repositories"
	"github.com/printfield/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders     services.OrderService
	Issues     services.IssueService
	Messages   services.IssueMessageService
	Stats      services.IssueStatsService
	Ledger     services.LedgerService
	Accounting services.AccountingDispatcher
}

// Dependencies carries the external collaborators the service layer needs
// beyond the repository registry.
type Dependencies struct {
	Gateway     payments.Provider
	OrderEvents services.OrderEventPublisher
	IssueEvents services.IssueEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	dispatcher *services.BackgroundAccountingDispatcher
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Dependencies) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	ledgerSvc, err := services.NewLedgerService(services.LedgerServiceDeps{
		Ledger: reg.Ledger(),
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build ledger service: %w", err)
	}

	dispatcher, err := services.NewAccountingDispatcher(services.AccountingDispatcherDeps{
		Ledger:    ledgerSvc,
		QueueSize: cfg.Accounting.QueueSize,
		Timeout:   cfg.Accounting.TaskTimeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build accounting dispatcher: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Items:      reg.OrderItems(),
		Payments:   reg.Payments(),
		UnitOfWork: reg,
		Accounting: dispatcher,
		Clock:      time.Now,
		Events:     deps.OrderEvents,
		Logger:     logger,
	})
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("build order service: %w", err)
	}

	issueSvc, err := services.NewIssueService(services.IssueServiceDeps{
		Issues:     reg.Issues(),
		Messages:   reg.IssueMessages(),
		Orders:     reg.Orders(),
		Items:      reg.OrderItems(),
		Payments:   reg.Payments(),
		Counters:   reg.Counters(),
		Gateway:    deps.Gateway,
		UnitOfWork: reg,
		Accounting: dispatcher,
		Events:     deps.IssueEvents,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("build issue service: %w", err)
	}

	messageSvc, err := services.NewIssueMessageService(services.IssueMessageServiceDeps{
		Issues:     reg.Issues(),
		Messages:   reg.IssueMessages(),
		UnitOfWork: reg,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("build issue message service: %w", err)
	}

	statsSvc, err := services.NewIssueStatsService(services.IssueStatsServiceDeps{
		Issues:   reg.Issues(),
		Messages: reg.IssueMessages(),
		Logger:   logger,
	})
	if err != nil {
		dispatcher.Close()
		return nil, fmt.Errorf("build issue stats service: %w", err)
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services: Services{
			Orders:     orderSvc,
			Issues:     issueSvc,
			Messages:   messageSvc,
			Stats:      statsSvc,
			Ledger:     ledgerSvc,
			Accounting: dispatcher,
		},
		dispatcher: dispatcher,
	}, nil
}

// Close drains the accounting queue and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.dispatcher != nil {
		c.dispatcher.Close()
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}
