// Package graph provides GraphQL resolvers for the patrol agent.
// It serves as dependency injection for the running device components.
package graph

import (
	"log/slog"
	"time"

	"github.com/raphaelgruber/patrolsync/internal/metrics"
	"github.com/raphaelgruber/patrolsync/internal/service"
)

// DefaultStatusInterval is how often the status subscription pushes an update.
const DefaultStatusInterval = 5 * time.Second

// Components are the running services the API exposes.
type Components struct {
	Session    *service.Session
	Submitter  *service.Submitter
	Manual     *service.ManualRounds
	Reconciler *service.Reconciler
	Status     service.StatusReporter
	Metrics    *metrics.Collector
}

// Resolver is the root resolver with all dependencies.
type Resolver struct {
	c      Components
	logger *slog.Logger

	// StatusInterval is the push period of the status subscription.
	StatusInterval time.Duration
}

// NewResolver creates a resolver over the device components.
func NewResolver(c Components, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		c:              c,
		logger:         logger,
		StatusInterval: DefaultStatusInterval,
	}
}

// Query returns the query resolver.
func (r *Resolver) Query() QueryResolver { return &queryResolver{r} }

// Mutation returns the mutation resolver.
func (r *Resolver) Mutation() MutationResolver { return &mutationResolver{r} }

// Subscription returns the subscription resolver.
func (r *Resolver) Subscription() SubscriptionResolver { return &subscriptionResolver{r} }

type queryResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }
