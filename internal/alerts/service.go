package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/events"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/pricecache"
	"github.com/atharvakonge/crypto-portfolio-tracker/internal/store"
)

// Prices gives the service the current price view
type Prices interface {
	Snapshot() *pricecache.Snapshot
}

// Service owns alert definitions. A fired alert is switched off so an
// unchanged price does not fire it again on the next check.
type Service struct {
	store    store.AlertStore
	prices   Prices
	log      zerolog.Logger
	now      func() time.Time
	triggers *events.Broker[models.Trigger]

	mu sync.Mutex // one Check at a time
}

// Option customises a Service
type Option func(*Service)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates an alert service
func NewService(st store.AlertStore, prices Prices, opts ...Option) *Service {
	s := &Service{
		store:    st,
		prices:   prices,
		log:      zerolog.Nop(),
		now:      time.Now,
		triggers: events.NewBroker[models.Trigger](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates and stores a new active alert
func (s *Service) Create(ctx context.Context, req models.AlertRequest) (models.Alert, error) {
	coinID := strings.TrimSpace(req.CoinID)
	if coinID == "" {
		return models.Alert{}, fmt.Errorf("%w: coin id is required", models.ErrInvalidAlert)
	}
	if !req.Direction.Valid() {
		return models.Alert{}, fmt.Errorf("%w: direction must be %s or %s, got %q",
			models.ErrInvalidAlert, models.DirectionAbove, models.DirectionBelow, req.Direction)
	}
	if !req.Threshold.IsPositive() {
		return models.Alert{}, fmt.Errorf("%w: threshold must be positive", models.ErrInvalidAlert)
	}

	a := models.Alert{
		ID:        uuid.NewString(),
		CoinID:    coinID,
		Threshold: req.Threshold,
		Direction: req.Direction,
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return models.Alert{}, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	s.log.Info().Str("id", a.ID).Str("coin", a.CoinID).Str("direction", string(a.Direction)).
		Str("threshold", a.Threshold.String()).Msg("alert created")
	return a, nil
}

// List returns every alert, oldest first
func (s *Service) List(ctx context.Context) ([]models.Alert, error) {
	as, err := s.store.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}
	return as, nil
}

// Delete removes an alert
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAlert(ctx, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// Reactivate switches a fired alert back on
func (s *Service) Reactivate(ctx context.Context, id string) (models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.store.Alert(ctx, id)
	if err != nil {
		return models.Alert{}, storeErr(err)
	}
	if a.Active {
		return a, nil
	}
	a.Active = true
	if err := s.store.UpdateAlert(ctx, a); err != nil {
		return models.Alert{}, storeErr(err)
	}
	return a, nil
}

// Subscribe registers fn for every fired alert
func (s *Service) Subscribe(fn func(models.Trigger)) (cancel func()) {
	return s.triggers.Subscribe(fn)
}

// Triggers exposes the trigger broker for forwarding
func (s *Service) Triggers() *events.Broker[models.Trigger] {
	return s.triggers
}

// Check evaluates every active alert against the current price snapshot,
// switches off the ones that fired and publishes their triggers.
// Nothing fires while no prices are loaded.
func (s *Service) Check(ctx context.Context) ([]models.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.prices.Snapshot()
	if snap == nil {
		return nil, nil
	}
	as, err := s.store.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
	}

	fired := Evaluate(snap.Coins(), as)
	out := make([]models.Trigger, 0, len(fired))
	var errs []error
	for _, tr := range fired {
		at := s.now().UTC()
		tr.Alert.Active = false
		tr.Alert.LastTriggeredAt = &at
		if err := s.store.UpdateAlert(ctx, tr.Alert); err != nil {
			// left active; it fires again on the next check
			s.log.Error().Err(err).Str("id", tr.Alert.ID).Msg("mark alert fired failed")
			errs = append(errs, err)
			continue
		}
		s.log.Info().Str("id", tr.Alert.ID).Str("coin", tr.Coin.ID).Str("price", tr.Price.String()).
			Str("direction", string(tr.Alert.Direction)).Str("threshold", tr.Alert.Threshold.String()).
			Msg("alert fired")
		s.triggers.Publish(tr)
		out = append(out, tr)
	}
	if len(errs) > 0 {
		return out, fmt.Errorf("%w: %w", models.ErrStorageFailure, errors.Join(errs...))
	}
	return out, nil
}

func storeErr(err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStorageFailure, err)
}
