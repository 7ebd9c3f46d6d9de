package handlers

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atharvakonge/crypto-portfolio-tracker/internal/models"
)

// ErrProcessorStopped is returned for trades submitted after Stop
var ErrProcessorStopped = errors.New("trade processor stopped")

// Trader executes buy and sell orders
type Trader interface {
	Execute(ctx context.Context, side models.TradeType, coinID string, quantity, price decimal.Decimal) (models.TradeReceipt, error)
}

// Order is one trade to be processed
type Order struct {
	Side     models.TradeType
	CoinID   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// TradeResult represents result of a trade operation
type TradeResult struct {
	Receipt models.TradeReceipt
	Err     error
}

type tradeJob struct {
	ctx      context.Context
	order    Order
	resultCh chan TradeResult // Channel to send result back
}

// TradeProcessor handles concurrent trade processing
type TradeProcessor struct {
	workers    int
	trader     Trader
	tradeQueue chan tradeJob
	stopCh     chan struct{}
	doneCh     chan struct{} // closed once every worker has exited
	stopOnce   sync.Once
	wg         sync.WaitGroup
	log        zerolog.Logger
}

// NewTradeProcessor creates a new trade processor with worker pool
func NewTradeProcessor(workers int, trader Trader, log zerolog.Logger) *TradeProcessor {
	if workers < 1 {
		workers = 1
	}
	return &TradeProcessor{
		workers:    workers,
		trader:     trader,
		tradeQueue: make(chan tradeJob, 100), // Buffer of 100 trades
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		log:        log,
	}
}

// Start starts the worker pool
func (tp *TradeProcessor) Start() {
	for i := 0; i < tp.workers; i++ {
		tp.wg.Add(1)
		go tp.worker(i)
	}
	tp.log.Info().Int("workers", tp.workers).Msg("trade workers started")
}

// Stop gracefully stops all workers. Trades already picked up finish first.
func (tp *TradeProcessor) Stop() {
	tp.stopOnce.Do(func() {
		close(tp.stopCh)
		tp.wg.Wait()
		close(tp.doneCh)
		tp.log.Info().Msg("trade processor stopped")
	})
}

// worker processes trades from the queue
func (tp *TradeProcessor) worker(id int) {
	defer tp.wg.Done()

	for {
		select {
		case <-tp.stopCh:
			tp.log.Debug().Int("worker", id).Msg("worker stopping")
			return

		case job := <-tp.tradeQueue:
			tp.log.Debug().Int("worker", id).Str("side", string(job.order.Side)).
				Str("coin", job.order.CoinID).Str("quantity", job.order.Quantity.String()).
				Msg("processing trade")
			job.resultCh <- tp.processTrade(job)
		}
	}
}

// processTrade executes a single trade. Callers that gave up while the
// order was queued are skipped.
func (tp *TradeProcessor) processTrade(job tradeJob) TradeResult {
	if err := job.ctx.Err(); err != nil {
		return TradeResult{Err: err}
	}

	o := job.order
	r, err := tp.trader.Execute(job.ctx, o.Side, o.CoinID, o.Quantity, o.Price)
	return TradeResult{Receipt: r, Err: err}
}

// SubmitTrade submits a trade to the processing queue and waits for its result
func (tp *TradeProcessor) SubmitTrade(ctx context.Context, o Order) (models.TradeReceipt, error) {
	resultCh := make(chan TradeResult, 1)

	// Send trade to queue
	select {
	case tp.tradeQueue <- tradeJob{ctx: ctx, order: o, resultCh: resultCh}:
	case <-tp.stopCh:
		return models.TradeReceipt{}, ErrProcessorStopped
	case <-ctx.Done():
		return models.TradeReceipt{}, ctx.Err()
	}

	// Wait for result
	select {
	case res := <-resultCh:
		return res.Receipt, res.Err
	case <-tp.doneCh:
		// queued but never picked up
		select {
		case res := <-resultCh:
			return res.Receipt, res.Err
		default:
			return models.TradeReceipt{}, ErrProcessorStopped
		}
	case <-ctx.Done():
		return models.TradeReceipt{}, ctx.Err()
	}
}
