// Package batch runs the daily standing-order job: it walks every customer,
// derives today's line items from the stored preferences, creates draft
// orders, and accumulates per-customer results and failures.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nordbrew/standing-orders/pkg/admin"
	"github.com/nordbrew/standing-orders/pkg/logging"
	"github.com/nordbrew/standing-orders/pkg/pagination"
	"github.com/nordbrew/standing-orders/pkg/prefs"
)

// Prometheus metrics for batch runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "standing_orders_batch_runs_total",
		Help: "Total batch runs by outcome",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "standing_orders_batch_run_duration_seconds",
		Help:    "Batch run duration in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})

	draftsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "standing_orders_batch_drafts_created_total",
		Help: "Total draft orders created by batch runs",
	})

	customerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "standing_orders_batch_customer_failures_total",
		Help: "Total per-customer failures recorded during batch runs",
	})
)

// consecutiveFailureTrip is the number of consecutive customer failures that
// aborts a run as systemic rather than per-customer.
const consecutiveFailureTrip = 5

// Result records one created draft order.
type Result struct {
	CustomerID   int64 `json:"customerId"`
	DraftOrderID int64 `json:"draftId"`
}

// Failure records one customer whose cycle failed; the run continues past it.
type Failure struct {
	CustomerID int64  `json:"customerId"`
	Err        string `json:"error"`
}

// Report is the outcome of one batch run. It lives only for the duration of
// the triggering request; nothing is persisted locally.
type Report struct {
	RunID   string    `json:"runId"`
	Weekday string    `json:"weekday"`
	Created []Result  `json:"created"`
	Failed  []Failure `json:"failed,omitempty"`
	Skipped int       `json:"skipped"`
}

// Orchestrator drives the daily job. Customers are processed strictly in
// sequence; each customer's full cycle completes before the next starts,
// which bounds remote-side load at the cost of total run time.
type Orchestrator struct {
	api     *admin.Client
	prefs   *prefs.Store
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an orchestrator. The circuit breaker isolates per-customer
// failures from systemic ones: a single bad customer is recorded and
// skipped, but consecutive failures across customers trip the breaker and
// abort the run early (repeated auth failures, platform outage).
func New(api *admin.Client, store *prefs.Store) *Orchestrator {
	logger := logging.NewLogger("batch")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "standing-orders-run",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailureTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Orchestrator{
		api:     api,
		prefs:   store,
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock sets the wall-clock source (for testing weekday selection).
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// RunDaily executes one batch run for the current weekday. The returned
// report is always non-nil and holds whatever was accomplished; a non-nil
// error means the run ended early (customer listing failed, or the breaker
// tripped) and the report is partial. Already-created draft orders are never
// rolled back.
func (o *Orchestrator) RunDaily(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Weekday: WeekdayKey(o.now()),
		Created: []Result{},
		Failed:  []Failure{},
	}

	logger := o.logger.With().
		Str("run_id", report.RunID).
		Str("weekday", report.Weekday).
		Logger()

	logger.Info().Msg("starting standing-order run")
	start := time.Now()
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
	}()

	iterator := pagination.NewIterator(o.api)
	for iterator.Next(ctx) {
		customerID := iterator.ID()

		created, err := o.breaker.Execute(func() (any, error) {
			return o.processCustomer(ctx, logger, customerID, report.Weekday)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				logger.Error().
					Int("consecutive_failures", consecutiveFailureTrip).
					Msg("aborting run: consecutive customer failures look systemic")
				runsTotal.WithLabelValues("aborted").Inc()
				return report, fmt.Errorf("run aborted after %d consecutive customer failures", consecutiveFailureTrip)
			}

			customerFailuresTotal.Inc()
			report.Failed = append(report.Failed, Failure{CustomerID: customerID, Err: err.Error()})
			logger.Warn().
				Int64("customer_id", customerID).
				Err(err).
				Msg("customer cycle failed, continuing run")
			continue
		}

		draftOrderID := created.(int64)
		if draftOrderID == 0 {
			report.Skipped++
			continue
		}

		draftsCreatedTotal.Inc()
		report.Created = append(report.Created, Result{CustomerID: customerID, DraftOrderID: draftOrderID})
	}

	if err := iterator.Err(); err != nil {
		logger.Error().Err(err).Msg("customer listing failed, run incomplete")
		runsTotal.WithLabelValues("failed").Inc()
		return report, fmt.Errorf("customer listing failed: %w", err)
	}

	logger.Info().
		Int("created", len(report.Created)).
		Int("failed", len(report.Failed)).
		Int("skipped", report.Skipped).
		Dur("duration", time.Since(start)).
		Msg("standing-order run complete")
	runsTotal.WithLabelValues("completed").Inc()

	return report, nil
}

// processCustomer runs one customer's full cycle: fetch preferences, build
// today's line items, create the draft order, send its invoice. A zero
// return with nil error means the customer was skipped (no document or
// nothing wanted today).
func (o *Orchestrator) processCustomer(ctx context.Context, logger zerolog.Logger, customerID int64, weekday string) (int64, error) {
	raw, err := o.prefs.Get(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, nil
	}

	doc := prefs.DecodeDocument(raw)
	items := lineItems(doc, weekday)
	if len(items) == 0 {
		return 0, nil
	}

	draftOrderID, err := o.api.CreateDraftOrder(ctx, admin.DraftOrder{
		LineItems:                 items,
		Customer:                  admin.CustomerRef{ID: customerID},
		UseCustomerDefaultAddress: true,
		Note:                      "Standing order (" + weekday + ")",
	})
	if err != nil {
		return 0, err
	}

	if err := o.api.SendDraftOrderInvoice(ctx, draftOrderID); err != nil {
		// The draft exists remotely, so the customer still counts as
		// created; the invoice can be re-sent by hand.
		logger.Warn().
			Int64("customer_id", customerID).
			Int64("draft_order_id", draftOrderID).
			Err(err).
			Msg("draft order created but invoice send failed")
	}

	return draftOrderID, nil
}

// lineItems builds the draft order lines for one weekday, keeping only
// positive quantities.
func lineItems(doc prefs.Document, weekday string) []admin.LineItem {
	var items []admin.LineItem
	for _, product := range doc.Products {
		quantity := product.Quantity(weekday)
		if quantity <= 0 {
			continue
		}
		items = append(items, admin.LineItem{VariantID: product.VariantID, Quantity: quantity})
	}
	return items
}
