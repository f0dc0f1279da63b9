package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/metrics"
	"example.com/storesync/internal/models"
	"example.com/storesync/internal/render"
	"example.com/storesync/internal/repositories"
	"example.com/storesync/internal/search"
	"example.com/storesync/internal/status"
	"example.com/storesync/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OrdersName is the order fulfillment pipeline identifier.
const OrdersName = "orders"

// OrderStore is the slice of the remote store client the fulfillment
// pipeline talks to.
type OrderStore interface {
	FetchUnprinted(ctx context.Context) ([]models.Order, error)
	MarkPrinted(ctx context.Context, id string, pdfPath string) (bool, error)
}

// OrderRenderer produces the fulfillment document for one order.
type OrderRenderer interface {
	Render(order *models.Order) ([]byte, string, error)
}

// LabelFetcher requests a carrier shipping label for an order; the returned
// path points at the saved label document.
type LabelFetcher interface {
	FetchLabel(ctx context.Context, order *models.Order, destDir string) (string, error)
}

// PrintDispatcher hands a finished document to the OS print subsystem.
type PrintDispatcher interface {
	Dispatch(path string) error
}

// OrdersPipeline polls the remote store for unprinted orders, renders each
// into a PDF, writes it atomically and commits the printed flag with a
// conditional update. The ordering is the invariant: printed is never set
// before the document is durably on disk, and a not-applied conditional
// update means another cycle already won, which is success.
type OrdersPipeline struct {
	outDir  string
	store   OrderStore
	render  OrderRenderer
	tracker *status.Tracker
	metrics *metrics.Metrics
	tracer  tracing.Tracer
	search  *search.ElasticClient
	labels  LabelFetcher
	printer PrintDispatcher

	guard runGuard
}

// NewOrdersPipeline creates the order fulfillment pipeline. labels, printer
// and es are optional collaborators; pass nil to disable them.
func NewOrdersPipeline(
	cfg config.Config,
	store OrderStore,
	renderer OrderRenderer,
	tracker *status.Tracker,
	m *metrics.Metrics,
	tracer tracing.Tracer,
	es *search.ElasticClient,
	labels LabelFetcher,
	printer PrintDispatcher,
) *OrdersPipeline {
	return &OrdersPipeline{
		outDir:  cfg.Output.PDFDir,
		store:   store,
		render:  renderer,
		tracker: tracker,
		metrics: m,
		tracer:  tracer,
		search:  es,
		labels:  labels,
		printer: printer,
	}
}

// Name returns the pipeline identifier.
func (p *OrdersPipeline) Name() string { return OrdersName }

// RunCycle runs one poll-to-commit cycle. It returns false when a cycle was
// already running and this trigger was coalesced away.
func (p *OrdersPipeline) RunCycle(ctx context.Context) bool {
	if !p.guard.tryStart() {
		log.Debug().Str("pipeline", OrdersName).Msg("Cycle already running, trigger coalesced")
		return false
	}
	defer p.guard.finish()
	defer recoverCycle(OrdersName)

	if p.tracer != nil {
		txn := p.tracer.StartTransaction("order-fulfillment-cycle")
		defer p.tracer.EndTransaction(txn)
	}

	if p.metrics != nil {
		p.metrics.IncrementCounter("orders.cycles")
	}

	orders, err := p.store.FetchUnprinted(ctx)
	if err != nil {
		p.report(status.StateError, err.Error(), 0, 1)
		log.Error().Err(err).Msg("Failed to poll for unprinted orders")
		return true
	}
	if len(orders) > 0 {
		log.Info().Int("count", len(orders)).Msg("Found unprinted orders")
	}

	processed, failed := 0, 0
	message := ""
	for i := range orders {
		// Shutdown is cooperative at order boundaries, never mid-write
		if ctx.Err() != nil {
			break
		}
		if err := p.processOrder(ctx, &orders[i]); err != nil {
			failed++
			if message == "" {
				message = err.Error()
			}
		} else {
			processed++
		}
	}

	state := status.StateIdle
	if failed > 0 {
		state = status.StateError
	}
	p.report(state, message, processed, failed)
	if p.metrics != nil {
		p.metrics.SetHealth(OrdersName, failed == 0)
	}
	return true
}

// processOrder renders, persists and commits one order. Errors leave the
// order unprinted so the next cycle retries it; nothing here can print the
// same order twice because the commit is conditional on printed still being
// false.
func (p *OrdersPipeline) processOrder(ctx context.Context, order *models.Order) error {
	data, name, err := p.render.Render(order)

	var renderErr *render.RenderError
	if errors.As(err, &renderErr) {
		// Fatal until the upstream data is fixed; retried every cycle
		log.Error().Str("order", order.OrderNumber).Str("reason", renderErr.Reason).Msg("Order needs attention, cannot render")
		if p.metrics != nil {
			p.metrics.IncrementCounter("orders.render_failures")
		}
		return renderErr
	}
	if err != nil {
		log.Error().Err(err).Str("order", order.OrderNumber).Msg("Failed to render order")
		return err
	}

	pdfPath := filepath.Join(p.outDir, name)
	if err := os.MkdirAll(p.outDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", p.outDir)
	}

	// A leftover document from a cycle that crashed after the write is
	// byte-reproducible, so overwriting it is indistinguishable from the
	// original render.
	if err := writeFileAtomic(pdfPath, data, 0o644); err != nil {
		log.Error().Err(err).Str("order", order.OrderNumber).Msg("Failed to persist order document")
		return err
	}

	applied, err := p.store.MarkPrinted(ctx, order.ID.String(), pdfPath)
	if err != nil {
		// Transport failure: the document stays on disk and the order stays
		// unprinted; the next cycle re-renders and retries the commit.
		log.Error().Err(err).Str("order", order.OrderNumber).Msg("Failed to commit printed state, will retry")
		return err
	}
	if !applied {
		// Another cycle or instance committed first. Success, not an error,
		// but skip dispatch so the order is not printed twice.
		log.Info().Str("order", order.OrderNumber).Msg("Order already marked printed elsewhere, skipping dispatch")
		if p.metrics != nil {
			p.metrics.IncrementCounter("orders.duplicate_commits")
		}
		return nil
	}

	if p.metrics != nil {
		p.metrics.IncrementCounter("orders.printed")
	}
	log.Info().Str("order", order.OrderNumber).Str("pdf", pdfPath).Msg("Order document generated")

	p.postCommit(ctx, order, pdfPath)
	return nil
}

// postCommit runs the best-effort collaborators. Failures here are logged
// and dropped: the printed commit already happened and must not be revisited.
func (p *OrdersPipeline) postCommit(ctx context.Context, order *models.Order, pdfPath string) {
	if p.labels != nil && order.HasShippingItems() {
		labelPath, err := p.labels.FetchLabel(ctx, order, p.outDir)
		if err != nil {
			log.Warn().Err(err).Str("order", order.OrderNumber).Msg("Failed to fetch shipping label")
		} else if labelPath != "" {
			log.Info().Str("order", order.OrderNumber).Str("label", labelPath).Msg("Shipping label saved")
		}
	}

	if p.printer != nil {
		if err := p.printer.Dispatch(pdfPath); err != nil {
			log.Warn().Err(err).Str("order", order.OrderNumber).Msg("Print dispatch failed")
		}
	}

	if p.search != nil {
		if err := p.search.IndexPrintedOrder(ctx, order, pdfPath); err != nil {
			log.Warn().Err(err).Str("order", order.OrderNumber).Msg("Failed to index printed order")
		}
	}
}

func (p *OrdersPipeline) report(state, message string, processed, failed int) {
	if p.tracker == nil {
		return
	}
	p.tracker.Publish(status.PipelineStatus{
		Pipeline:  OrdersName,
		State:     state,
		Message:   message,
		LastRun:   time.Now(),
		Processed: processed,
		Failed:    failed,
	})
}

// ensure the concrete repository satisfies the pipeline's store interface
var _ OrderStore = (*repositories.OrderRepository)(nil)
