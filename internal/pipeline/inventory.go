package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/storesync/config"
	"example.com/storesync/internal/ingest"
	"example.com/storesync/internal/metrics"
	"example.com/storesync/internal/models"
	"example.com/storesync/internal/search"
	"example.com/storesync/internal/status"
	"example.com/storesync/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// InventoryName is the inventory pipeline identifier.
const InventoryName = "inventory"

// InventoryStore is the slice of the remote store client the inventory
// pipeline writes through.
type InventoryStore interface {
	UpsertRows(ctx context.Context, rows []models.InventoryItem) error
}

// DailySalesStore writes summarized sales reports.
type DailySalesStore interface {
	Upsert(ctx context.Context, rec *models.DailySales) error
}

// InventoryParser parses watch-folder spreadsheets.
type InventoryParser interface {
	ParseInventoryFile(path string) (*ingest.InventoryResult, error)
	ParseSalesFile(path, storeName string) (*models.DailySales, error)
}

// InventoryPipeline scans the watch folder, ingests matching exports, upserts
// them to the remote store and deletes the source file only after the upsert
// is confirmed. Deleting strictly after the commit is the pipeline's one
// correctness invariant: a crash between steps re-ingests, never loses data.
type InventoryPipeline struct {
	storeName string
	watch     config.WatchConfig
	parser    InventoryParser
	inventory InventoryStore
	sales     DailySalesStore
	tracker   *status.Tracker
	metrics   *metrics.Metrics
	tracer    tracing.Tracer
	search    *search.ElasticClient

	guard    runGuard
	inflight map[string]struct{}
}

// NewInventoryPipeline creates the inventory sync pipeline.
func NewInventoryPipeline(
	cfg config.Config,
	parser InventoryParser,
	inventory InventoryStore,
	sales DailySalesStore,
	tracker *status.Tracker,
	m *metrics.Metrics,
	tracer tracing.Tracer,
	es *search.ElasticClient,
) *InventoryPipeline {
	return &InventoryPipeline{
		storeName: cfg.Store.Name,
		watch:     cfg.Watch,
		parser:    parser,
		inventory: inventory,
		sales:     sales,
		tracker:   tracker,
		metrics:   m,
		tracer:    tracer,
		search:    es,
		inflight:  make(map[string]struct{}),
	}
}

// Name returns the pipeline identifier.
func (p *InventoryPipeline) Name() string { return InventoryName }

// RunCycle runs one scan-to-cleanup cycle. It returns false when a cycle was
// already running and this trigger was coalesced away.
func (p *InventoryPipeline) RunCycle(ctx context.Context) bool {
	if !p.guard.tryStart() {
		log.Debug().Str("pipeline", InventoryName).Msg("Cycle already running, trigger coalesced")
		return false
	}
	defer p.guard.finish()
	defer recoverCycle(InventoryName)

	if p.tracer != nil {
		txn := p.tracer.StartTransaction("inventory-sync-cycle")
		defer p.tracer.EndTransaction(txn)
	}

	if p.metrics != nil {
		p.metrics.IncrementCounter("inventory.cycles")
	}

	files, err := p.scan()
	if err != nil {
		p.report(status.StateError, err.Error(), 0, 1)
		log.Error().Err(err).Msg("Failed to scan watch folder")
		return true
	}

	processed, failed := 0, 0
	message := ""
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		if _, busy := p.inflight[f.path]; busy {
			continue
		}
		p.inflight[f.path] = struct{}{}

		var perr error
		if f.sales {
			perr = p.processSalesFile(ctx, f.path)
		} else {
			perr = p.processInventoryFile(ctx, f.path)
		}
		delete(p.inflight, f.path)

		if perr != nil {
			failed++
			if message == "" {
				message = perr.Error()
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
		p.metrics.SetHealth(InventoryName, failed == 0)
	}
	return true
}

type watchedFile struct {
	path  string
	sales bool
}

// scan lists the watch folder and selects files matching the configured
// pattern and extension set. Sales reports are matched first so a file name
// carrying both patterns goes down the sales path.
func (p *InventoryPipeline) scan() ([]watchedFile, error) {
	entries, err := os.ReadDir(p.watch.Folder)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list watch folder %s", p.watch.Folder)
	}

	var files []watchedFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !p.extensionAccepted(name) {
			continue
		}
		switch {
		case p.watch.SalesFilePattern != "" && strings.Contains(name, p.watch.SalesFilePattern):
			files = append(files, watchedFile{path: filepath.Join(p.watch.Folder, name), sales: true})
		case strings.Contains(name, p.watch.FilePattern):
			files = append(files, watchedFile{path: filepath.Join(p.watch.Folder, name)})
		}
	}
	return files, nil
}

func (p *InventoryPipeline) extensionAccepted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, accepted := range p.watch.Extensions {
		if ext == strings.ToLower(accepted) {
			return true
		}
	}
	return false
}

// processInventoryFile runs one file through ingest, upsert and cleanup.
// A nil return means the file reached a terminal state this cycle (ingested
// and deleted, or skipped as busy); an error keeps the file for retry or
// manual attention.
func (p *InventoryPipeline) processInventoryFile(ctx context.Context, path string) error {
	result, err := p.parser.ParseInventoryFile(path)

	var busy *ingest.FileBusyError
	if errors.As(err, &busy) {
		// Transient: the writer is still at it, retry next cycle
		log.Debug().Str("file", path).Str("reason", busy.Reason).Msg("File busy, retrying next cycle")
		return nil
	}
	var schema *ingest.SchemaError
	if errors.As(err, &schema) {
		// Fatal for this file: keep it and tell the operator
		log.Error().Str("file", path).Strs("missing", schema.Missing).Msg("Inventory file rejected, manual fix required")
		return schema
	}
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to parse inventory file")
		return err
	}

	if result.SkippedRows > 0 {
		log.Warn().Str("file", path).Int("skipped", result.SkippedRows).Msg("Skipped rows with bad values")
		if p.metrics != nil {
			p.metrics.IncrementCounterBy("inventory.rows_skipped", int64(result.SkippedRows))
		}
	}
	if len(result.Rows) == 0 {
		log.Warn().Str("file", path).Msg("No valid rows in inventory file, keeping it for inspection")
		return errors.Errorf("no valid rows in %s", filepath.Base(path))
	}

	if err := p.inventory.UpsertRows(ctx, result.Rows); err != nil {
		// Remote write failed: the batch is not applied, keep the file
		log.Error().Err(err).Str("file", path).Msg("Upsert failed, file retained for retry")
		return err
	}

	if p.metrics != nil {
		p.metrics.IncrementCounterBy("inventory.rows_upserted", int64(len(result.Rows)))
	}
	log.Info().Str("file", filepath.Base(path)).Int("rows", len(result.Rows)).Msg("Inventory synced")

	// Delete strictly after the confirmed upsert
	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Could not delete processed file; duplicate upsert next cycle is harmless")
	}
	return nil
}

// processSalesFile summarizes one sales report and upserts it, with the same
// delete-after-commit ordering as inventory files.
func (p *InventoryPipeline) processSalesFile(ctx context.Context, path string) error {
	rec, err := p.parser.ParseSalesFile(path, p.storeName)

	var busy *ingest.FileBusyError
	if errors.As(err, &busy) {
		log.Debug().Str("file", path).Str("reason", busy.Reason).Msg("Sales file busy, retrying next cycle")
		return nil
	}
	var schema *ingest.SchemaError
	if errors.As(err, &schema) {
		log.Error().Str("file", path).Strs("missing", schema.Missing).Msg("Sales file rejected, manual fix required")
		return schema
	}
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to parse sales file")
		return err
	}

	if err := p.sales.Upsert(ctx, rec); err != nil {
		log.Error().Err(err).Str("file", path).Msg("Daily sales upsert failed, file retained for retry")
		return err
	}

	if p.search != nil {
		if err := p.search.IndexDailySales(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("Failed to index daily sales summary")
		}
	}

	log.Info().
		Str("file", filepath.Base(path)).
		Str("report_date", rec.ReportDate.Format("2006-01-02")).
		Int("transactions", rec.TotalTransactions).
		Msg("Daily sales synced")

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Str("file", path).Msg("Could not delete processed sales file")
	}
	return nil
}

func (p *InventoryPipeline) report(state, message string, processed, failed int) {
	if p.tracker == nil {
		return
	}
	p.tracker.Publish(status.PipelineStatus{
		Pipeline:  InventoryName,
		State:     state,
		Message:   message,
		LastRun:   time.Now(),
		Processed: processed,
		Failed:    failed,
	})
}
