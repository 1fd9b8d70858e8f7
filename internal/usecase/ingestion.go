package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	"QuantPipe/pkg/logger"
	"QuantPipe/pkg/util"
)

// IngestionStore is the part of the store the ingestion stage writes to.
type IngestionStore interface {
	domrepo.UniverseRepository
	domrepo.BarRepository
}

// IngestionConfig controls how far back and how wide ingestion reaches.
type IngestionConfig struct {
	Universe     []models.UniverseSymbol
	Workers      int
	BackfillDays int
}

// IngestionResult summarises one ingestion run.
type IngestionResult struct {
	Date        time.Time         `json:"date"`
	Requested   int               `json:"requested"`
	Succeeded   int               `json:"succeeded"`
	Failed      map[string]string `json:"failed,omitempty"`
	BarsWritten int               `json:"bars_written"`
}

// Details flattens the result for pipeline_runs.
func (r IngestionResult) Details() map[string]interface{} {
	return map[string]interface{}{
		"requested":    r.Requested,
		"succeeded":    r.Succeeded,
		"failed":       r.Failed,
		"bars_written": r.BarsWritten,
	}
}

// Ingestor pulls daily bars from the provider into the store.
type Ingestor struct {
	provider domrepo.MarketDataProvider
	store    IngestionStore
	mirror   domrepo.BarMirror
	metrics  domrepo.Metrics
	l        *logger.Logger
	cfg      IngestionConfig
	now      func() time.Time
}

// NewIngestor builds an Ingestor. mirror may be nil.
func NewIngestor(provider domrepo.MarketDataProvider, store IngestionStore, mirror domrepo.BarMirror, metrics domrepo.Metrics, l *logger.Logger, cfg IngestionConfig) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BackfillDays <= 0 {
		cfg.BackfillDays = 365
	}
	return &Ingestor{
		provider: provider,
		store:    store,
		mirror:   mirror,
		metrics:  metrics,
		l:        l,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Ingest fetches bars up to date for symbols, or for the active universe
// when symbols is empty. A zero date means the most recent trading day.
func (i *Ingestor) Ingest(ctx context.Context, date time.Time, symbols []string) (IngestionResult, error) {
	if date.IsZero() {
		date = util.MostRecentTradingDay(i.now())
	}
	date = util.Day(date)
	res := IngestionResult{Date: date, Failed: map[string]string{}}

	if len(i.cfg.Universe) > 0 {
		if err := i.store.UpsertUniverse(ctx, i.cfg.Universe); err != nil {
			return res, fmt.Errorf("upsert universe: %w", err)
		}
	}
	if len(symbols) == 0 {
		active, err := i.store.ActiveSymbols(ctx)
		if err != nil {
			return res, fmt.Errorf("load universe: %w", err)
		}
		for _, s := range active {
			symbols = append(symbols, s.Symbol)
		}
	}
	symbols = normalizeSymbols(symbols)
	res.Requested = len(symbols)
	if len(symbols) == 0 {
		i.l.Warn("ingestion has no symbols", logger.String("date", util.FormatDate(date)))
		return res, nil
	}

	var (
		mu       sync.Mutex
		storeErr error
	)
	forEachSymbol(ctx, i.cfg.Workers, symbols, func(ctx context.Context, sym string) {
		n, err := i.ingestSymbol(ctx, sym, date)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			kind := models.ErrorKind(err)
			res.Failed[sym] = kind
			if errors.Is(err, models.ErrStoreUnavailable) && storeErr == nil {
				storeErr = err
			}
			i.metrics.RecordSymbolFailure(string(models.StageIngestion), kind)
			i.l.Warn("symbol ingestion failed",
				logger.String("symbol", sym),
				logger.String("kind", kind),
				logger.Error(err))
			return
		}
		res.Succeeded++
		res.BarsWritten += n
	})
	if err := ctx.Err(); err != nil {
		return res, err
	}

	i.l.Info("ingestion finished",
		logger.String("date", util.FormatDate(date)),
		logger.Int("requested", res.Requested),
		logger.Int("succeeded", res.Succeeded),
		logger.Int("failed", len(res.Failed)),
		logger.Int("bars_written", res.BarsWritten))

	if storeErr != nil {
		return res, fmt.Errorf("ingestion: %w", storeErr)
	}
	if res.Succeeded == 0 {
		return res, fmt.Errorf("ingestion: all %d symbols failed", res.Requested)
	}
	return res, nil
}

func (i *Ingestor) ingestSymbol(ctx context.Context, sym string, date time.Time) (int, error) {
	latest, ok, err := i.store.LatestBarDate(ctx, sym)
	if err != nil {
		return 0, fmt.Errorf("latest bar %s: %w", sym, err)
	}
	from := date.AddDate(0, 0, -i.cfg.BackfillDays)
	if ok {
		from = util.Day(latest).AddDate(0, 0, 1)
	}
	if from.After(date) {
		i.l.Debug("symbol up to date", logger.String("symbol", sym))
		return 0, nil
	}

	bars, err := i.provider.FetchDailyBars(ctx, sym, from, date)
	if err != nil {
		return 0, err
	}
	kept := bars[:0]
	for _, b := range bars {
		if !b.Date.After(date) {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}

	n, err := i.store.UpsertBars(ctx, kept)
	if err != nil {
		return 0, fmt.Errorf("store bars %s: %w", sym, err)
	}
	last := kept[len(kept)-1]
	i.metrics.RecordLastPrice(sym, last.Close)

	if i.mirror != nil {
		if err := i.mirror.MirrorBars(ctx, kept); err != nil {
			i.metrics.RecordError("mirror_bars")
			i.l.Warn("mirror bars failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
	return n, nil
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = util.NormalizeSymbol(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
