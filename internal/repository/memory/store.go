// Package memory is an in-process Store with the same key and upsert
// semantics as the PostgreSQL store. It backs tests and local runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
)

type barKey struct {
	symbol string
	date   time.Time
}

type featureKey struct {
	symbol string
	date   time.Time
	set    string
}

type signalKey struct {
	model  int64
	symbol string
	date   time.Time
}

type perfKey struct {
	model int64
	date  time.Time
}

// Store implements domrepo.Store.
type Store struct {
	mu sync.RWMutex

	universe    map[string]models.UniverseSymbol
	bars        map[barKey]models.MarketBar
	features    map[featureKey]models.FeatureRecord
	models      map[int64]*models.Model
	modelRuns   map[string]models.ModelRun
	signals     map[signalKey]models.SignalRecord
	performance map[perfKey]models.PerformanceRecord
	reports     map[time.Time]models.PerformanceReport
	quality     map[time.Time]models.QualityReport
	runs        map[string]models.PipelineRun
	runOrder    []string

	nextModelID  int64
	nextSignalID int64

	unavailable bool
}

var _ domrepo.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		universe:    make(map[string]models.UniverseSymbol),
		bars:        make(map[barKey]models.MarketBar),
		features:    make(map[featureKey]models.FeatureRecord),
		models:      make(map[int64]*models.Model),
		modelRuns:   make(map[string]models.ModelRun),
		signals:     make(map[signalKey]models.SignalRecord),
		performance: make(map[perfKey]models.PerformanceRecord),
		reports:     make(map[time.Time]models.PerformanceReport),
		quality:     make(map[time.Time]models.QualityReport),
		runs:        make(map[string]models.PipelineRun),
	}
}

// SetUnavailable makes every call fail with ErrStoreUnavailable until reset.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

func (s *Store) check(op string) error {
	if s.unavailable {
		return fmt.Errorf("%s: %w", op, models.ErrStoreUnavailable)
	}
	return nil
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Store) Health(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check("health")
}

func (s *Store) Close() error { return nil }

// --- universe & bars ---

func (s *Store) UpsertUniverse(_ context.Context, symbols []models.UniverseSymbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert universe"); err != nil {
		return err
	}
	for _, u := range symbols {
		s.universe[u.Symbol] = u
	}
	return nil
}

func (s *Store) ActiveSymbols(context.Context) ([]models.UniverseSymbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("active symbols"); err != nil {
		return nil, err
	}
	var out []models.UniverseSymbol
	for _, u := range s.universe {
		if u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) UpsertBars(_ context.Context, bars []models.MarketBar) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert bars"); err != nil {
		return 0, err
	}
	for _, b := range bars {
		b.Date = day(b.Date)
		s.bars[barKey{b.Symbol, b.Date}] = b
	}
	return len(bars), nil
}

func (s *Store) GetBar(_ context.Context, symbol string, date time.Time) (models.MarketBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get bar"); err != nil {
		return models.MarketBar{}, err
	}
	b, ok := s.bars[barKey{symbol, day(date)}]
	if !ok {
		return b, fmt.Errorf("get bar %s %s: %w", symbol, date.Format(time.DateOnly), models.ErrNotFound)
	}
	return b, nil
}

func (s *Store) symbolBars(symbol string) []models.MarketBar {
	var out []models.MarketBar
	for k, b := range s.bars {
		if k.symbol == symbol {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (s *Store) ListBars(_ context.Context, symbol string, from, to time.Time) ([]models.MarketBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list bars"); err != nil {
		return nil, err
	}
	from, to = day(from), day(to)
	var out []models.MarketBar
	for _, b := range s.symbolBars(symbol) {
		if !b.Date.Before(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) BarsAfter(_ context.Context, symbol string, date time.Time, n int) ([]models.MarketBar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("bars after"); err != nil {
		return nil, err
	}
	date = day(date)
	var out []models.MarketBar
	for _, b := range s.symbolBars(symbol) {
		if b.Date.After(date) && len(out) < n {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Store) LatestBarDate(_ context.Context, symbol string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("latest bar date"); err != nil {
		return time.Time{}, false, err
	}
	bars := s.symbolBars(symbol)
	if len(bars) == 0 {
		return time.Time{}, false, nil
	}
	return bars[len(bars)-1].Date, true, nil
}

func (s *Store) LatestDate(context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("latest date"); err != nil {
		return time.Time{}, false, err
	}
	var latest time.Time
	for k := range s.bars {
		if k.date.After(latest) {
			latest = k.date
		}
	}
	return latest, !latest.IsZero(), nil
}

func (s *Store) CountBarsOn(_ context.Context, date time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count bars"); err != nil {
		return 0, err
	}
	n := 0
	for k := range s.bars {
		if k.date.Equal(day(date)) && s.universe[k.symbol].Active {
			n++
		}
	}
	return n, nil
}

// --- features ---

func (s *Store) UpsertFeatures(_ context.Context, rec models.FeatureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert features"); err != nil {
		return err
	}
	rec.Date = day(rec.Date)
	rec.Values = cloneIndicators(rec.Values)
	s.features[featureKey{rec.Symbol, rec.Date, rec.FeatureSet}] = rec
	return nil
}

func (s *Store) GetFeatures(_ context.Context, symbol string, date time.Time, set string) (models.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get features"); err != nil {
		return models.FeatureRecord{}, err
	}
	rec, ok := s.features[featureKey{symbol, day(date), set}]
	if !ok {
		return rec, fmt.Errorf("get features %s: %w", symbol, models.ErrNotFound)
	}
	rec.Values = cloneIndicators(rec.Values)
	return rec, nil
}

func (s *Store) PreviousFeatures(_ context.Context, symbol string, before time.Time, set string) (models.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("previous features"); err != nil {
		return models.FeatureRecord{}, err
	}
	var (
		best  models.FeatureRecord
		found bool
	)
	for k, rec := range s.features {
		if k.symbol != symbol || k.set != set || !k.date.Before(day(before)) {
			continue
		}
		if !found || k.date.After(best.Date) {
			best, found = rec, true
		}
	}
	if !found {
		return best, fmt.Errorf("previous features %s: %w", symbol, models.ErrNotFound)
	}
	best.Values = cloneIndicators(best.Values)
	return best, nil
}

func (s *Store) ListFeaturesOn(_ context.Context, date time.Time, set string) ([]models.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list features"); err != nil {
		return nil, err
	}
	var out []models.FeatureRecord
	for k, rec := range s.features {
		if k.date.Equal(day(date)) && k.set == set {
			rec.Values = cloneIndicators(rec.Values)
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) CountFeaturesOn(_ context.Context, date time.Time, set string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("count features"); err != nil {
		return 0, err
	}
	n := 0
	for k := range s.features {
		if k.date.Equal(day(date)) && k.set == set && s.universe[k.symbol].Active {
			n++
		}
	}
	return n, nil
}

func cloneIndicators(in models.Indicators) models.Indicators {
	out := make(models.Indicators, len(in))
	for k, v := range in {
		if v == nil {
			out[k] = nil
			continue
		}
		out.Set(k, *v)
	}
	return out
}

// --- models & signals ---

func (s *Store) UpsertModel(_ context.Context, m *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert model"); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, existing := range s.models {
		if existing.Name == m.Name && existing.Version == m.Version {
			existing.Type = m.Type
			existing.Parameters = copyParams(m.Parameters)
			existing.Active = m.Active
			existing.UpdatedAt = now
			m.ID, m.CreatedAt, m.UpdatedAt = existing.ID, existing.CreatedAt, now
			return nil
		}
	}
	s.nextModelID++
	m.ID = s.nextModelID
	m.CreatedAt, m.UpdatedAt = now, now
	stored := *m
	stored.Parameters = copyParams(m.Parameters)
	s.models[m.ID] = &stored
	return nil
}

func copyParams(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *Store) listModels(activeOnly bool) []models.Model {
	out := make([]models.Model, 0, len(s.models))
	for _, m := range s.models {
		if activeOnly && !m.Active {
			continue
		}
		c := *m
		c.Parameters = copyParams(m.Parameters)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out
}

func (s *Store) ActiveModels(context.Context) ([]models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("active models"); err != nil {
		return nil, err
	}
	return s.listModels(true), nil
}

func (s *Store) ListModels(context.Context) ([]models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list models"); err != nil {
		return nil, err
	}
	return s.listModels(false), nil
}

func (s *Store) StartRun(_ context.Context, run *models.ModelRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("start model run"); err != nil {
		return err
	}
	if _, ok := s.models[run.ModelID]; !ok {
		return fmt.Errorf("start model run: model %d: %w", run.ModelID, models.ErrNotFound)
	}
	s.modelRuns[run.ID] = *run
	return nil
}

func (s *Store) CompleteRun(_ context.Context, run *models.ModelRun, signals []models.SignalRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("complete model run"); err != nil {
		return 0, err
	}
	inserted := 0
	for _, sig := range signals {
		sig.Date = day(sig.Date)
		key := signalKey{sig.ModelID, sig.Symbol, sig.Date}
		if _, exists := s.signals[key]; exists {
			continue
		}
		s.nextSignalID++
		sig.ID = s.nextSignalID
		sig.ModelRunID = run.ID
		sig.CreatedAt = time.Now().UTC()
		s.signals[key] = sig
		inserted++
	}
	now := time.Now().UTC()
	run.Status = models.StatusCompleted
	run.SignalsGenerated = inserted
	run.FinishedAt = &now
	s.modelRuns[run.ID] = *run
	return inserted, nil
}

func (s *Store) FailRun(_ context.Context, run *models.ModelRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("fail model run"); err != nil {
		return err
	}
	run.Status = models.StatusFailed
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	s.modelRuns[run.ID] = *run
	return nil
}

// ModelRun returns a stored run by id.
func (s *Store) ModelRun(id string) (models.ModelRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.modelRuns[id]
	return r, ok
}

func (s *Store) ListSignals(_ context.Context, f domrepo.SignalFilter) ([]models.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list signals"); err != nil {
		return nil, err
	}
	var out []models.SignalRecord
	for _, sig := range s.signals {
		switch {
		case f.ModelID != 0 && sig.ModelID != f.ModelID,
			f.Symbol != "" && sig.Symbol != f.Symbol,
			!f.From.IsZero() && sig.Date.Before(day(f.From)),
			!f.To.IsZero() && sig.Date.After(day(f.To)):
			continue
		}
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.ModelID != b.ModelID {
			return a.ModelID < b.ModelID
		}
		return a.Symbol < b.Symbol
	})
	return out, nil
}

// --- performance, quality, runs ---

func (s *Store) UpsertPerformance(_ context.Context, r models.PerformanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert performance"); err != nil {
		return err
	}
	r.EvaluationDate = day(r.EvaluationDate)
	s.performance[perfKey{r.ModelID, r.EvaluationDate}] = r
	return nil
}

func (s *Store) ListPerformance(_ context.Context, date time.Time) ([]models.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list performance"); err != nil {
		return nil, err
	}
	var out []models.PerformanceRecord
	for k, r := range s.performance {
		if k.date.Equal(day(date)) {
			if m, ok := s.models[k.model]; ok {
				r.ModelName = m.Name
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelName < out[j].ModelName })
	return out, nil
}

// Reports round-trip through JSON so callers never share slices with the store.
func (s *Store) UpsertReport(_ context.Context, rep models.PerformanceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert report"); err != nil {
		return err
	}
	var c models.PerformanceReport
	if err := roundTrip(rep, &c); err != nil {
		return err
	}
	c.ReportDate = day(rep.ReportDate)
	c.CreatedAt = time.Now().UTC()
	s.reports[c.ReportDate] = c
	return nil
}

func (s *Store) GetReport(_ context.Context, date time.Time) (models.PerformanceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get report"); err != nil {
		return models.PerformanceReport{}, err
	}
	rep, ok := s.reports[day(date)]
	if !ok {
		return rep, fmt.Errorf("get report %s: %w", date.Format(time.DateOnly), models.ErrNotFound)
	}
	return rep, nil
}

func (s *Store) LatestReport(context.Context) (models.PerformanceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("latest report"); err != nil {
		return models.PerformanceReport{}, err
	}
	var (
		latest models.PerformanceReport
		found  bool
	)
	for d, rep := range s.reports {
		if !found || d.After(latest.ReportDate) {
			latest, found = rep, true
		}
	}
	if !found {
		return latest, fmt.Errorf("latest report: %w", models.ErrNotFound)
	}
	return latest, nil
}

func (s *Store) UpsertQuality(_ context.Context, rep models.QualityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert quality"); err != nil {
		return err
	}
	rep.CheckDate = day(rep.CheckDate)
	s.quality[rep.CheckDate] = rep
	return nil
}

func (s *Store) GetQuality(_ context.Context, date time.Time) (models.QualityReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("get quality"); err != nil {
		return models.QualityReport{}, err
	}
	rep, ok := s.quality[day(date)]
	if !ok {
		return rep, fmt.Errorf("get quality %s: %w", date.Format(time.DateOnly), models.ErrNotFound)
	}
	return rep, nil
}

func (s *Store) CreateRun(_ context.Context, run *models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("create pipeline run"); err != nil {
		return err
	}
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("create pipeline run: duplicate id %s", run.ID)
	}
	r := *run
	r.LogicalDate = day(r.LogicalDate)
	s.runs[run.ID] = r
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *Store) UpdateRun(_ context.Context, run *models.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("update pipeline run"); err != nil {
		return err
	}
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("update pipeline run %s: %w", run.ID, models.ErrNotFound)
	}
	existing.Status = run.Status
	existing.Attempts = run.Attempts
	existing.FinishedAt = run.FinishedAt
	existing.Error = run.Error
	existing.Details = run.Details
	s.runs[run.ID] = existing
	return nil
}

func (s *Store) ListRuns(_ context.Context, date time.Time) ([]models.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check("list pipeline runs"); err != nil {
		return nil, err
	}
	var out []models.PipelineRun
	for _, id := range s.runOrder {
		if r := s.runs[id]; r.LogicalDate.Equal(day(date)) {
			out = append(out, r)
		}
	}
	return out, nil
}

func roundTrip(src, dst interface{}) error {
	b, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return json.Unmarshal(b, dst)
}
