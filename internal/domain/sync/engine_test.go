package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/athebyme/automarket-platform/config"
	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
)

// nopLogger — логгер-заглушка для тестов движка
type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                             {}
func (nopLogger) Info(string, ...interface{})                              {}
func (nopLogger) Warn(string, ...interface{})                              {}
func (nopLogger) Error(string, ...interface{})                             {}
func (nopLogger) Fatal(string, ...interface{})                             {}
func (nopLogger) DebugWithContext(context.Context, string, ...interface{}) {}
func (nopLogger) InfoWithContext(context.Context, string, ...interface{})  {}
func (nopLogger) WarnWithContext(context.Context, string, ...interface{})  {}
func (nopLogger) ErrorWithContext(context.Context, string, ...interface{}) {}

func (l nopLogger) WithFields(...interfaces.LogField) interfaces.LoggerPort { return l }
func (l nopLogger) WithField(string, interface{}) interfaces.LoggerPort     { return l }
func (l nopLogger) WithSource(string) interfaces.LoggerPort                 { return l }
func (l nopLogger) WithRunID(string) interfaces.LoggerPort                  { return l }
func (nopLogger) Sync() error                                               { return nil }

// stubPage — одна страница сценария ленты
type stubPage struct {
	events []models.ChangeEvent
	next   *Cursor
	err    error
}

// stubFeed отдает заранее заданную последовательность страниц
type stubFeed struct {
	pages     []stubPage
	idx       int
	cursors   []Cursor
	reference string
	refErr    error
}

func (f *stubFeed) FetchPage(_ context.Context, cur Cursor) ([]models.ChangeEvent, *Cursor, error) {
	f.cursors = append(f.cursors, cur)
	if f.idx >= len(f.pages) {
		return nil, nil, nil
	}
	p := f.pages[f.idx]
	f.idx++
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.events, p.next, nil
}

func (f *stubFeed) ResolveReference(context.Context, time.Time) (string, error) {
	return f.reference, f.refErr
}

// stubStore протоколирует обращения движка к хранилищу
type stubStore struct {
	batches     [][]*models.CatalogRecord
	failBatches map[int]bool
	batchCalls  int

	applyResult bool
	applyErr    error
	patched     []string

	markResult bool
	marked     []string

	existing     map[string]struct{}
	listErr      error
	staleDeleted []string

	savedRun *models.SyncRun
}

func (s *stubStore) UpsertBatch(_ context.Context, _ string, records []*models.CatalogRecord) (int, int, error) {
	idx := s.batchCalls
	s.batchCalls++
	if s.failBatches[idx] {
		return 0, 0, errors.New("db down")
	}
	batch := make([]*models.CatalogRecord, len(records))
	copy(batch, records)
	s.batches = append(s.batches, batch)
	return len(records), 0, nil
}

func (s *stubStore) ApplyPatch(_ context.Context, _, _, sourceID string, _ *models.RecordPatch) (bool, error) {
	if s.applyErr != nil {
		return false, s.applyErr
	}
	if s.applyResult {
		s.patched = append(s.patched, sourceID)
	}
	return s.applyResult, nil
}

func (s *stubStore) MarkRemoved(_ context.Context, _, _, sourceID string) (bool, error) {
	if s.markResult {
		s.marked = append(s.marked, sourceID)
	}
	return s.markResult, nil
}

func (s *stubStore) ListExistingIDs(context.Context, string, string) (map[string]struct{}, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.existing, nil
}

func (s *stubStore) DeleteStale(_ context.Context, _, _, _ string, sourceIDs []string) (int, error) {
	s.staleDeleted = append(s.staleDeleted, sourceIDs...)
	return len(sourceIDs), nil
}

func (s *stubStore) SaveRun(_ context.Context, run *models.SyncRun) error {
	s.savedRun = run
	return nil
}

// stubRefs хранит опорные точки в памяти
type stubRefs struct {
	ref   string
	saved string
}

func (r *stubRefs) LoadReference(context.Context, string, string) (string, error) {
	return r.ref, nil
}

func (r *stubRefs) SaveReference(_ context.Context, _, _, ref string) error {
	r.saved = ref
	return nil
}

// stubNotifier собирает опубликованные уведомления
type stubNotifier struct {
	events []string // "<change_type>:<source_id>"
}

func (n *stubNotifier) ListingChanged(_ context.Context, _, sourceID, changeType, _ string) error {
	n.events = append(n.events, changeType+":"+sourceID)
	return nil
}

// memStore — хранилище в памяти с настоящей семантикой апсерта,
// для сквозных сценариев, где важен переход added -> updated
type memStore struct {
	records map[string]*models.CatalogRecord // ключ — source_id
	runs    []*models.SyncRun
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]*models.CatalogRecord)}
}

func (s *memStore) UpsertBatch(_ context.Context, _ string, records []*models.CatalogRecord) (int, int, error) {
	added, updated := 0, 0
	for _, rec := range records {
		if _, ok := s.records[rec.SourceID]; ok {
			updated++
		} else {
			added++
		}
		cp := *rec
		s.records[rec.SourceID] = &cp
	}
	return added, updated, nil
}

func (s *memStore) ApplyPatch(_ context.Context, _, _, sourceID string, patch *models.RecordPatch) (bool, error) {
	rec, ok := s.records[sourceID]
	if !ok {
		return false, nil
	}
	if patch.PriceOriginal != nil {
		rec.PriceOriginal = *patch.PriceOriginal
	}
	if patch.PriceUSD != nil {
		rec.PriceUSD = *patch.PriceUSD
	}
	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.MileageKm != nil {
		rec.MileageKm = *patch.MileageKm
	}
	return true, nil
}

func (s *memStore) MarkRemoved(_ context.Context, _, _, sourceID string) (bool, error) {
	rec, ok := s.records[sourceID]
	if !ok || rec.Status == models.StatusRemoved {
		return false, nil
	}
	rec.Status = models.StatusRemoved
	return true, nil
}

func (s *memStore) ListExistingIDs(context.Context, string, string) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(s.records))
	for id := range s.records {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (s *memStore) DeleteStale(_ context.Context, _, _, _ string, sourceIDs []string) (int, error) {
	deleted := 0
	for _, id := range sourceIDs {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *memStore) SaveRun(_ context.Context, run *models.SyncRun) error {
	s.runs = append(s.runs, run)
	return nil
}

func newTestEngine(feed FeedSource, store CatalogStore, refs ReferenceStore, notifier Notifier, cfg config.SyncConfig) *Engine {
	src := config.SourceConfig{
		Source:    "china",
		Platform:  "che168",
		Currency:  "CNY",
		RateToUSD: 0.14,
	}
	resolver := NewAssetResolver(nil, "assets.automarket.internal", nil)
	e := NewEngine(feed, store, refs, notifier, resolver, NewNormalizer(src, DefaultVocabulary()), nopLogger{}, cfg, src)
	e.sleep = func(context.Context, time.Duration) {}
	return e
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		BatchSize:  50,
		PageBudget: 100,
		TimeBudget: time.Hour,
	}
}

func addedEvent(innerID string) models.ChangeEvent {
	payload := fmt.Sprintf(
		`{"inner_id":"%s","brand":"Toyota","model":"Camry","price":100000,"images":["https://cdn.vendor.cn/%s.jpg"]}`,
		innerID, innerID)
	return models.ChangeEvent{Type: models.ChangeAdded, InnerID: innerID, Payload: json.RawMessage(payload)}
}

func TestRunFullWithStaleRemoval(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1"), addedEvent("2")}, next: &Cursor{Page: 2}},
		{events: []models.ChangeEvent{addedEvent("3")}},
	}}
	store := &stubStore{existing: map[string]struct{}{
		"che168_1":    {},
		"che168_gone": {}, // не встретилась в обходе
	}}
	notifier := &stubNotifier{}

	e := newTestEngine(feed, store, nil, notifier, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q, want success", run.Status)
	}
	if run.Counts.Added != 3 {
		t.Errorf("added = %d, want 3", run.Counts.Added)
	}
	if run.Counts.Removed != 1 {
		t.Errorf("removed = %d, want 1", run.Counts.Removed)
	}
	if len(store.staleDeleted) != 1 || store.staleDeleted[0] != "che168_gone" {
		t.Errorf("staleDeleted = %v, want [che168_gone]", store.staleDeleted)
	}
	if store.savedRun == nil || store.savedRun.ID != run.ID {
		t.Errorf("run must be persisted")
	}
	// уведомление на каждый апсерт
	if len(notifier.events) != 3 {
		t.Errorf("notifications = %v", notifier.events)
	}
}

func TestRunPageBudgetSuppressesStaleRemoval(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1")}, next: &Cursor{Page: 2}},
		{events: []models.ChangeEvent{addedEvent("2")}, next: &Cursor{Page: 3}},
	}}
	store := &stubStore{existing: map[string]struct{}{"che168_gone": {}}}

	cfg := testSyncConfig()
	cfg.PageBudget = 1

	e := newTestEngine(feed, store, nil, nil, cfg)
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	// исчерпание бюджета — штатное завершение
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q, want success", run.Status)
	}
	if run.Counts.Added != 1 {
		t.Errorf("added = %d, want 1", run.Counts.Added)
	}
	// дифф по оборванному обходу снес бы живые записи
	if len(store.staleDeleted) != 0 {
		t.Errorf("stale removal must be suppressed, deleted %v", store.staleDeleted)
	}
}

func TestRunTimeBudgetSuppressesStaleRemoval(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1")}, next: &Cursor{Page: 2}},
	}}
	store := &stubStore{existing: map[string]struct{}{"che168_gone": {}}}

	cfg := testSyncConfig()

	e := newTestEngine(feed, store, nil, nil, cfg)
	base := time.Now()
	calls := 0
	e.now = func() time.Time {
		calls++
		if calls == 1 {
			return base // вычисление дедлайна
		}
		return base.Add(2 * time.Hour) // все последующие проверки за дедлайном
	}

	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q, want success", run.Status)
	}
	if len(store.staleDeleted) != 0 {
		t.Errorf("stale removal must be suppressed, deleted %v", store.staleDeleted)
	}
	if len(feed.cursors) != 0 {
		t.Errorf("no pages must be fetched past the deadline, got %d", len(feed.cursors))
	}
}

func TestRunFatalFeedErrorPartial(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1"), addedEvent("2")}, next: &Cursor{Page: 2}},
		{err: fmt.Errorf("%w: статус 502", ErrTransport)},
	}}
	store := &stubStore{existing: map[string]struct{}{"che168_gone": {}}}

	cfg := testSyncConfig()
	cfg.BatchSize = 2 // первая страница уходит в хранилище до обрыва

	e := newTestEngine(feed, store, nil, nil, cfg)
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusPartial {
		t.Fatalf("status = %q, want partial", run.Status)
	}
	if run.Counts.Added != 2 {
		t.Errorf("added = %d, want 2", run.Counts.Added)
	}
	if run.Error == "" {
		t.Errorf("run must carry the fatal feed error")
	}
	if len(store.staleDeleted) != 0 {
		t.Errorf("stale removal after a torn crawl, deleted %v", store.staleDeleted)
	}
}

func TestRunFatalFeedErrorFailed(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{err: ErrRateLimited},
	}}
	store := &stubStore{}

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if store.savedRun == nil {
		t.Errorf("failed run must still be persisted")
	}
}

func TestRunBatchErrorIsolated(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1"), addedEvent("2")}},
	}}
	store := &stubStore{failBatches: map[int]bool{0: true}}

	cfg := testSyncConfig()
	cfg.BatchSize = 1

	e := newTestEngine(feed, store, nil, nil, cfg)
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	// ошибка записи не фатальна для запуска
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q, want success", run.Status)
	}
	if run.Counts.Errors != 1 {
		t.Errorf("errors = %d, want size of the failed batch", run.Counts.Errors)
	}
	if run.Counts.Added != 1 {
		t.Errorf("added = %d, want 1 from the surviving batch", run.Counts.Added)
	}
	if len(store.batches) != 1 {
		t.Errorf("batches = %d, want 1", len(store.batches))
	}
}

func TestRunDeduplicatesWithinRun(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1"), addedEvent("1")}, next: &Cursor{Page: 2}},
		{events: []models.ChangeEvent{addedEvent("1")}},
	}}
	store := &stubStore{}

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Counts.Added != 1 {
		t.Errorf("added = %d, want 1 (duplicates dropped silently)", run.Counts.Added)
	}
	if run.Counts.Skipped != 0 {
		t.Errorf("skipped = %d, duplicates must not be counted", run.Counts.Skipped)
	}
}

func TestRunChangedAndRemovedEvents(t *testing.T) {
	price := 90000.0
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{
			{Type: models.ChangeChanged, InnerID: "1", Delta: &models.ChangeDelta{Price: &price}},
			{Type: models.ChangeChanged, InnerID: "2", Delta: &models.ChangeDelta{}}, // пустая дельта
			{Type: models.ChangeRemoved, InnerID: "3"},
			{Err: errors.New("битый элемент")},
		}},
	}}
	store := &stubStore{applyResult: true, markResult: true}
	notifier := &stubNotifier{}

	e := newTestEngine(feed, store, nil, notifier, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeIncremental, Source: "china", Platform: "che168"})

	if run.Counts.Updated != 1 {
		t.Errorf("updated = %d, want 1", run.Counts.Updated)
	}
	if run.Counts.Removed != 1 {
		t.Errorf("removed = %d, want 1", run.Counts.Removed)
	}
	// пустая дельта и битый элемент
	if run.Counts.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", run.Counts.Skipped)
	}
	if len(store.patched) != 1 || store.patched[0] != "che168_1" {
		t.Errorf("patched = %v", store.patched)
	}
	if len(store.marked) != 1 || store.marked[0] != "che168_3" {
		t.Errorf("marked = %v", store.marked)
	}
	want := []string{"upsert:che168_1", "mark_removed:che168_3"}
	if len(notifier.events) != 2 || notifier.events[0] != want[0] || notifier.events[1] != want[1] {
		t.Errorf("notifications = %v, want %v", notifier.events, want)
	}
}

func TestRunChangedMissingRecordSkipped(t *testing.T) {
	price := 90000.0
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{
			{Type: models.ChangeChanged, InnerID: "1", Delta: &models.ChangeDelta{Price: &price}},
		}},
	}}
	store := &stubStore{applyResult: false} // записи нет в каталоге

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeIncremental, Source: "china", Platform: "che168"})

	if run.Counts.Skipped != 1 || run.Counts.Updated != 0 {
		t.Errorf("counts = %+v, delta for a missing record must be skipped", run.Counts)
	}
}

func TestRunIncrementalUsesStoredReference(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1")}, next: &Cursor{Since: "ref-2"}},
		{},
	}}
	refs := &stubRefs{ref: "ref-1"}
	store := &stubStore{}

	e := newTestEngine(feed, store, refs, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeIncremental, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q", run.Status)
	}
	if len(feed.cursors) == 0 || feed.cursors[0].Since != "ref-1" {
		t.Errorf("first cursor = %+v, want stored reference", feed.cursors)
	}
	// последняя выданная лентой точка сохраняется для следующего запуска
	if refs.saved != "ref-2" {
		t.Errorf("saved reference = %q, want ref-2", refs.saved)
	}
}

func TestRunIncrementalResolvesReference(t *testing.T) {
	feed := &stubFeed{
		reference: "ref-fresh",
		pages:     []stubPage{{}},
	}
	store := &stubStore{}

	// refs пуст, точка разрешается у вендора
	e := newTestEngine(feed, store, &stubRefs{}, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeIncremental, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q", run.Status)
	}
	if len(feed.cursors) != 1 || feed.cursors[0].Since != "ref-fresh" {
		t.Errorf("cursors = %+v, want resolved reference", feed.cursors)
	}
}

func TestRunIncrementalReferenceResolutionFails(t *testing.T) {
	feed := &stubFeed{refErr: fmt.Errorf("%w: статус 500", ErrTransport)}
	store := &stubStore{}

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeIncremental, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusFailed {
		t.Fatalf("status = %q, want failed", run.Status)
	}
	if len(feed.cursors) != 0 {
		t.Errorf("no pages must be fetched without a reference")
	}
}

func TestRunFilteredMode(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1")}},
		{events: []models.ChangeEvent{addedEvent("2")}},
	}}
	store := &stubStore{existing: map[string]struct{}{"che168_gone": {}}}

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{
		Mode:     models.ModeFiltered,
		Source:   "china",
		Platform: "che168",
		Filters:  []string{"brand:toyota", "brand:honda"},
	})

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q", run.Status)
	}
	if run.Counts.Added != 2 {
		t.Errorf("added = %d, want 2", run.Counts.Added)
	}
	if len(feed.cursors) != 2 || feed.cursors[0].Filter != "brand:toyota" || feed.cursors[1].Filter != "brand:honda" {
		t.Errorf("cursors = %+v, want one sub-crawl per filter", feed.cursors)
	}
	// filtered-обход заведомо частичный, дифф не выполняется
	if len(store.staleDeleted) != 0 {
		t.Errorf("filtered mode must never delete stale records")
	}
}

func TestRunSkipsInvalidMedia(t *testing.T) {
	// объявление без изображений не попадает в каталог
	noImages := models.ChangeEvent{
		Type:    models.ChangeAdded,
		InnerID: "1",
		Payload: json.RawMessage(`{"inner_id":"1","brand":"Toyota","model":"Camry"}`),
	}
	feed := &stubFeed{pages: []stubPage{{events: []models.ChangeEvent{noImages, addedEvent("2")}}}}
	store := &stubStore{}

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Counts.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", run.Counts.Skipped)
	}
	if run.Counts.Added != 1 {
		t.Errorf("added = %d, want 1", run.Counts.Added)
	}
}

func TestRunRequestMaxPagesOverridesBudget(t *testing.T) {
	feed := &stubFeed{pages: []stubPage{
		{events: []models.ChangeEvent{addedEvent("1")}, next: &Cursor{Page: 2}},
		{events: []models.ChangeEvent{addedEvent("2")}, next: &Cursor{Page: 3}},
		{events: []models.ChangeEvent{addedEvent("3")}, next: &Cursor{Page: 4}},
	}}
	store := &stubStore{}

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{
		Mode:     models.ModeFull,
		Source:   "china",
		Platform: "che168",
		MaxPages: 2,
	})

	if len(feed.cursors) != 2 {
		t.Errorf("fetched pages = %d, want 2", len(feed.cursors))
	}
	if run.Counts.Added != 2 {
		t.Errorf("added = %d, want 2", run.Counts.Added)
	}
}

func TestRunFullRemovedAfterAddedSameRun(t *testing.T) {
	page1 := make([]models.ChangeEvent, 0, 100)
	for i := 1; i <= 100; i++ {
		page1 = append(page1, addedEvent(strconv.Itoa(i)))
	}
	page2 := make([]models.ChangeEvent, 0, 10)
	for i := 1; i <= 10; i++ {
		page2 = append(page2, models.ChangeEvent{Type: models.ChangeRemoved, InnerID: strconv.Itoa(i)})
	}

	feed := &stubFeed{pages: []stubPage{
		{events: page1, next: &Cursor{Page: 2}},
		{events: page2},
	}}
	store := newMemStore()

	e := newTestEngine(feed, store, nil, nil, testSyncConfig())
	run := e.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if run.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q, want success", run.Status)
	}
	if run.Counts.Added != 100 || run.Counts.Removed != 10 || run.Counts.Errors != 0 {
		t.Errorf("counts = %+v, want added=100 removed=10 errors=0", run.Counts)
	}
	// removed для id, добавленного ранее в этом же запуске, не гасится
	for i := 1; i <= 10; i++ {
		rec := store.records["che168_"+strconv.Itoa(i)]
		if rec == nil || rec.Status != models.StatusRemoved {
			t.Fatalf("record %d must stay in the catalog with status removed", i)
		}
	}
	// дифф полного обхода не трогает записи, встретившиеся в ленте
	if len(store.records) != 100 {
		t.Errorf("records = %d, want all 100 kept", len(store.records))
	}
}

func TestRunFullRerunIsIdempotent(t *testing.T) {
	page := []models.ChangeEvent{addedEvent("1"), addedEvent("2"), addedEvent("3")}
	store := newMemStore()

	first := newTestEngine(&stubFeed{pages: []stubPage{{events: page}}}, store, nil, nil, testSyncConfig())
	run := first.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})
	if run.Counts.Added != 3 || run.Counts.Updated != 0 {
		t.Fatalf("first run counts = %+v, want added=3 updated=0", run.Counts)
	}

	// повторный обход той же ленты: все записи уже есть в каталоге
	second := newTestEngine(&stubFeed{pages: []stubPage{{events: page}}}, store, nil, nil, testSyncConfig())
	rerun := second.Run(context.Background(), models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"})

	if rerun.Status != models.RunStatusSuccess {
		t.Fatalf("status = %q, want success", rerun.Status)
	}
	if rerun.Counts.Added != 0 || rerun.Counts.Updated != 3 {
		t.Errorf("second run counts = %+v, want added=0 updated=3", rerun.Counts)
	}
	if rerun.Counts.Removed != 0 || len(store.records) != 3 {
		t.Errorf("rerun must not remove records: counts = %+v, records = %d", rerun.Counts, len(store.records))
	}
}
