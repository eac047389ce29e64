package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/automarket-platform/config"
	"github.com/athebyme/automarket-platform/internal/domain/models"
	syncer "github.com/athebyme/automarket-platform/internal/domain/sync"
	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
)

// nopLogger — логгер-заглушка
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

// memCache — потокобезопасный кэш в памяти для тестов
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, utils.ErrCacheMiss
	}
	return v, nil
}

func (c *memCache) GetWithSource(ctx context.Context, key, source string) ([]byte, error) {
	return c.Get(ctx, "source:"+source+":"+key)
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) SetWithSource(ctx context.Context, key string, value []byte, source string, exp time.Duration) error {
	return c.Set(ctx, "source:"+source+":"+key, value, exp)
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) DeleteWithSource(ctx context.Context, key, source string) error {
	return c.Delete(ctx, "source:"+source+":"+key)
}

func (c *memCache) DeleteByPattern(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *memCache) Close() error { return nil }

func (c *memCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// stubStorage реализует порт хранилища поверх карт в памяти.
// Удовлетворяет и порту сервиса, и порту движка синхронизации.
type stubStorage struct {
	mu       sync.Mutex
	records  map[string]*models.CatalogRecord // ключ source:source_id
	runs     map[string]*models.SyncRun
	getCalls int
}

func newStubStorage() *stubStorage {
	return &stubStorage{
		records: make(map[string]*models.CatalogRecord),
		runs:    make(map[string]*models.SyncRun),
	}
}

func (s *stubStorage) UpsertBatch(_ context.Context, _ string, records []*models.CatalogRecord) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, r := range records {
		key := r.Source + ":" + r.SourceID
		if _, ok := s.records[key]; !ok {
			added++
		}
		s.records[key] = r
	}
	return added, len(records) - added, nil
}

func (s *stubStorage) ApplyPatch(context.Context, string, string, string, *models.RecordPatch) (bool, error) {
	return false, nil
}

func (s *stubStorage) MarkRemoved(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (s *stubStorage) ListExistingIDs(context.Context, string, string) (map[string]struct{}, error) {
	return nil, nil
}

func (s *stubStorage) DeleteStale(context.Context, string, string, string, []string) (int, error) {
	return 0, nil
}

func (s *stubStorage) GetRecord(_ context.Context, source, sourceID string) (*models.CatalogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	return s.records[source+":"+sourceID], nil
}

func (s *stubStorage) ListRecords(context.Context, map[string]interface{}, int, int) ([]*models.CatalogRecord, int, error) {
	return nil, 0, nil
}

func (s *stubStorage) GetRecordHistory(context.Context, string, string, int, int) ([]*models.RecordHistoryEntry, error) {
	return nil, nil
}

func (s *stubStorage) SaveRun(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *stubStorage) GetSyncRun(_ context.Context, runID string) (*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[runID], nil
}

func (s *stubStorage) ListSyncRuns(context.Context, string, int, int) ([]*models.SyncRun, error) {
	return nil, nil
}

func (s *stubStorage) BeginTx(ctx context.Context) (context.Context, error) { return ctx, nil }
func (s *stubStorage) CommitTx(context.Context) error                       { return nil }
func (s *stubStorage) RollbackTx(context.Context) error                     { return nil }
func (s *stubStorage) Close() error                                         { return nil }

// blockingFeed держит FetchPage открытым, пока тест не отпустит release
type blockingFeed struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingFeed) FetchPage(ctx context.Context, _ syncer.Cursor) ([]models.ChangeEvent, *syncer.Cursor, error) {
	f.once.Do(func() { close(f.started) })
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return nil, nil, nil
}

func (f *blockingFeed) ResolveReference(context.Context, time.Time) (string, error) {
	return "", errors.New("не используется")
}

func newServiceEngine(feed syncer.FeedSource, storage *stubStorage) *syncer.Engine {
	src := config.SourceConfig{Source: "china", Platform: "che168", Currency: "CNY", RateToUSD: 0.14}
	cfg := config.SyncConfig{BatchSize: 50, PageBudget: 10, TimeBudget: time.Hour}
	resolver := syncer.NewAssetResolver(nil, "assets.automarket.internal", nil)
	normalizer := syncer.NewNormalizer(src, syncer.DefaultVocabulary())
	return syncer.NewEngine(feed, storage, nil, nil, resolver, normalizer, nopLogger{}, cfg, src)
}

func TestRunSyncValidation(t *testing.T) {
	storage := newStubStorage()
	svc := NewCatalogService(storage, newMemCache(), map[string]*syncer.Engine{}, nopLogger{})

	_, err := svc.RunSync(context.Background(), models.SyncRequest{Mode: "turbo", Platform: "che168"})
	if !errors.Is(err, utils.ErrInvalidSyncMode) {
		t.Fatalf("err = %v, want ErrInvalidSyncMode", err)
	}

	_, err = svc.RunSync(context.Background(), models.SyncRequest{Mode: models.ModeFull, Platform: "unknown"})
	if !errors.Is(err, utils.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
}

func TestRunSyncBusyGuard(t *testing.T) {
	storage := newStubStorage()
	feed := &blockingFeed{started: make(chan struct{}), release: make(chan struct{})}
	engines := map[string]*syncer.Engine{"che168": newServiceEngine(feed, storage)}
	svc := NewCatalogService(storage, newMemCache(), engines, nopLogger{})

	req := models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"}

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.RunSync(context.Background(), req)
		firstDone <- err
	}()

	<-feed.started

	// пока первый запуск держит платформу, второй отклоняется
	if _, err := svc.RunSync(context.Background(), req); !errors.Is(err, utils.ErrSyncAlreadyBusy) {
		t.Fatalf("err = %v, want ErrSyncAlreadyBusy", err)
	}

	close(feed.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// после завершения платформа снова свободна
	if _, err := svc.RunSync(context.Background(), req); err != nil {
		t.Fatalf("run after release failed: %v", err)
	}
}

func TestGetRecordCaching(t *testing.T) {
	storage := newStubStorage()
	storage.records["china:che168_1"] = &models.CatalogRecord{
		Source:   "china",
		SourceID: "che168_1",
		Make:     "Toyota",
		Model:    "Camry",
		Status:   models.StatusOngoing,
	}
	svc := NewCatalogService(storage, newMemCache(), nil, nopLogger{})

	for i := 0; i < 3; i++ {
		rec, err := svc.GetRecord(context.Background(), "china", "che168_1")
		if err != nil {
			t.Fatalf("GetRecord: %v", err)
		}
		if rec.Make != "Toyota" {
			t.Fatalf("record = %+v", rec)
		}
	}

	// хранилище опрошено один раз, остальное из кэша
	if storage.getCalls != 1 {
		t.Fatalf("storage calls = %d, want 1", storage.getCalls)
	}

	if _, err := svc.GetRecord(context.Background(), "china", "missing"); !errors.Is(err, utils.ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
	if _, err := svc.GetRecord(context.Background(), "", "che168_1"); !errors.Is(err, utils.ErrInvalidRecordKey) {
		t.Fatalf("err = %v, want ErrInvalidRecordKey", err)
	}
}

func TestRunSyncInvalidatesRecordCache(t *testing.T) {
	storage := newStubStorage()
	storage.records["china:che168_1"] = &models.CatalogRecord{
		Source:   "china",
		SourceID: "che168_1",
		Make:     "Toyota",
		Model:    "Camry",
		Status:   models.StatusOngoing,
	}

	cache := newMemCache()
	feed := &blockingFeed{started: make(chan struct{}), release: make(chan struct{})}
	close(feed.release) // лента сразу пуста
	engines := map[string]*syncer.Engine{"che168": newServiceEngine(feed, storage)}
	svc := NewCatalogService(storage, cache, engines, nopLogger{})

	// прогреваем кэш
	if _, err := svc.GetRecord(context.Background(), "china", "che168_1"); err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if cache.len() == 0 {
		t.Fatalf("cache must be warm")
	}

	req := models.SyncRequest{Mode: models.ModeFull, Source: "china", Platform: "che168"}
	if _, err := svc.RunSync(context.Background(), req); err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if cache.len() != 0 {
		t.Fatalf("record cache must be invalidated after a run, %d keys left", cache.len())
	}
}
