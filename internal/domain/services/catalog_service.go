package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	postgres "github.com/athebyme/automarket-platform/internal/adapters/storage"
	"github.com/athebyme/automarket-platform/internal/domain/models"
	syncer "github.com/athebyme/automarket-platform/internal/domain/sync"
	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
)

const recordCacheTTL = 5 * time.Minute

// CatalogService предоставляет бизнес-логику каталога: запуск
// синхронизаций и чтение записей с кэшированием. Одновременно для одной
// платформы выполняется не больше одного запуска.
type CatalogService struct {
	storage postgres.CatalogStoragePort
	cache   interfaces.CachePort
	engines map[string]*syncer.Engine // ключ — тег платформы
	logger  interfaces.LoggerPort

	busyMu sync.Mutex
	busy   map[string]bool
}

// NewCatalogService создает новый экземпляр CatalogService
func NewCatalogService(
	storage postgres.CatalogStoragePort,
	cache interfaces.CachePort,
	engines map[string]*syncer.Engine,
	logger interfaces.LoggerPort,
) *CatalogService {
	return &CatalogService{
		storage: storage,
		cache:   cache,
		engines: engines,
		logger:  logger,
		busy:    make(map[string]bool),
	}
}

// RunSync выполняет запуск синхронизации для платформы из запроса.
// Повторный запуск той же платформы до завершения текущего отклоняется.
func (s *CatalogService) RunSync(ctx context.Context, req models.SyncRequest) (*models.SyncRun, error) {
	switch req.Mode {
	case models.ModeIncremental, models.ModeFull, models.ModeFiltered:
	default:
		return nil, utils.ErrInvalidSyncMode
	}

	engine, ok := s.engines[req.Platform]
	if !ok {
		return nil, utils.ErrUnknownSource
	}

	if !s.acquire(req.Platform) {
		return nil, utils.ErrSyncAlreadyBusy
	}
	defer s.release(req.Platform)

	run := engine.Run(ctx, req)

	// после записи каталог в кэше устарел
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("record:%s:*", req.Source)); err != nil {
		s.logger.WarnWithContext(ctx, "не удалось инвалидировать кэш записей", "source", req.Source, "error", err)
	}

	return run, nil
}

// GetRecord получает запись каталога, сперва из кэша
func (s *CatalogService) GetRecord(ctx context.Context, source, sourceID string) (*models.CatalogRecord, error) {
	if source == "" || sourceID == "" {
		return nil, utils.ErrInvalidRecordKey
	}

	cacheKey := fmt.Sprintf("record:%s:%s", source, sourceID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
		var record models.CatalogRecord
		if err := json.Unmarshal(cached, &record); err == nil {
			return &record, nil
		}
	}

	record, err := s.storage.GetRecord(ctx, source, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	if record == nil {
		return nil, utils.ErrRecordNotFound
	}

	if data, err := json.Marshal(record); err == nil {
		if err := s.cache.Set(ctx, cacheKey, data, recordCacheTTL); err != nil {
			s.logger.WarnWithContext(ctx, "не удалось закэшировать запись", "source_id", sourceID, "error", err)
		}
	}

	return record, nil
}

// ListRecords получает страницу записей каталога с фильтрацией
func (s *CatalogService) ListRecords(ctx context.Context, filter *models.RecordFilter, page, pageSize int) ([]*models.CatalogRecord, int, error) {
	filterMap := filter.ToMap()

	records, total, err := s.storage.ListRecords(ctx, filterMap, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}

	return records, total, nil
}

// GetRecordHistory получает историю изменений записи каталога
func (s *CatalogService) GetRecordHistory(ctx context.Context, source, sourceID string, limit, offset int) ([]*models.RecordHistoryEntry, error) {
	if source == "" || sourceID == "" {
		return nil, utils.ErrInvalidRecordKey
	}

	entries, err := s.storage.GetRecordHistory(ctx, source, sourceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get record history: %w", err)
	}

	return entries, nil
}

// GetSyncRun получает запуск синхронизации по ID
func (s *CatalogService) GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error) {
	run, err := s.storage.GetSyncRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}
	if run == nil {
		return nil, utils.ErrSyncRunNotFound
	}

	return run, nil
}

// ListSyncRuns получает запуски синхронизации, последние первыми
func (s *CatalogService) ListSyncRuns(ctx context.Context, source string, limit, offset int) ([]*models.SyncRun, error) {
	runs, err := s.storage.ListSyncRuns(ctx, source, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	return runs, nil
}

// Platforms возвращает теги платформ, для которых настроены движки
func (s *CatalogService) Platforms() []string {
	platforms := make([]string, 0, len(s.engines))
	for platform := range s.engines {
		platforms = append(platforms, platform)
	}
	return platforms
}

func (s *CatalogService) acquire(platform string) bool {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busy[platform] {
		return false
	}
	s.busy[platform] = true
	return true
}

func (s *CatalogService) release(platform string) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	delete(s.busy, platform)
}

// IsKnownPlatform проверяет, настроен ли движок для платформы
func (s *CatalogService) IsKnownPlatform(platform string) bool {
	_, ok := s.engines[platform]
	return ok
}
