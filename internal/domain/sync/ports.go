package sync

import (
	"context"
	"time"

	"github.com/athebyme/automarket-platform/internal/domain/models"
)

// CatalogStore — контракт хранилища каталога со стороны движка
// синхронизации. Реализуется postgres-адаптером.
type CatalogStore interface {
	// UpsertBatch атомарно записывает батч записей и возвращает,
	// сколько из них создано впервые и сколько обновлено
	UpsertBatch(ctx context.Context, runID string, records []*models.CatalogRecord) (added, updated int, err error)

	// ApplyPatch частично обновляет существующую запись полями патча.
	// Возвращает false, если записи с таким идентификатором нет
	ApplyPatch(ctx context.Context, runID, source, sourceID string, patch *models.RecordPatch) (bool, error)

	// MarkRemoved помечает запись статусом removed без удаления строки.
	// Возвращает false, если записи нет
	MarkRemoved(ctx context.Context, runID, source, sourceID string) (bool, error)

	// ListExistingIDs возвращает множество source_id активных записей
	// пары источник/платформа
	ListExistingIDs(ctx context.Context, source, platform string) (map[string]struct{}, error)

	// DeleteStale транзакционно удаляет протухшие записи по списку
	// source_id в рамках пары источник/платформа
	DeleteStale(ctx context.Context, runID, source, platform string, sourceIDs []string) (int, error)

	// SaveRun сохраняет итог запуска синхронизации
	SaveRun(ctx context.Context, run *models.SyncRun) error
}

// ReferenceStore хранит точку отсчета инкрементального режима между
// запусками. Реализуется redis-адаптером.
type ReferenceStore interface {
	LoadReference(ctx context.Context, source, platform string) (string, error)
	SaveReference(ctx context.Context, source, platform, ref string) error
}

// Notifier публикует уведомления об изменениях каталога. Ошибки
// публикации не влияют на результат запуска.
type Notifier interface {
	ListingChanged(ctx context.Context, source, sourceID, changeType, runID string) error
}

// FeedSource — контракт ленты изменений вендора. Боевая реализация —
// FeedClient, тесты подменяют ее стабом.
type FeedSource interface {
	FetchPage(ctx context.Context, cur Cursor) ([]models.ChangeEvent, *Cursor, error)
	ResolveReference(ctx context.Context, date time.Time) (string, error)
}
