package interfaces

import (
	"context"
	"time"
)

// CachePort определяет интерфейс для работы с системой кэширования
// Реализация может использовать Redis, Memcached или любую другую систему кэширования
type CachePort interface {
	// Get получает значение из кэша по ключу
	// Возвращает ErrCacheMiss, если значение не найдено
	Get(ctx context.Context, key string) ([]byte, error)

	// GetWithSource получает значение из кэша по ключу с учетом источника синхронизации
	// Помогает обеспечить изоляцию данных разных источников
	GetWithSource(ctx context.Context, key string, source string) ([]byte, error)

	// Set сохраняет значение в кэше с указанным сроком действия
	// Если expiration равно 0, срок действия не устанавливается
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// SetWithSource сохраняет значение в кэше с учетом источника синхронизации
	SetWithSource(ctx context.Context, key string, value []byte, source string, expiration time.Duration) error

	// Delete удаляет значение из кэша по ключу
	Delete(ctx context.Context, key string) error

	// DeleteWithSource удаляет значение из кэша по ключу с учетом источника
	DeleteWithSource(ctx context.Context, key string, source string) error

	// DeleteByPattern удаляет все значения, соответствующие шаблону
	// Например, "ledger:*" удалит все ключи, начинающиеся с "ledger:"
	DeleteByPattern(ctx context.Context, pattern string) error

	// Close закрывает соединение с системой кэширования
	Close() error
}
