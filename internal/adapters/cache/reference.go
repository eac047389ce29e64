package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
)

// ReferenceStore хранит опорные точки инкрементальных запусков поверх
// CachePort. Точка живет без TTL: протухшую точку лента отвергнет сама,
// после чего движок разрешит новую.
type ReferenceStore struct {
	cache interfaces.CachePort
}

// NewReferenceStore создает хранилище опорных точек
func NewReferenceStore(cache interfaces.CachePort) *ReferenceStore {
	return &ReferenceStore{cache: cache}
}

func referenceKey(platform string) string {
	return fmt.Sprintf("sync:reference:%s", platform)
}

// LoadReference возвращает сохраненную опорную точку пары источник/платформа.
// Отсутствие точки не ошибка: возвращается пустая строка.
func (s *ReferenceStore) LoadReference(ctx context.Context, source, platform string) (string, error) {
	val, err := s.cache.GetWithSource(ctx, referenceKey(platform), source)
	if err != nil {
		if errors.Is(err, utils.ErrCacheMiss) {
			return "", nil
		}
		return "", err
	}
	return string(val), nil
}

// SaveReference сохраняет опорную точку пары источник/платформа
func (s *ReferenceStore) SaveReference(ctx context.Context, source, platform, ref string) error {
	return s.cache.SetWithSource(ctx, referenceKey(platform), []byte(ref), source, 0)
}
