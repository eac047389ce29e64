package sync

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Имена параметров запроса, в которых вендоры передают срок действия
// подписанного URL (Unix-секунды)
var expiryParams = []string{"expires", "Expires", "x-expires", "x-oss-expires", "exp"}

// AssetResolver решает, какому списку изображений объявления доверять
// и валидно ли объявление с точки зрения медиа.
//
// Порядок предпочтения: свежая запись реестра свежести, иначе URL из
// полезной нагрузки вендора. Объявление без валидного основного
// изображения не попадает в каталог (учитывается как skipped).
type AssetResolver struct {
	ledger        *FreshnessLedger
	permanentHost string
	blockedHosts  map[string]struct{}
	now           func() time.Time
}

// NewAssetResolver создает резолвер изображений.
// ledger может быть nil: тогда используются только URL вендора.
func NewAssetResolver(ledger *FreshnessLedger, permanentHost string, blockedHosts []string) *AssetResolver {
	blocked := make(map[string]struct{}, len(blockedHosts))
	for _, h := range blockedHosts {
		blocked[strings.ToLower(h)] = struct{}{}
	}
	return &AssetResolver{
		ledger:        ledger,
		permanentHost: strings.ToLower(permanentHost),
		blockedHosts:  blocked,
		now:           time.Now,
	}
}

// Resolve возвращает нормализованный список URL изображений объявления
// и признак валидности. При isValid == false вызывающая сторона не
// должна записывать объявление в каталог.
func (r *AssetResolver) Resolve(innerID string, vendorEmbedded []string) (urls []string, isValid bool) {
	candidates := vendorEmbedded
	if ledgerImages, ok := r.ledger.Lookup(innerID); ok {
		candidates = ledgerImages
	}

	if len(candidates) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(candidates))
	for _, u := range candidates {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		normalized = append(normalized, NormalizeAssetURL(u))
	}
	if len(normalized) == 0 {
		return nil, false
	}

	// Валидность объявления определяет основной (первый) URL
	primary := normalized[0]
	if !r.urlValid(primary) {
		return normalized, false
	}
	if r.hostBlocked(primary) {
		// Заблокированные CDN отклоняют запросы независимо от подписи,
		// поэтому блок-лист имеет приоритет над валидной подписью
		return normalized, false
	}

	return normalized, true
}

// urlValid проверяет один URL по правилам вендорских подписей:
//  1. URL собственного постоянного хранилища валиден всегда,
//     проверка срока действия к нему не применяется
//  2. URL с машиночитаемым сроком действия валиден строго до него
//  3. URL без срока действия проверить нельзя — он не отклоняется
func (r *AssetResolver) urlValid(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if r.permanentHost != "" && host == r.permanentHost {
		return true
	}

	if ts, ok := expiryTimestamp(u); ok {
		return ts.After(r.now())
	}

	return true
}

// hostBlocked проверяет источник URL по статическому блок-листу CDN
func (r *AssetResolver) hostBlocked(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	_, blocked := r.blockedHosts[strings.ToLower(u.Hostname())]
	return blocked
}

// expiryTimestamp извлекает срок действия из строки запроса URL
func expiryTimestamp(u *url.URL) (time.Time, bool) {
	q := u.Query()
	for _, name := range expiryParams {
		v := q.Get(name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		return time.Unix(secs, 0), true
	}
	return time.Time{}, false
}

// NormalizeAssetURL приводит URL изображения к канонической форме:
//
//  1. Схлопывает один уровень двойного процентного кодирования:
//     литеральная последовательность "%25XX" становится "%XX".
//     Вендоры периодически отдают уже закодированные URL повторно
//     закодированными.
//  2. Перекодирует литеральный '+' в строке запроса как "%2B":
//     без этого CDN читает '+' как пробел и подпись не сходится.
func NormalizeAssetURL(raw string) string {
	// Один проход замены "%25" -> "%" снимает ровно один уровень
	// двойного кодирования
	collapsed := strings.ReplaceAll(raw, "%25", "%")

	path, query, found := strings.Cut(collapsed, "?")
	if !found {
		return collapsed
	}
	return path + "?" + strings.ReplaceAll(query, "+", "%2B")
}
