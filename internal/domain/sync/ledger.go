package sync

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FreshnessLedger хранит недавно проверенные списки изображений по
// внутреннему id вендора. Реестр периодически выгружается внешним
// конвейером; запись заслуживает доверия только пока ее возраст меньше
// окна удержания. Просроченные строки отбрасываются уже на этапе
// разбора и в память не попадают.
//
// Реестр — источник данных об изображениях и только о них: он никогда
// не используется как свидетельство существования объявления.
type FreshnessLedger struct {
	entries *gocache.Cache
}

// NewFreshnessLedger создает пустой реестр с указанным окном удержания
func NewFreshnessLedger(retention time.Duration) *FreshnessLedger {
	return &FreshnessLedger{
		entries: gocache.New(retention, retention/2),
	}
}

// LoadFreshnessLedger читает снапшот реестра из потока.
// Формат: строки с разделителем '|', колонки inner_id, images, synced_at;
// первая строка — заголовок. Колонка images содержит JSON-массив URL,
// кавычки внутри могут быть экранированы удвоением.
func LoadFreshnessLedger(r io.Reader, retention time.Duration, now time.Time) (*FreshnessLedger, error) {
	ledger := NewFreshnessLedger(retention)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		idIdx, imagesIdx, syncedIdx = -1, -1, -1
		lineNo                      int
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		cols := strings.Split(line, "|")

		// Заголовок определяет позиции колонок
		if lineNo == 1 {
			for i, name := range cols {
				switch strings.TrimSpace(strings.ToLower(name)) {
				case "inner_id":
					idIdx = i
				case "images":
					imagesIdx = i
				case "synced_at":
					syncedIdx = i
				}
			}
			if idIdx < 0 || imagesIdx < 0 || syncedIdx < 0 {
				return nil, fmt.Errorf("реестр свежести: неполный заголовок %q", line)
			}
			continue
		}

		maxIdx := idIdx
		if imagesIdx > maxIdx {
			maxIdx = imagesIdx
		}
		if syncedIdx > maxIdx {
			maxIdx = syncedIdx
		}
		if len(cols) <= maxIdx {
			continue // битая строка, пропускаем
		}

		syncedAt, err := parseLedgerTime(strings.TrimSpace(cols[syncedIdx]))
		if err != nil {
			continue
		}

		age := now.Sub(syncedAt)
		if age >= retention {
			continue // просроченная запись игнорируется уже при разборе
		}

		images, err := parseLedgerImages(cols[imagesIdx])
		if err != nil || len(images) == 0 {
			continue
		}

		innerID := strings.TrimSpace(cols[idIdx])
		if innerID == "" {
			continue
		}

		// Остаток окна удержания становится TTL записи в памяти
		ledger.entries.Set(innerID, images, retention-age)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("реестр свежести: ошибка чтения: %w", err)
	}

	return ledger, nil
}

// Lookup возвращает список изображений для объявления, если запись
// существует и еще не просрочена
func (l *FreshnessLedger) Lookup(innerID string) ([]string, bool) {
	if l == nil {
		return nil, false
	}
	v, ok := l.entries.Get(innerID)
	if !ok {
		return nil, false
	}
	images, ok := v.([]string)
	return images, ok
}

// Len возвращает число живых записей реестра
func (l *FreshnessLedger) Len() int {
	if l == nil {
		return 0
	}
	return l.entries.ItemCount()
}

// parseLedgerImages разбирает колонку images: JSON-массив строк,
// возможно с удвоенными кавычками
func parseLedgerImages(col string) ([]string, error) {
	col = strings.TrimSpace(col)
	col = strings.Trim(col, `"`)
	col = strings.ReplaceAll(col, `""`, `"`)

	var images []string
	if err := json.Unmarshal([]byte(col), &images); err != nil {
		return nil, err
	}
	return images, nil
}

// parseLedgerTime разбирает метку времени snapshot-а
func parseLedgerTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("нераспознанная метка времени %q", s)
}
