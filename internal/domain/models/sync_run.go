package models

import "time"

// SyncMode определяет режим синхронизации
type SyncMode string

const (
	// ModeIncremental обходит ленту изменений от опорной точки
	ModeIncremental SyncMode = "incremental"
	// ModeFull обходит весь текущий каталог вендора постранично,
	// после обхода выполняется удаление устаревших записей
	ModeFull SyncMode = "full"
	// ModeFiltered как full, но по явным критериям (например по брендам);
	// удаление устаревших записей не выполняется, обход заведомо частичный
	ModeFiltered SyncMode = "filtered"
)

// Статусы завершения запуска синхронизации
const (
	RunStatusSuccess = "success" // фатальных ошибок ленты не было
	RunStatusPartial = "partial" // лента оборвалась, но часть батчей записана
	RunStatusFailed  = "failed"  // не удалось записать ни одного батча
)

// SyncRequest представляет запрос на запуск синхронизации.
// Принимается от планировщика или аутентифицированного ручного вызова.
type SyncRequest struct {
	Mode               SyncMode `json:"mode"`
	Source             string   `json:"source"`
	Platform           string   `json:"platform"`
	MaxPages           int      `json:"max_pages,omitempty"`
	SinceReferenceDays int      `json:"since_reference_days,omitempty"`
	Filters            []string `json:"filters,omitempty"` // подзапросы filtered-режима, по одному на бренд
}

// SyncCounts содержит счетчики запуска синхронизации
type SyncCounts struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// SyncRun представляет итог одного запуска синхронизации.
// Создается в начале запуска, финализируется в конце и далее не изменяется.
type SyncRun struct {
	ID         string     `json:"id"`
	Mode       SyncMode   `json:"mode"`
	Source     string     `json:"source"`
	Platform   string     `json:"platform"`
	Status     string     `json:"status"`
	Counts     SyncCounts `json:"counts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Error      string     `json:"error,omitempty"` // текст фатальной ошибки ленты, если была
}
