package models

import (
	"time"
)

// Статусы объявления в каталоге
const (
	StatusOngoing = "ongoing" // объявление активно у вендора
	StatusSold    = "sold"    // вендор сообщил о продаже
	StatusRemoved = "removed" // снято с продажи или удалено при сверке
)

// Перечисления нормализованных полей. Неизвестные значения вендора
// всегда отображаются в "other", нормализация не падает на словаре.
const (
	FuelGasoline = "gasoline"
	FuelDiesel   = "diesel"
	FuelHybrid   = "hybrid"
	FuelElectric = "electric"
	FuelLPG      = "lpg"
	FuelOther    = "other"

	TransmissionAT    = "automatic"
	TransmissionMT    = "manual"
	TransmissionCVT   = "cvt"
	TransmissionOther = "other"

	DriveFWD   = "fwd"
	DriveRWD   = "rwd"
	DriveAWD   = "awd"
	DriveOther = "other"
)

// CatalogRecord представляет каноническую запись каталога автомобилей.
// Идентичность записи составная: (source, source_id), где source_id
// всегда имеет вид "<platform>_<внутренний id вендора>", что гарантирует
// непересекаемость пространств имен площадок, разделяющих один source.
type CatalogRecord struct {
	Source   string `json:"source"`    // рынок происхождения: china, japan, korea
	SourceID string `json:"source_id"` // "<platform>_<inner_id>"
	Platform string `json:"platform"`  // тег площадки внутри source

	// Описательные поля
	Make           string `json:"make"`
	Model          string `json:"model"`
	Grade          string `json:"grade,omitempty"` // комплектация/trim
	Year           int    `json:"year,omitempty"`
	MileageKm      int    `json:"mileage_km,omitempty"`
	DisplacementCC int    `json:"displacement_cc,omitempty"`
	FuelType       string `json:"fuel_type,omitempty"`
	Transmission   string `json:"transmission,omitempty"`
	DriveType      string `json:"drive_type,omitempty"`
	BodyType       string `json:"body_type,omitempty"`
	Color          string `json:"color,omitempty"`

	// Коммерческие поля. Цена в валюте вендора сохраняется для аудита,
	// цена в расчетной валюте фиксируется по статическому курсу на момент
	// нормализации.
	PriceOriginal float64 `json:"price_original,omitempty"`
	Currency      string  `json:"currency,omitempty"`
	PriceUSD      float64 `json:"price_usd,omitempty"`
	Status        string  `json:"status"`

	// Медиа: упорядоченный список URL изображений. Первый URL считается
	// основным и определяет валидность записи при разрешении медиа.
	Images []string `json:"images,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Типы изменений в истории каталога и уведомлениях
const (
	ChangeRecordUpsert      = "upsert"
	ChangeRecordMarkRemoved = "mark_removed"
	ChangeRecordStaleDelete = "stale_delete"
)

// RecordHistoryEntry представляет запись в истории изменений каталога
type RecordHistoryEntry struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"`
	SourceID   string         `json:"source_id"`
	ChangeType string         `json:"change_type"` // см. ChangeRecord*
	After      *CatalogRecord `json:"after,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	ChangedAt  int64          `json:"changed_at"`
}
