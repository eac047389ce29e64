package models

import "encoding/json"

// ChangeType определяет тип события в ленте изменений вендора
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeChanged ChangeType = "changed"
	ChangeRemoved ChangeType = "removed"
)

// ChangeEvent представляет одно событие изменения из ленты вендора.
// Размеченное объединение: полезная нагрузка зависит от Type.
//   - added:   Payload содержит полное объявление вендора
//   - changed: Delta содержит только изменившиеся поля (обычно цену/статус)
//   - removed: заполнен только InnerID
//
// События не персистятся, они потребляются движком сверки немедленно.
type ChangeEvent struct {
	Type    ChangeType      `json:"change_type"`
	InnerID string          `json:"inner_id"` // стабильный id объявления у вендора
	Payload json.RawMessage `json:"payload,omitempty"`
	Delta   *ChangeDelta    `json:"delta,omitempty"`

	// Err помечает событие, которое не удалось разобрать. Такие события
	// не прерывают страницу, вызывающая сторона считает их как skipped.
	Err error `json:"-"`
}

// ChangeDelta представляет частичное обновление объявления
type ChangeDelta struct {
	Price   *float64 `json:"price,omitempty"`
	Status  *string  `json:"status,omitempty"`
	Mileage *int     `json:"mileage,omitempty"`
}

// RecordPatch — нормализованная дельта, готовая к записи в хранилище.
// В отличие от ChangeDelta цена здесь уже переведена в расчетную валюту,
// а статус проверен по словарю.
type RecordPatch struct {
	PriceOriginal *float64 `json:"price_original,omitempty"`
	PriceUSD      *float64 `json:"price_usd,omitempty"`
	Status        *string  `json:"status,omitempty"`
	MileageKm     *int     `json:"mileage_km,omitempty"`
}

// Empty сообщает, что в патче нет ни одного поля
func (p *RecordPatch) Empty() bool {
	return p == nil || (p.PriceOriginal == nil && p.Status == nil && p.MileageKm == nil)
}
