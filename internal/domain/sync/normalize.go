package sync

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/athebyme/automarket-platform/config"
	"github.com/athebyme/automarket-platform/internal/domain/models"
)

// Объемы двигателя меньше этого порога считаются литрами и переводятся в
// кубические сантиметры. Вендоры непоследовательны: часть отдает 1.5,
// часть — 1500.
const displacementLitersThreshold = 20

// Normalizer отображает сырую вендорскую полезную нагрузку в каноническую
// запись каталога. Статический курс валюты и таблицы словарей фиксируются
// при создании: один и тот же payload при одной и той же конфигурации
// всегда дает побайтно идентичную запись (без учета временных меток,
// которые проставляет хранилище).
type Normalizer struct {
	src   config.SourceConfig
	vocab Vocabulary
}

// NewNormalizer создает нормализатор для одной вендорской площадки
func NewNormalizer(src config.SourceConfig, vocab Vocabulary) *Normalizer {
	return &Normalizer{src: src, vocab: vocab}
}

// rawListing представляет сырое объявление вендора. Поля, которых нет в
// этой структуре, отбрасываются — полное покрытие вендорских схем не
// является целью.
type rawListing struct {
	InnerID      flexID   `json:"inner_id"`
	Brand        string   `json:"brand,omitempty"`
	Make         string   `json:"make,omitempty"`
	Model        string   `json:"model"`
	Grade        string   `json:"grade,omitempty"`
	Trim         string   `json:"trim,omitempty"`
	Year         int      `json:"year,omitempty"`
	MileageKm    float64  `json:"mileage_km,omitempty"`
	MileageWan   float64  `json:"mileage_wan,omitempty"` // 万公里, китайские площадки
	Displacement float64  `json:"displacement,omitempty"`
	FuelType     string   `json:"fuel_type,omitempty"`
	Transmission string   `json:"transmission,omitempty"`
	DriveType    string   `json:"drive_type,omitempty"`
	BodyType     string   `json:"body_type,omitempty"`
	Color        string   `json:"color,omitempty"`
	Price        float64  `json:"price,omitempty"`
	Status       string   `json:"status,omitempty"`
	Images       []string `json:"images,omitempty"`
}

// Normalize отображает полезную нагрузку события added в запись каталога.
// Возвращает NormalizationError, если отсутствуют поля идентичности
// (inner_id либо марка с моделью); все остальные поля деградируют до
// значения по умолчанию, а не роняют запись.
func (n *Normalizer) Normalize(payload json.RawMessage) (*models.CatalogRecord, error) {
	var raw rawListing
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, &NormalizationError{Reason: "полезная нагрузка не разбирается: " + err.Error()}
	}

	innerID := raw.InnerID.String()
	if innerID == "" {
		return nil, &NormalizationError{Reason: "отсутствует inner_id"}
	}

	make := strings.TrimSpace(raw.Make)
	if make == "" {
		make = strings.TrimSpace(raw.Brand)
	}
	model := strings.TrimSpace(raw.Model)
	if make == "" || model == "" {
		return nil, &NormalizationError{InnerID: innerID, Reason: "отсутствует марка или модель"}
	}

	grade := strings.TrimSpace(raw.Grade)
	if grade == "" {
		grade = strings.TrimSpace(raw.Trim)
	}

	status := strings.ToLower(strings.TrimSpace(raw.Status))
	switch status {
	case models.StatusOngoing, models.StatusSold, models.StatusRemoved:
	default:
		status = models.StatusOngoing
	}

	record := &models.CatalogRecord{
		Source:   n.src.Source,
		SourceID: ComposeSourceID(n.src.Platform, innerID),
		Platform: n.src.Platform,

		Make:           make,
		Model:          model,
		Grade:          grade,
		Year:           raw.Year,
		MileageKm:      normalizeMileage(raw.MileageKm, raw.MileageWan),
		DisplacementCC: normalizeDisplacement(raw.Displacement),
		FuelType:       mapEnum(n.vocab.Fuel, raw.FuelType, models.FuelOther),
		Transmission:   mapEnum(n.vocab.Transmission, raw.Transmission, models.TransmissionOther),
		DriveType:      mapEnum(n.vocab.Drive, raw.DriveType, models.DriveOther),
		BodyType:       mapEnum(n.vocab.Body, raw.BodyType, "other"),
		Color:          strings.TrimSpace(raw.Color),

		PriceOriginal: raw.Price,
		Currency:      n.src.Currency,
		PriceUSD:      n.convertPrice(raw.Price),
		Status:        status,

		// сырые URL вендора; подмена на постоянные делается резолвером медиа
		Images: raw.Images,
	}

	return record, nil
}

// PatchFromDelta переводит дельту ленты в нормализованный патч записи:
// цена конвертируется в расчетную валюту, статус проверяется по словарю,
// неизвестный статус из патча отбрасывается.
func (n *Normalizer) PatchFromDelta(d *models.ChangeDelta) *models.RecordPatch {
	if d == nil {
		return nil
	}

	patch := &models.RecordPatch{}

	if d.Price != nil && *d.Price > 0 {
		original := *d.Price
		usd := n.convertPrice(original)
		patch.PriceOriginal = &original
		patch.PriceUSD = &usd
	}

	if d.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*d.Status))
		switch status {
		case models.StatusOngoing, models.StatusSold, models.StatusRemoved:
			patch.Status = &status
		}
	}

	if d.Mileage != nil && *d.Mileage > 0 {
		km := *d.Mileage
		patch.MileageKm = &km
	}

	return patch
}

// ComposeSourceID собирает внутренний идентификатор каталога.
// Префикс платформы гарантирует непересекаемость пространств имен
// площадок, разделяющих один source.
func ComposeSourceID(platform, innerID string) string {
	return platform + "_" + innerID
}

// convertPrice переводит цену вендора в расчетную валюту по статическому
// курсу площадки. Курс — конфигурационная константа, документированное
// приближение, а не живой FX-фид.
func (n *Normalizer) convertPrice(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return math.Round(price*n.src.RateToUSD*100) / 100
}

// normalizeDisplacement переводит объем двигателя в кубические сантиметры
func normalizeDisplacement(v float64) int {
	if v <= 0 {
		return 0
	}
	if v < displacementLitersThreshold {
		return int(math.Round(v * 1000))
	}
	return int(math.Round(v))
}

// normalizeMileage приводит пробег к километрам.
// mileage_wan (万公里) имеет приоритет: площадка, отдающая оба поля,
// считается отдающей пробег в десятках тысяч километров.
func normalizeMileage(km, wan float64) int {
	if wan > 0 {
		return int(math.Round(wan * 10000))
	}
	if km > 0 {
		return int(math.Round(km))
	}
	return 0
}
