package models

// RecordFilter представляет структурированную модель для фильтрации записей каталога
type RecordFilter struct {
	// Основные поля фильтрации
	Source   string `json:"source,omitempty"`
	Platform string `json:"platform,omitempty"`
	Make     string `json:"make,omitempty"`
	Model    string `json:"model,omitempty"`

	// Фильтрация по цене (в расчетной валюте)
	MinPriceUSD float64 `json:"min_price_usd,omitempty"`
	MaxPriceUSD float64 `json:"max_price_usd,omitempty"`

	// Фильтрация по характеристикам
	MinYear      int    `json:"min_year,omitempty"`
	MaxYear      int    `json:"max_year,omitempty"`
	MaxMileageKm int    `json:"max_mileage_km,omitempty"`
	FuelType     string `json:"fuel_type,omitempty"`
	Transmission string `json:"transmission,omitempty"`

	// Фильтрация по статусу
	Status   string   `json:"status,omitempty"`
	Statuses []string `json:"statuses,omitempty"`

	// Фильтрация по времени (Unix timestamp)
	UpdatedAfter  int64 `json:"updated_after,omitempty"`
	UpdatedBefore int64 `json:"updated_before,omitempty"`
}

// ToMap преобразует RecordFilter в map для использования в запросах
func (f *RecordFilter) ToMap() map[string]interface{} {
	result := make(map[string]interface{})

	if f.Source != "" {
		result["source"] = f.Source
	}

	if f.Platform != "" {
		result["platform"] = f.Platform
	}

	if f.Make != "" {
		result["make"] = f.Make
	}

	if f.Model != "" {
		result["model"] = f.Model
	}

	if f.MinPriceUSD > 0 {
		result["min_price_usd"] = f.MinPriceUSD
	}

	if f.MaxPriceUSD > 0 {
		result["max_price_usd"] = f.MaxPriceUSD
	}

	if f.MinYear > 0 {
		result["min_year"] = f.MinYear
	}

	if f.MaxYear > 0 {
		result["max_year"] = f.MaxYear
	}

	if f.MaxMileageKm > 0 {
		result["max_mileage_km"] = f.MaxMileageKm
	}

	if f.FuelType != "" {
		result["fuel_type"] = f.FuelType
	}

	if f.Transmission != "" {
		result["transmission"] = f.Transmission
	}

	if f.Status != "" {
		result["status"] = f.Status
	}

	if len(f.Statuses) > 0 {
		result["statuses"] = f.Statuses
	}

	if f.UpdatedAfter > 0 {
		result["updated_after"] = f.UpdatedAfter
	}

	if f.UpdatedBefore > 0 {
		result["updated_before"] = f.UpdatedBefore
	}

	return result
}
