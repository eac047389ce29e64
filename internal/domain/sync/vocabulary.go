package sync

import (
	"strings"

	"github.com/athebyme/automarket-platform/internal/domain/models"
)

// Vocabulary содержит таблицы отображения вендорских словарей в
// канонические перечисления каталога. Таблицы неизменяемы после
// создания: они загружаются один раз при старте и инжектируются в
// нормализатор, что сохраняет нормализацию детерминированной.
type Vocabulary struct {
	Fuel         map[string]string
	Transmission map[string]string
	Drive        map[string]string
	Body         map[string]string
}

// DefaultVocabulary возвращает встроенные таблицы словарей подключенных
// вендоров. Ключи хранятся в нижнем регистре; значение по умолчанию для
// неизвестных строк — "other", нормализация никогда не падает на словаре.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Fuel: map[string]string{
			"gasoline": models.FuelGasoline,
			"petrol":   models.FuelGasoline,
			"汽油":       models.FuelGasoline,
			"ガソリン":     models.FuelGasoline,
			"가솔린":      models.FuelGasoline,
			"diesel":   models.FuelDiesel,
			"柴油":       models.FuelDiesel,
			"ディーゼル":    models.FuelDiesel,
			"디젤":       models.FuelDiesel,
			"hybrid":   models.FuelHybrid,
			"油电混合":     models.FuelHybrid,
			"ハイブリッド":   models.FuelHybrid,
			"하이브리드":    models.FuelHybrid,
			"electric": models.FuelElectric,
			"ev":       models.FuelElectric,
			"纯电动":      models.FuelElectric,
			"電気":       models.FuelElectric,
			"전기":       models.FuelElectric,
			"lpg":      models.FuelLPG,
		},
		Transmission: map[string]string{
			"automatic": models.TransmissionAT,
			"at":        models.TransmissionAT,
			"自动":        models.TransmissionAT,
			"オートマ":      models.TransmissionAT,
			"자동":        models.TransmissionAT,
			"manual":    models.TransmissionMT,
			"mt":        models.TransmissionMT,
			"手动":        models.TransmissionMT,
			"マニュアル":     models.TransmissionMT,
			"수동":        models.TransmissionMT,
			"cvt":       models.TransmissionCVT,
			"无级变速":      models.TransmissionCVT,
		},
		Drive: map[string]string{
			"fwd":  models.DriveFWD,
			"前驱":   models.DriveFWD,
			"前置前驱": models.DriveFWD,
			"rwd":  models.DriveRWD,
			"后驱":   models.DriveRWD,
			"前置后驱": models.DriveRWD,
			"awd":  models.DriveAWD,
			"4wd":  models.DriveAWD,
			"四驱":   models.DriveAWD,
			"全駆":   models.DriveAWD,
		},
		Body: map[string]string{
			"sedan":     "sedan",
			"三厢车":       "sedan",
			"セダン":       "sedan",
			"세단":        "sedan",
			"suv":       "suv",
			"hatchback": "hatchback",
			"两厢车":       "hatchback",
			"wagon":     "wagon",
			"coupe":     "coupe",
			"minivan":   "minivan",
			"mpv":       "minivan",
			"pickup":    "pickup",
			"皮卡":        "pickup",
		},
	}
}

// mapEnum переводит вендорскую строку в каноническое значение.
// Неизвестные и пустые строки всегда дают fallback.
func mapEnum(table map[string]string, vendorValue, fallback string) string {
	v := strings.ToLower(strings.TrimSpace(vendorValue))
	if v == "" {
		return ""
	}
	if mapped, ok := table[v]; ok {
		return mapped
	}
	return fallback
}
