package sync

import (
	"errors"
	"fmt"
)

// Фатальные для запуска ошибки ленты изменений. Любая из них останавливает
// пагинацию; уже записанные батчи сохраняются, запуск завершается со
// статусом partial.
var (
	// ErrTransport — сетевая ошибка или не-2xx ответ вендора
	ErrTransport = errors.New("ошибка транспорта ленты изменений")

	// ErrRateLimited — вендор ответил троттлингом; повторов внутри запуска
	// нет, продолжение откладывается до следующего планового запуска
	ErrRateLimited = errors.New("превышен лимит запросов вендора")

	// ErrMalformedEnvelope — конверт страницы не разбирается
	ErrMalformedEnvelope = errors.New("некорректный конверт страницы")
)

// Локальные ошибки уровня одного элемента. Не прерывают запуск,
// учитываются в счетчике skipped.
var (
	// ErrMalformedRecord — отдельное событие страницы не разбирается
	ErrMalformedRecord = errors.New("некорректная запись ленты")

	// ErrAssetInvalid — у объявления нет ни одного валидного изображения
	ErrAssetInvalid = errors.New("изображения объявления невалидны")
)

// NormalizationError описывает отказ нормализации одного объявления:
// в полезной нагрузке отсутствуют обязательные поля идентичности.
type NormalizationError struct {
	InnerID string
	Reason  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("нормализация %s: %s", e.InnerID, e.Reason)
}

// BatchWriteError описывает отказ записи одного батча. Учитывается в
// errors на размер батча, запуск продолжается со следующего батча.
type BatchWriteError struct {
	BatchIndex int
	Size       int
	Err        error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("запись батча %d (%d записей): %v", e.BatchIndex, e.Size, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}

// IsFatalFeedErr сообщает, должна ли ошибка ленты остановить запуск
func IsFatalFeedErr(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrMalformedEnvelope)
}
