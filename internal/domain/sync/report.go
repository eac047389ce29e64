package sync

import (
	"time"

	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/google/uuid"
)

// Reporter накапливает счетчики одного запуска синхронизации по мере
// наблюдения побочных эффектов движка. Собственной логики ветвления у
// него нет, кроме вывода терминального статуса.
type Reporter struct {
	run *models.SyncRun

	fatalErr         error
	committedBatches int
}

// NewReporter создает репортер в начале запуска
func NewReporter(req models.SyncRequest) *Reporter {
	return &Reporter{
		run: &models.SyncRun{
			ID:        uuid.New().String(),
			Mode:      req.Mode,
			Source:    req.Source,
			Platform:  req.Platform,
			StartedAt: time.Now().UTC(),
		},
	}
}

// RunID возвращает идентификатор запуска
func (r *Reporter) RunID() string { return r.run.ID }

// Added учитывает создание новых записей
func (r *Reporter) Added(n int) { r.run.Counts.Added += n }

// Updated учитывает обновление существующих записей
func (r *Reporter) Updated(n int) { r.run.Counts.Updated += n }

// Removed учитывает пометку или удаление записей
func (r *Reporter) Removed(n int) { r.run.Counts.Removed += n }

// Skipped учитывает пропущенные элементы (битые записи, невалидные медиа)
func (r *Reporter) Skipped(n int) { r.run.Counts.Skipped += n }

// Errors учитывает ошибки записи (размер неудавшегося батча)
func (r *Reporter) Errors(n int) { r.run.Counts.Errors += n }

// BatchCommitted отмечает успешную запись одного батча
func (r *Reporter) BatchCommitted() { r.committedBatches++ }

// FatalFeedError фиксирует фатальную ошибку ленты, оборвавшую пагинацию
func (r *Reporter) FatalFeedError(err error) {
	if r.fatalErr == nil {
		r.fatalErr = err
	}
}

// Finalize завершает запуск и выводит терминальный статус:
//   - success: фатальных ошибок ленты не было
//   - partial: лента оборвалась, но часть батчей уже записана
//   - failed:  лента оборвалась и записать не удалось ничего
//
// Возвращенный SyncRun после этого не изменяется.
func (r *Reporter) Finalize() *models.SyncRun {
	r.run.FinishedAt = time.Now().UTC()

	switch {
	case r.fatalErr == nil:
		r.run.Status = models.RunStatusSuccess
	case r.committedBatches > 0 || r.run.Counts.Removed > 0 || r.run.Counts.Updated > 0:
		r.run.Status = models.RunStatusPartial
		r.run.Error = r.fatalErr.Error()
	default:
		r.run.Status = models.RunStatusFailed
		r.run.Error = r.fatalErr.Error()
	}

	return r.run
}
