package sync

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/athebyme/automarket-platform/config"
	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
)

// Engine выполняет один запуск синхронизации: обходит ленту вендора,
// нормализует события, пишет батчи в хранилище и сводит итог запуска.
// Engine не хранит состояния между запусками, все зависимости — порты.
type Engine struct {
	feed       FeedSource
	store      CatalogStore
	refs       ReferenceStore
	notifier   Notifier
	resolver   *AssetResolver
	normalizer *Normalizer
	logger     interfaces.LoggerPort

	cfg config.SyncConfig
	src config.SourceConfig

	// подменяются в тестах
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// NewEngine создает движок синхронизации одной площадки.
// refs и notifier допускают nil: без refs инкрементальный режим всегда
// разрешает опорную точку заново, без notifier уведомления не публикуются.
func NewEngine(
	feed FeedSource,
	store CatalogStore,
	refs ReferenceStore,
	notifier Notifier,
	resolver *AssetResolver,
	normalizer *Normalizer,
	logger interfaces.LoggerPort,
	cfg config.SyncConfig,
	src config.SourceConfig,
) *Engine {
	return &Engine{
		feed:       feed,
		store:      store,
		refs:       refs,
		notifier:   notifier,
		resolver:   resolver,
		normalizer: normalizer,
		logger:     logger,
		cfg:        cfg,
		src:        src,
		sleep:      pause,
		now:        time.Now,
	}
}

// runState — изменяемое состояние одного запуска
type runState struct {
	reporter *Reporter
	logger   interfaces.LoggerPort

	seen          map[string]struct{} // inner_id событий added этого запуска
	seenSourceIDs map[string]struct{} // source_id для диффа full-режима
	pending       []*models.CatalogRecord

	pagesFetched  int
	maxPages      int
	deadline      time.Time
	crawlComplete bool   // лента дочитана до конца, дифф устаревших безопасен
	lastReference string // последняя опорная точка, выданная лентой
}

// Run выполняет запуск синхронизации и возвращает его итог.
// Ошибки запуска отражаются в статусе и счетчиках SyncRun, а не в error:
// у запуска всегда есть итог.
func (e *Engine) Run(ctx context.Context, req models.SyncRequest) *models.SyncRun {
	reporter := NewReporter(req)
	log := e.logger.WithSource(e.src.Source).WithRunID(reporter.RunID())

	st := &runState{
		reporter:      reporter,
		logger:        log,
		seen:          make(map[string]struct{}),
		seenSourceIDs: make(map[string]struct{}),
		pending:       make([]*models.CatalogRecord, 0, e.batchSize()),
		maxPages:      e.cfg.PageBudget,
		deadline:      e.now().Add(e.cfg.TimeBudget),
	}
	if req.MaxPages > 0 {
		st.maxPages = req.MaxPages
	}

	log.InfoWithContext(ctx, "запуск синхронизации",
		"mode", req.Mode, "platform", e.src.Platform, "max_pages", st.maxPages)

	cursors, err := e.buildCursors(ctx, req)
	if err != nil {
		reporter.FatalFeedError(err)
		log.ErrorWithContext(ctx, "не удалось разрешить опорную точку", "error", err)
		return e.finish(ctx, req, st)
	}

	e.crawl(ctx, st, cursors)
	e.flush(ctx, st)

	if req.Mode == models.ModeFull && st.crawlComplete {
		e.removeStale(ctx, st)
	}
	if req.Mode == models.ModeIncremental && st.lastReference != "" && e.refs != nil {
		if err := e.refs.SaveReference(ctx, e.src.Source, e.src.Platform, st.lastReference); err != nil {
			log.WarnWithContext(ctx, "не удалось сохранить опорную точку", "error", err)
		}
	}

	return e.finish(ctx, req, st)
}

// buildCursors строит стартовые курсоры обхода по режиму запуска
func (e *Engine) buildCursors(ctx context.Context, req models.SyncRequest) ([]Cursor, error) {
	switch req.Mode {
	case models.ModeFull:
		return []Cursor{{Page: 1}}, nil

	case models.ModeFiltered:
		cursors := make([]Cursor, 0, len(req.Filters))
		for _, f := range req.Filters {
			cursors = append(cursors, Cursor{Page: 1, Filter: f})
		}
		return cursors, nil

	case models.ModeIncremental:
		if e.refs != nil {
			ref, err := e.refs.LoadReference(ctx, e.src.Source, e.src.Platform)
			if err == nil && ref != "" {
				return []Cursor{{Since: ref}}, nil
			}
			if err != nil {
				e.logger.WarnWithContext(ctx, "опорная точка недоступна, разрешаем заново", "error", err)
			}
		}
		days := req.SinceReferenceDays
		if days <= 0 {
			days = 1
		}
		date := e.now().AddDate(0, 0, -days)
		ref, err := e.feed.ResolveReference(ctx, date)
		if err != nil {
			return nil, err
		}
		return []Cursor{{Since: ref}}, nil

	default:
		return nil, errors.New("неизвестный режим синхронизации: " + string(req.Mode))
	}
}

// crawl обходит ленту по курсорам. Выставляет crawlComplete только если
// все курсоры дочитаны до конца: дифф устаревших записей по оборванному
// обходу снес бы живые записи.
func (e *Engine) crawl(ctx context.Context, st *runState, cursors []Cursor) {
	st.crawlComplete = true

	for _, cur := range cursors {
		for {
			if st.maxPages > 0 && st.pagesFetched >= st.maxPages {
				st.logger.InfoWithContext(ctx, "бюджет страниц исчерпан", "pages", st.pagesFetched)
				st.crawlComplete = false
				return
			}
			if e.now().After(st.deadline) {
				st.logger.InfoWithContext(ctx, "бюджет времени исчерпан", "pages", st.pagesFetched)
				st.crawlComplete = false
				return
			}
			if st.pagesFetched > 0 {
				// обязательная пауза между запросами к вендору
				e.sleep(ctx, e.cfg.RequestDelay)
			}

			events, next, err := e.feed.FetchPage(ctx, cur)
			if err != nil {
				st.reporter.FatalFeedError(err)
				st.crawlComplete = false
				st.logger.ErrorWithContext(ctx, "лента оборвалась", "error", err, "pages", st.pagesFetched)
				return
			}
			st.pagesFetched++

			for _, ev := range events {
				e.processEvent(ctx, st, ev)
			}

			if next == nil {
				break
			}
			if next.Since != "" {
				st.lastReference = next.Since
			}
			cur = *next
		}
	}
}

// processEvent обрабатывает одно событие ленты. Повтор added для уже
// виденного id отбрасывается молча: вендоры дублируют элементы на
// границах страниц, первое вхождение побеждает. На removed и changed
// гашение не распространяется — это уже другое событие того же id.
func (e *Engine) processEvent(ctx context.Context, st *runState, ev models.ChangeEvent) {
	if ev.Err != nil {
		st.reporter.Skipped(1)
		st.logger.DebugWithContext(ctx, "элемент ленты пропущен", "inner_id", ev.InnerID, "error", ev.Err)
		return
	}

	sourceID := ComposeSourceID(e.src.Platform, ev.InnerID)
	st.seenSourceIDs[sourceID] = struct{}{}

	switch ev.Type {
	case models.ChangeAdded:
		if _, dup := st.seen[ev.InnerID]; dup {
			return
		}
		st.seen[ev.InnerID] = struct{}{}
		e.processAdded(ctx, st, ev)

	case models.ChangeChanged:
		patch := e.normalizer.PatchFromDelta(ev.Delta)
		if patch.Empty() {
			st.reporter.Skipped(1)
			return
		}
		applied, err := e.store.ApplyPatch(ctx, st.reporter.RunID(), e.src.Source, sourceID, patch)
		if err != nil {
			st.reporter.Errors(1)
			st.logger.ErrorWithContext(ctx, "не удалось применить дельту", "source_id", sourceID, "error", err)
			return
		}
		if !applied {
			st.reporter.Skipped(1)
			return
		}
		st.reporter.Updated(1)
		e.notify(ctx, st, sourceID, models.ChangeRecordUpsert)

	case models.ChangeRemoved:
		marked, err := e.store.MarkRemoved(ctx, st.reporter.RunID(), e.src.Source, sourceID)
		if err != nil {
			st.reporter.Errors(1)
			st.logger.ErrorWithContext(ctx, "не удалось пометить запись removed", "source_id", sourceID, "error", err)
			return
		}
		if !marked {
			st.reporter.Skipped(1)
			return
		}
		st.reporter.Removed(1)
		e.notify(ctx, st, sourceID, models.ChangeRecordMarkRemoved)
	}
}

// processAdded нормализует полезную нагрузку, разрешает медиа и ставит
// запись в очередь на батчевый апсерт
func (e *Engine) processAdded(ctx context.Context, st *runState, ev models.ChangeEvent) {
	record, err := e.normalizer.Normalize(ev.Payload)
	if err != nil {
		st.reporter.Skipped(1)
		st.logger.DebugWithContext(ctx, "запись не нормализуется", "inner_id", ev.InnerID, "error", err)
		return
	}

	urls, ok := e.resolver.Resolve(ev.InnerID, record.Images)
	if !ok {
		st.reporter.Skipped(1)
		st.logger.DebugWithContext(ctx, "медиа записи невалидны", "inner_id", ev.InnerID)
		return
	}
	record.Images = urls

	st.pending = append(st.pending, record)
	if len(st.pending) >= e.batchSize() {
		e.flush(ctx, st)
	}
}

// flush записывает накопленный батч. Ошибка записи изолируется батчем:
// его элементы уходят в errors, остальные батчи запуска не затрагиваются.
func (e *Engine) flush(ctx context.Context, st *runState) {
	if len(st.pending) == 0 {
		return
	}
	batch := st.pending
	st.pending = st.pending[:0]

	added, updated, err := e.store.UpsertBatch(ctx, st.reporter.RunID(), batch)
	if err != nil {
		st.reporter.Errors(len(batch))
		st.logger.ErrorWithContext(ctx, "батч не записан", "size", len(batch), "error", err)
		return
	}
	st.reporter.Added(added)
	st.reporter.Updated(updated)
	st.reporter.BatchCommitted()

	for _, rec := range batch {
		e.notify(ctx, st, rec.SourceID, models.ChangeRecordUpsert)
	}
}

// removeStale удаляет записи пары источник/платформа, не встретившиеся
// в полном обходе. Записи других платформ того же источника не трогаются.
func (e *Engine) removeStale(ctx context.Context, st *runState) {
	existing, err := e.store.ListExistingIDs(ctx, e.src.Source, e.src.Platform)
	if err != nil {
		st.reporter.Errors(1)
		st.logger.ErrorWithContext(ctx, "не удалось получить список записей для диффа", "error", err)
		return
	}

	stale := make([]string, 0)
	for sourceID := range existing {
		if _, ok := st.seenSourceIDs[sourceID]; !ok {
			stale = append(stale, sourceID)
		}
	}
	if len(stale) == 0 {
		return
	}
	sort.Strings(stale)

	deleted, err := e.store.DeleteStale(ctx, st.reporter.RunID(), e.src.Source, e.src.Platform, stale)
	if err != nil {
		st.reporter.Errors(len(stale))
		st.logger.ErrorWithContext(ctx, "не удалось удалить устаревшие записи", "count", len(stale), "error", err)
		return
	}
	st.reporter.Removed(deleted)
	st.logger.InfoWithContext(ctx, "удалены устаревшие записи", "count", deleted)
}

// notify публикует уведомление об изменении; публикация не влияет на итог
func (e *Engine) notify(ctx context.Context, st *runState, sourceID, changeType string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.ListingChanged(ctx, e.src.Source, sourceID, changeType, st.reporter.RunID()); err != nil {
		st.logger.WarnWithContext(ctx, "уведомление не опубликовано", "source_id", sourceID, "error", err)
	}
}

// finish финализирует и сохраняет итог запуска
func (e *Engine) finish(ctx context.Context, req models.SyncRequest, st *runState) *models.SyncRun {
	run := st.reporter.Finalize()

	if err := e.store.SaveRun(ctx, run); err != nil {
		st.logger.ErrorWithContext(ctx, "итог запуска не сохранен", "error", err)
	}

	st.logger.InfoWithContext(ctx, "синхронизация завершена",
		"status", run.Status,
		"added", run.Counts.Added,
		"updated", run.Counts.Updated,
		"removed", run.Counts.Removed,
		"skipped", run.Counts.Skipped,
		"errors", run.Counts.Errors,
		"pages", st.pagesFetched,
	)
	return run
}

func (e *Engine) batchSize() int {
	if e.cfg.BatchSize > 0 {
		return e.cfg.BatchSize
	}
	return 50
}

// pause ждет d с уважением к отмене контекста
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
