package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
	"github.com/athebyme/automarket-platform/pkg/tx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogStorageInterface определяет интерфейс взаимодействия с хранилищем PostgreSQL
type CatalogStorageInterface interface {
	// Методы движка синхронизации
	UpsertBatch(ctx context.Context, runID string, records []*models.CatalogRecord) (added, updated int, err error)
	ApplyPatch(ctx context.Context, runID, source, sourceID string, patch *models.RecordPatch) (bool, error)
	MarkRemoved(ctx context.Context, runID, source, sourceID string) (bool, error)
	ListExistingIDs(ctx context.Context, source, platform string) (map[string]struct{}, error)
	DeleteStale(ctx context.Context, runID, source, platform string, sourceIDs []string) (int, error)

	// Методы чтения каталога
	GetRecord(ctx context.Context, source, sourceID string) (*models.CatalogRecord, error)
	ListRecords(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]*models.CatalogRecord, int, error)
	GetRecordHistory(ctx context.Context, source, sourceID string, limit, offset int) ([]*models.RecordHistoryEntry, error)

	// Методы запусков синхронизации
	SaveRun(ctx context.Context, run *models.SyncRun) error
	GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error)
	ListSyncRuns(ctx context.Context, source string, limit, offset int) ([]*models.SyncRun, error)
}

// CatalogStoragePort объединяет методы каталога с транзакционным портом
type CatalogStoragePort interface {
	CatalogStorageInterface
	interfaces.StoragePort
}

// contextKey тип для ключей контекста
type contextKey string

// Ключи контекста
const (
	txKey contextKey = "transaction"
)

// CatalogStorage реализация хранилища каталога для PostgreSQL
type CatalogStorage struct {
	pool *pgxpool.Pool
	txm  tx.TxManager
}

// NewPostgresStorage создает новый экземпляр CatalogStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*CatalogStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &CatalogStorage{
		pool: pool,
		txm:  tx.NewTxManager(pool),
	}, nil
}

func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*CatalogStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &CatalogStorage{
		pool: pool,
		txm:  tx.NewTxManager(pool),
	}, nil
}

// Close закрывает соединение с БД
func (r *CatalogStorage) Close() error {
	r.pool.Close()
	return nil
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *CatalogStorage) getExecutor(ctx context.Context) executor {
	if tx := r.getTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// getTx получает транзакцию из контекста
func (r *CatalogStorage) getTx(ctx context.Context) pgx.Tx {
	txFromCtx, ok := ctx.Value(tx.GetKey()).(pgx.Tx)
	if !ok {
		if localTx, ok := ctx.Value(txKey).(pgx.Tx); ok {
			return localTx
		}
		return nil
	}
	return txFromCtx
}

// BeginTx начинает новую транзакцию
func (r *CatalogStorage) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey, tx), nil
}

// CommitTx фиксирует транзакцию
func (r *CatalogStorage) CommitTx(ctx context.Context) error {
	tx := r.getTx(ctx)
	if tx == nil {
		return errors.New("no transaction in context")
	}
	return tx.Commit(ctx)
}

// RollbackTx откатывает транзакцию
func (r *CatalogStorage) RollbackTx(ctx context.Context) error {
	tx := r.getTx(ctx)
	if tx == nil {
		return errors.New("no transaction in context")
	}
	return tx.Rollback(ctx)
}

// UpsertBatch атомарно записывает батч записей каталога. Весь батч уходит
// одной транзакцией: при ошибке любой записи откатывается батч целиком,
// а не запуск. RETURNING xmax = 0 различает вставку и обновление.
func (r *CatalogStorage) UpsertBatch(ctx context.Context, runID string, records []*models.CatalogRecord) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer func() {
		_ = dbTx.Rollback(ctx)
	}()

	query := `
		INSERT INTO catalog.records (source, source_id, platform, make, model, grade, year,
			mileage_km, displacement_cc, fuel_type, transmission, drive_type, body_type, color,
			price_original, currency, price_usd, status, images, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (source, source_id)
		DO UPDATE SET
			platform = $3,
			make = $4,
			model = $5,
			grade = $6,
			year = $7,
			mileage_km = $8,
			displacement_cc = $9,
			fuel_type = $10,
			transmission = $11,
			drive_type = $12,
			body_type = $13,
			color = $14,
			price_original = $15,
			currency = $16,
			price_usd = $17,
			status = $18,
			images = $19,
			updated_at = $21
		RETURNING (xmax = 0) AS inserted
	`

	var added, updated int
	now := time.Now().UTC()

	for _, record := range records {
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		record.UpdatedAt = now

		imagesJSON, err := json.Marshal(record.Images)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to marshal images for %s: %w", record.SourceID, err)
		}

		var inserted bool
		err = dbTx.QueryRow(ctx, query,
			record.Source, record.SourceID, record.Platform, record.Make, record.Model,
			record.Grade, record.Year, record.MileageKm, record.DisplacementCC,
			record.FuelType, record.Transmission, record.DriveType, record.BodyType,
			record.Color, record.PriceOriginal, record.Currency, record.PriceUSD,
			record.Status, imagesJSON, record.CreatedAt, record.UpdatedAt,
		).Scan(&inserted)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert record %s: %w", record.SourceID, err)
		}

		if inserted {
			added++
		} else {
			updated++
		}

		if err := r.saveHistoryTx(ctx, dbTx, record.Source, record.SourceID, models.ChangeRecordUpsert, record, runID); err != nil {
			return 0, 0, err
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	return added, updated, nil
}

// ApplyPatch частично обновляет запись полями патча.
// Возвращает false, если записи нет: дельта для незнакомой записи
// пропускается, а не превращается в половинную вставку.
func (r *CatalogStorage) ApplyPatch(ctx context.Context, runID, source, sourceID string, patch *models.RecordPatch) (bool, error) {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE catalog.records SET
			price_original = COALESCE($3, price_original),
			price_usd = COALESCE($4, price_usd),
			status = COALESCE($5, status),
			mileage_km = COALESCE($6, mileage_km),
			updated_at = $7
		WHERE source = $1 AND source_id = $2
	`

	tag, err := executor.Exec(ctx, query, source, sourceID,
		patch.PriceOriginal, patch.PriceUSD, patch.Status, patch.MileageKm, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to apply patch to %s: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := r.saveHistory(ctx, source, sourceID, models.ChangeRecordUpsert, nil, runID); err != nil {
		return true, err
	}
	return true, nil
}

// MarkRemoved помечает запись статусом removed, строка остается в каталоге
func (r *CatalogStorage) MarkRemoved(ctx context.Context, runID, source, sourceID string) (bool, error) {
	executor := r.getExecutor(ctx)

	query := `
		UPDATE catalog.records SET status = $3, updated_at = $4
		WHERE source = $1 AND source_id = $2 AND status != $3
	`

	tag, err := executor.Exec(ctx, query, source, sourceID, models.StatusRemoved, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to mark record %s removed: %w", sourceID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := r.saveHistory(ctx, source, sourceID, models.ChangeRecordMarkRemoved, nil, runID); err != nil {
		return true, err
	}
	return true, nil
}

// ListExistingIDs возвращает множество source_id пары источник/платформа.
// Область видимости строго ограничена платформой: полный обход одной
// площадки не должен видеть записи соседних площадок того же источника.
func (r *CatalogStorage) ListExistingIDs(ctx context.Context, source, platform string) (map[string]struct{}, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT source_id FROM catalog.records
		WHERE source = $1 AND platform = $2
	`

	rows, err := executor.Query(ctx, query, source, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan source_id row: %w", err)
		}
		ids[id] = struct{}{}
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating source_id rows: %w", rows.Err())
	}

	return ids, nil
}

// DeleteStale удаляет записи по списку source_id в рамках пары
// источник/платформа. Удаление и записи истории уходят одной транзакцией
// через TxManager: getExecutor подхватывает транзакцию из контекста.
func (r *CatalogStorage) DeleteStale(ctx context.Context, runID, source, platform string, sourceIDs []string) (int, error) {
	if len(sourceIDs) == 0 {
		return 0, nil
	}

	query := `
		DELETE FROM catalog.records
		WHERE source = $1 AND platform = $2 AND source_id = ANY($3)
	`

	var deleted int
	err := r.txm.Do(ctx, func(txCtx context.Context) error {
		tag, err := r.getExecutor(txCtx).Exec(txCtx, query, source, platform, sourceIDs)
		if err != nil {
			return fmt.Errorf("failed to delete stale records: %w", err)
		}
		deleted = int(tag.RowsAffected())

		for _, sourceID := range sourceIDs {
			if err := r.saveHistory(txCtx, source, sourceID, models.ChangeRecordStaleDelete, nil, runID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// GetRecord получает запись каталога по составному идентификатору
func (r *CatalogStorage) GetRecord(ctx context.Context, source, sourceID string) (*models.CatalogRecord, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT source, source_id, platform, make, model, grade, year, mileage_km,
			displacement_cc, fuel_type, transmission, drive_type, body_type, color,
			price_original, currency, price_usd, status, images, created_at, updated_at
		FROM catalog.records
		WHERE source = $1 AND source_id = $2
	`

	record, err := scanRecord(executor.QueryRow(ctx, query, source, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Запись не найдена
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// ListRecords возвращает страницу записей каталога с фильтрацией
func (r *CatalogStorage) ListRecords(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]*models.CatalogRecord, int, error) {
	executor := r.getExecutor(ctx)

	where, args := buildRecordFilter(filters)

	countQuery := "SELECT COUNT(*) FROM catalog.records" + where

	var total int
	if err := executor.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count records: %w", err)
	}

	if total == 0 {
		return []*models.CatalogRecord{}, 0, nil
	}

	argPos := len(args) + 1
	dataQuery := `
		SELECT source, source_id, platform, make, model, grade, year, mileage_km,
			displacement_cc, fuel_type, transmission, drive_type, body_type, color,
			price_original, currency, price_usd, status, images, created_at, updated_at
		FROM catalog.records` + where + `
		ORDER BY updated_at DESC
		LIMIT $` + fmt.Sprint(argPos) + ` OFFSET $` + fmt.Sprint(argPos+1)

	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := executor.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*models.CatalogRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, record)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("error while iterating record rows: %w", rows.Err())
	}

	return records, total, nil
}

// GetRecordHistory получает историю изменений записи каталога
func (r *CatalogStorage) GetRecordHistory(ctx context.Context, source, sourceID string, limit, offset int) ([]*models.RecordHistoryEntry, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT id, source, source_id, change_type, after, run_id, changed_at
		FROM catalog.history
		WHERE source = $1 AND source_id = $2
		ORDER BY changed_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := executor.Query(ctx, query, source, sourceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query record history: %w", err)
	}
	defer rows.Close()

	var entries []*models.RecordHistoryEntry
	for rows.Next() {
		var entry models.RecordHistoryEntry
		var afterJSON []byte

		err := rows.Scan(&entry.ID, &entry.Source, &entry.SourceID, &entry.ChangeType,
			&afterJSON, &entry.RunID, &entry.ChangedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}

		if len(afterJSON) > 0 {
			entry.After = &models.CatalogRecord{}
			if err := json.Unmarshal(afterJSON, entry.After); err != nil {
				return nil, fmt.Errorf("failed to unmarshal 'after' state: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating history rows: %w", rows.Err())
	}

	return entries, nil
}

// SaveRun сохраняет итог запуска синхронизации
func (r *CatalogStorage) SaveRun(ctx context.Context, run *models.SyncRun) error {
	executor := r.getExecutor(ctx)

	query := `
		INSERT INTO catalog.sync_runs (id, mode, source, platform, status, counts, started_at, finished_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id)
		DO UPDATE SET
			status = $5,
			counts = $6,
			finished_at = $8,
			error = $9
	`

	countsJSON, err := json.Marshal(run.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal run counts: %w", err)
	}

	_, err = executor.Exec(ctx, query, run.ID, run.Mode, run.Source, run.Platform,
		run.Status, countsJSON, run.StartedAt, run.FinishedAt, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}

	return nil
}

// GetSyncRun получает запуск синхронизации по ID
func (r *CatalogStorage) GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT id, mode, source, platform, status, counts, started_at, finished_at, error
		FROM catalog.sync_runs
		WHERE id = $1
	`

	run, err := scanSyncRun(executor.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Запуск не найден
		}
		return nil, fmt.Errorf("failed to get sync run: %w", err)
	}

	return run, nil
}

// ListSyncRuns возвращает запуски синхронизации, последние первыми.
// Пустой source возвращает запуски всех источников.
func (r *CatalogStorage) ListSyncRuns(ctx context.Context, source string, limit, offset int) ([]*models.SyncRun, error) {
	executor := r.getExecutor(ctx)

	query := `
		SELECT id, mode, source, platform, status, counts, started_at, finished_at, error
		FROM catalog.sync_runs
		WHERE ($1 = '' OR source = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := executor.Query(ctx, query, source, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync run row: %w", err)
		}
		runs = append(runs, run)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating sync run rows: %w", rows.Err())
	}

	return runs, nil
}

// saveHistory пишет запись истории изменений каталога
func (r *CatalogStorage) saveHistory(ctx context.Context, source, sourceID, changeType string, after *models.CatalogRecord, runID string) error {
	executor := r.getExecutor(ctx)
	return saveHistoryWith(ctx, executor, source, sourceID, changeType, after, runID)
}

// saveHistoryTx пишет запись истории внутри уже открытой транзакции
func (r *CatalogStorage) saveHistoryTx(ctx context.Context, dbTx pgx.Tx, source, sourceID, changeType string, after *models.CatalogRecord, runID string) error {
	return saveHistoryWith(ctx, dbTx, source, sourceID, changeType, after, runID)
}

func saveHistoryWith(ctx context.Context, e executor, source, sourceID, changeType string, after *models.CatalogRecord, runID string) error {
	query := `
		INSERT INTO catalog.history (id, source, source_id, change_type, after, run_id, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var afterJSON []byte
	if after != nil {
		var err error
		afterJSON, err = json.Marshal(after)
		if err != nil {
			return fmt.Errorf("failed to marshal 'after' state: %w", err)
		}
	}

	_, err := e.Exec(ctx, query, uuid.New().String(), source, sourceID, changeType,
		afterJSON, runID, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to save history record: %w", err)
	}

	return nil
}

// scanRecord собирает запись каталога из строки результата
func scanRecord(row pgx.Row) (*models.CatalogRecord, error) {
	var record models.CatalogRecord
	var imagesJSON []byte

	err := row.Scan(&record.Source, &record.SourceID, &record.Platform, &record.Make,
		&record.Model, &record.Grade, &record.Year, &record.MileageKm, &record.DisplacementCC,
		&record.FuelType, &record.Transmission, &record.DriveType, &record.BodyType,
		&record.Color, &record.PriceOriginal, &record.Currency, &record.PriceUSD,
		&record.Status, &imagesJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &record.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images: %w", err)
		}
	}

	return &record, nil
}

// scanSyncRun собирает запуск синхронизации из строки результата
func scanSyncRun(row pgx.Row) (*models.SyncRun, error) {
	var run models.SyncRun
	var countsJSON []byte

	err := row.Scan(&run.ID, &run.Mode, &run.Source, &run.Platform, &run.Status,
		&countsJSON, &run.StartedAt, &run.FinishedAt, &run.Error)
	if err != nil {
		return nil, err
	}

	if len(countsJSON) > 0 {
		if err := json.Unmarshal(countsJSON, &run.Counts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run counts: %w", err)
		}
	}

	return &run, nil
}

// buildRecordFilter строит WHERE-часть запроса по map фильтров
func buildRecordFilter(filters map[string]interface{}) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(cond string, val interface{}) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if v, ok := filters["source"]; ok {
		add("source = $%d", v)
	}
	if v, ok := filters["platform"]; ok {
		add("platform = $%d", v)
	}
	if v, ok := filters["make"]; ok {
		add("make = $%d", v)
	}
	if v, ok := filters["model"]; ok {
		add("model = $%d", v)
	}
	if v, ok := filters["min_price_usd"]; ok {
		add("price_usd >= $%d", v)
	}
	if v, ok := filters["max_price_usd"]; ok {
		add("price_usd <= $%d", v)
	}
	if v, ok := filters["min_year"]; ok {
		add("year >= $%d", v)
	}
	if v, ok := filters["max_year"]; ok {
		add("year <= $%d", v)
	}
	if v, ok := filters["max_mileage_km"]; ok {
		add("mileage_km <= $%d", v)
	}
	if v, ok := filters["fuel_type"]; ok {
		add("fuel_type = $%d", v)
	}
	if v, ok := filters["transmission"]; ok {
		add("transmission = $%d", v)
	}
	if v, ok := filters["status"]; ok {
		add("status = $%d", v)
	}
	if v, ok := filters["statuses"]; ok {
		add("status = ANY($%d)", v)
	}
	if v, ok := filters["updated_after"]; ok {
		if ts, ok := v.(int64); ok {
			add("updated_at >= $%d", time.Unix(ts, 0).UTC())
		}
	}
	if v, ok := filters["updated_before"]; ok {
		if ts, ok := v.(int64); ok {
			add("updated_at <= $%d", time.Unix(ts, 0).UTC())
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}

	where := " WHERE " + conditions[0]
	for _, cond := range conditions[1:] {
		where += " AND " + cond
	}
	return where, args
}
