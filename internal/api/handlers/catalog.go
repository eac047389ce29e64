package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/internal/domain/services"
	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
	pkgutils "github.com/athebyme/automarket-platform/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// CatalogHandler обработчик запросов чтения каталога
type CatalogHandler struct {
	catalogService *services.CatalogService
	logger         interfaces.LoggerPort
}

// NewCatalogHandler создает новый обработчик каталога
func NewCatalogHandler(catalogService *services.CatalogService, logger interfaces.LoggerPort) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
		logger:         logger,
	}
}

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

// GetRecord обрабатывает запрос на получение записи каталога
func (h *CatalogHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	sourceID := chi.URLParam(r, "sourceID")
	if source == "" || sourceID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Не указан source или source_id",
		})
		return
	}

	record, err := h.catalogService.GetRecord(r.Context(), source, sourceID)
	if err != nil {
		if errors.Is(err, utils.ErrRecordNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Запись не найдена",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка получения записи каталога",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения записи",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    record,
	})
}

// ListRecords обрабатывает запрос на получение списка записей каталога
func (h *CatalogHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := parseRecordFilter(r)

	records, total, err := h.catalogService.ListRecords(r.Context(), filter, page, pageSize)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения списка записей",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения списка записей",
		})
		return
	}

	pagination := pkgutils.NewPagination(page, pageSize, "updated_at", true)
	pagination.SetTotal(int64(total))

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    records,
		Meta: map[string]interface{}{
			"pagination": pagination,
		},
	})
}

// GetRecordHistory обрабатывает запрос на получение истории записи
func (h *CatalogHandler) GetRecordHistory(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	sourceID := chi.URLParam(r, "sourceID")
	if source == "" || sourceID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Не указан source или source_id",
		})
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, err := h.catalogService.GetRecordHistory(r.Context(), source, sourceID, limit, offset)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения истории записи",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения истории записи",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    entries,
	})
}

// parseRecordFilter собирает фильтр каталога из query-параметров
func parseRecordFilter(r *http.Request) *models.RecordFilter {
	q := r.URL.Query()

	filter := &models.RecordFilter{
		Source:       q.Get("source"),
		Platform:     q.Get("platform"),
		Make:         q.Get("make"),
		Model:        q.Get("model"),
		FuelType:     q.Get("fuel_type"),
		Transmission: q.Get("transmission"),
		Status:       q.Get("status"),
	}

	if v := q.Get("min_price_usd"); v != "" {
		if price, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MinPriceUSD = price
		}
	}
	if v := q.Get("max_price_usd"); v != "" {
		if price, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MaxPriceUSD = price
		}
	}
	if v := q.Get("min_year"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			filter.MinYear = year
		}
	}
	if v := q.Get("max_year"); v != "" {
		if year, err := strconv.Atoi(v); err == nil {
			filter.MaxYear = year
		}
	}
	if v := q.Get("max_mileage_km"); v != "" {
		if km, err := strconv.Atoi(v); err == nil {
			filter.MaxMileageKm = km
		}
	}

	return filter
}
