package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/internal/domain/services"
	"github.com/athebyme/automarket-platform/internal/utils"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// SyncHandler обработчик запросов управления синхронизацией
type SyncHandler struct {
	catalogService *services.CatalogService
	logger         interfaces.LoggerPort
}

// NewSyncHandler создает новый обработчик синхронизации
func NewSyncHandler(catalogService *services.CatalogService, logger interfaces.LoggerPort) *SyncHandler {
	return &SyncHandler{
		catalogService: catalogService,
		logger:         logger,
	}
}

// RunSync обрабатывает ручной запуск синхронизации. Запуск выполняется
// синхронно: ответ всегда содержит итог запуска, включая partial/failed,
// поэтому статус ответа 200 и для частично неудачных запусков.
func (h *SyncHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "Некорректное тело запроса",
		})
		return
	}

	run, err := h.catalogService.RunSync(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrInvalidSyncMode):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "Неизвестный режим синхронизации",
			})
		case errors.Is(err, utils.ErrUnknownSource):
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Error:   "bad_request",
				Code:    http.StatusBadRequest,
				Message: "Платформа не настроена",
			})
		case errors.Is(err, utils.ErrSyncAlreadyBusy):
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, errorResponse{
				Error:   "conflict",
				Code:    http.StatusConflict,
				Message: "Синхронизация платформы уже выполняется",
			})
		default:
			h.logger.ErrorWithContext(r.Context(), "Ошибка запуска синхронизации",
				interfaces.LogField{Key: "error", Value: err.Error()})
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, errorResponse{
				Error:   "internal_error",
				Code:    http.StatusInternalServerError,
				Message: "Ошибка запуска синхронизации",
			})
		}
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    run,
	})
}

// GetSyncRun обрабатывает запрос на получение запуска по ID
func (h *SyncHandler) GetSyncRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{
			Error:   "bad_request",
			Code:    http.StatusBadRequest,
			Message: "ID запуска не указан",
		})
		return
	}

	run, err := h.catalogService.GetSyncRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, utils.ErrSyncRunNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, errorResponse{
				Error:   "not_found",
				Code:    http.StatusNotFound,
				Message: "Запуск не найден",
			})
			return
		}

		h.logger.ErrorWithContext(r.Context(), "Ошибка получения запуска",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения запуска",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    run,
	})
}

// ListSyncRuns обрабатывает запрос на получение списка запусков
func (h *SyncHandler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	runs, err := h.catalogService.ListSyncRuns(r.Context(), r.URL.Query().Get("source"), limit, offset)
	if err != nil {
		h.logger.ErrorWithContext(r.Context(), "Ошибка получения списка запусков",
			interfaces.LogField{Key: "error", Value: err.Error()})
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, errorResponse{
			Error:   "internal_error",
			Code:    http.StatusInternalServerError,
			Message: "Ошибка получения списка запусков",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, response{
		Success: true,
		Data:    runs,
	})
}
