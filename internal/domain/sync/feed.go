package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/athebyme/automarket-platform/internal/domain/models"
)

// Cursor описывает позицию в ленте вендора. Используется один из двух
// вариантов: номер страницы (full/filtered) или опорная точка (incremental).
type Cursor struct {
	Page   int    // страничный курсор, начиная с 1
	Since  string // опорная точка ленты изменений
	Filter string // критерий подзапроса filtered-режима, пустой для остальных
}

// FeedClient получает страницы ленты изменений вендора.
// Один вызов FetchPage — один HTTP-запрос. Обязательную паузу между
// последовательными вызовами вставляет вызывающая сторона: это требование
// корректности по отношению к лимитам вендора, а не оптимизация.
type FeedClient struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	userAgent string
}

// NewFeedClient создает клиента ленты изменений для одной площадки
func NewFeedClient(baseURL, apiKey string, timeout time.Duration) *FeedClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &FeedClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
		userAgent: "automarket-catalog-sync/1.0",
	}
}

// pageEnvelope представляет конверт страницы вендорского API
type pageEnvelope struct {
	Result []json.RawMessage `json:"result"`
	Meta   struct {
		NextPage  *int   `json:"next_page"`
		NextSince string `json:"next_since,omitempty"`
	} `json:"meta"`
}

// flexID принимает вендорский идентификатор, заданный строкой или числом.
// Идентификатор — непрозрачная стабильная строка; числовая форма у части
// площадок — особенность их сериализации, а не свойство id.
type flexID string

// UnmarshalJSON разбирает строковый либо числовой литерал
func (id *flexID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = flexID(n.String())
	return nil
}

func (id flexID) String() string { return string(id) }

// rawChangeItem — минимальная форма одного элемента страницы
type rawChangeItem struct {
	ChangeType string              `json:"change_type,omitempty"`
	InnerID    flexID              `json:"inner_id"`
	Delta      *models.ChangeDelta `json:"delta,omitempty"`
}

// FetchPage получает одну страницу ленты. Возвращает события и курсор
// продолжения (nil, если вендор сообщил об окончании).
//
// Неразбираемые элементы страницы не прерывают вызов: они возвращаются
// как события с заполненным Err. Ошибка возвращается только при отказе
// транспорта, не-2xx ответе или некорректном конверте страницы — такие
// ошибки фатальны для текущего запуска.
func (c *FeedClient) FetchPage(ctx context.Context, cur Cursor) ([]models.ChangeEvent, *Cursor, error) {
	u, err := url.Parse(c.baseURL + "/offers")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	q := u.Query()
	q.Set("api_key", c.apiKey)
	if cur.Since != "" {
		q.Set("since", cur.Since)
	} else {
		page := cur.Page
		if page < 1 {
			page = 1
		}
		q.Set("page", strconv.Itoa(page))
	}
	if cur.Filter != "" {
		q.Set("filter", cur.Filter)
	}
	u.RawQuery = q.Encode()

	body, err := c.doGET(ctx, u.String())
	if err != nil {
		return nil, nil, err
	}

	var envelope pageEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	events := make([]models.ChangeEvent, 0, len(envelope.Result))
	for _, raw := range envelope.Result {
		events = append(events, parseChangeItem(raw))
	}

	next := nextCursor(cur, envelope)
	return events, next, nil
}

// ResolveReference запрашивает у вендора опорную точку ленты изменений
// на указанную дату. Вызывается один раз в начале инкрементального запуска.
func (c *FeedClient) ResolveReference(ctx context.Context, date time.Time) (string, error) {
	u, err := url.Parse(c.baseURL + "/offers/reference")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("date", date.UTC().Format("2006-01-02"))
	u.RawQuery = q.Encode()

	body, err := c.doGET(ctx, u.String())
	if err != nil {
		return "", err
	}

	var ref struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body, &ref); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if ref.Reference == "" {
		return "", fmt.Errorf("%w: пустая опорная точка", ErrMalformedEnvelope)
	}
	return ref.Reference, nil
}

// doGET выполняет один GET-запрос и возвращает тело 2xx ответа
func (c *FeedClient) doGET(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: статус %d", ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return body, nil
}

// parseChangeItem разбирает один элемент страницы в событие.
// Элемент без change_type трактуется как added: в full-режиме вендор
// отдает просто текущие объявления каталога.
func parseChangeItem(raw json.RawMessage) models.ChangeEvent {
	var item rawChangeItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.ChangeEvent{Err: fmt.Errorf("%w: %v", ErrMalformedRecord, err)}
	}

	innerID := item.InnerID.String()
	if innerID == "" {
		return models.ChangeEvent{Err: fmt.Errorf("%w: отсутствует inner_id", ErrMalformedRecord)}
	}

	changeType := models.ChangeType(item.ChangeType)
	switch changeType {
	case models.ChangeRemoved:
		return models.ChangeEvent{Type: models.ChangeRemoved, InnerID: innerID}
	case models.ChangeChanged:
		if item.Delta == nil {
			return models.ChangeEvent{Err: fmt.Errorf("%w: changed без delta (inner_id=%s)", ErrMalformedRecord, innerID)}
		}
		return models.ChangeEvent{Type: models.ChangeChanged, InnerID: innerID, Delta: item.Delta}
	case models.ChangeAdded, "":
		return models.ChangeEvent{Type: models.ChangeAdded, InnerID: innerID, Payload: raw}
	default:
		return models.ChangeEvent{Err: fmt.Errorf("%w: неизвестный change_type %q", ErrMalformedRecord, item.ChangeType)}
	}
}

// nextCursor строит курсор продолжения из конверта страницы
func nextCursor(cur Cursor, envelope pageEnvelope) *Cursor {
	if cur.Since != "" {
		if envelope.Meta.NextSince == "" || envelope.Meta.NextSince == cur.Since {
			return nil // лента догнана
		}
		return &Cursor{Since: envelope.Meta.NextSince}
	}

	if envelope.Meta.NextPage == nil {
		return nil
	}
	return &Cursor{Page: *envelope.Meta.NextPage, Filter: cur.Filter}
}
