package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/athebyme/automarket-platform/internal/domain/models"
	"github.com/athebyme/automarket-platform/pkg/interfaces"
)

// ListingNotification — тело уведомления об изменении записи каталога
type ListingNotification struct {
	Event    KafkaEvent `json:"event"`
	Source   string     `json:"source"`
	SourceID string     `json:"source_id"`
	RunID    string     `json:"run_id"`
	At       time.Time  `json:"at"`
}

// KafkaNotifier публикует уведомления об изменениях каталога в топик
// уведомлений. Публикация fire-and-forget: ошибка возвращается наверх
// для логирования, но на итог запуска не влияет.
type KafkaNotifier struct {
	messaging interfaces.MessagingPort
	topic     string
}

// NewKafkaNotifier создает публикатор уведомлений
func NewKafkaNotifier(messaging interfaces.MessagingPort, topic string) *KafkaNotifier {
	return &KafkaNotifier{messaging: messaging, topic: topic}
}

// ListingChanged публикует уведомление об изменении одной записи.
// Ключ сообщения — source_id, чтобы события одной записи шли по порядку.
func (n *KafkaNotifier) ListingChanged(ctx context.Context, source, sourceID, changeType, runID string) error {
	event := ListingUpsertedEvent
	if changeType == models.ChangeRecordMarkRemoved || changeType == models.ChangeRecordStaleDelete {
		event = ListingRemovedEvent
	}

	payload, err := json.Marshal(ListingNotification{
		Event:    event,
		Source:   source,
		SourceID: sourceID,
		RunID:    runID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return n.messaging.PublishWithKey(ctx, n.topic, sourceID, payload)
}

// SyncRunNotification — тело уведомления о завершении запуска синхронизации
type SyncRunNotification struct {
	Event    KafkaEvent        `json:"event"`
	RunID    string            `json:"run_id"`
	Source   string            `json:"source"`
	Platform string            `json:"platform"`
	Mode     string            `json:"mode"`
	Status   string            `json:"status"`
	Counts   models.SyncCounts `json:"counts"`
	At       time.Time         `json:"at"`
}

// RunFinished публикует итог завершившегося запуска синхронизации.
// Ключ сообщения — тег платформы, чтобы итоги одной площадки шли по порядку.
func (n *KafkaNotifier) RunFinished(ctx context.Context, run *models.SyncRun) error {
	payload, err := json.Marshal(SyncRunNotification{
		Event:    SyncRunFinishedEvent,
		RunID:    run.ID,
		Source:   run.Source,
		Platform: run.Platform,
		Mode:     string(run.Mode),
		Status:   run.Status,
		Counts:   run.Counts,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return n.messaging.PublishWithKey(ctx, n.topic, run.Platform, payload)
}
