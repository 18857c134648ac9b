package kafka

import (
	"slices"
	"strconv"
	"strings"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/ordersaga/internal/eventbus"
)

const (
	// TopicPrefix — префикс топиков интеграционных событий: ordering.<EventName>.
	TopicPrefix = "ordering."
	// TopicDeadLetterQueue — топик для сообщений, которые не удалось обработать.
	TopicDeadLetterQueue = "ordering.dlq"
)

// Заголовки Kafka-сообщений.
const (
	HeaderEventID       = "x-event-id"
	HeaderEventName     = "x-event-name"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicFor возвращает топик для имени события.
func TopicFor(eventName string) string {
	return TopicPrefix + eventName
}

// EventNameFromTopic восстанавливает имя события по топику. Неизвестные имена не принимаются.
func EventNameFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicPrefix) || topic == TopicDeadLetterQueue {
		return "", false
	}
	name := strings.TrimPrefix(topic, TopicPrefix)
	if !slices.Contains(eventbus.AllEventNames(), name) {
		return "", false
	}
	return name, true
}

func headerValue(headers []*sarama.RecordHeader, key string) (string, bool) {
	for _, header := range headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value), true
		}
	}
	return "", false
}

// retryCount извлекает retry count из headers сообщения.
func retryCount(headers []*sarama.RecordHeader) int {
	raw, ok := headerValue(headers, HeaderRetryCount)
	if !ok {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 0 {
		return 0
	}
	return count
}

// copyHeaders переносит заголовки, заменяя значения из override.
func copyHeaders(headers []*sarama.RecordHeader, override map[string]string) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(headers)+len(override))
	for _, header := range headers {
		if header == nil {
			continue
		}
		if _, replaced := override[string(header.Key)]; replaced {
			continue
		}
		out = append(out, sarama.RecordHeader{Key: header.Key, Value: header.Value})
	}
	for key, value := range override {
		out = append(out, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
	}
	return out
}
