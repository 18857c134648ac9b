package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IntegrationEvent — конверт сообщения, которым обмениваются участники саги.
// ID стабилен между повторными доставками: по нему работает идемпотентность.
type IntegrationEvent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"creationDate"`
	OrderID   int64           `json:"orderId"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// SchemaVersion — текущая версия схемы полезной нагрузки.
const SchemaVersion = 1

// NewEvent создает событие со свежим UUID.
func NewEvent(name string, orderID int64, payload any) (IntegrationEvent, error) {
	return NewEventWithID(uuid.NewString(), name, orderID, payload)
}

// NewEventWithID создает событие с заданным идентификатором.
func NewEventWithID(id, name string, orderID int64, payload any) (IntegrationEvent, error) {
	if id == "" {
		return IntegrationEvent{}, fmt.Errorf("event %s: empty id", name)
	}
	if name == "" {
		return IntegrationEvent{}, fmt.Errorf("event %s: empty name", id)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return IntegrationEvent{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}

	return IntegrationEvent{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		OrderID:   orderID,
		Version:   SchemaVersion,
		Payload:   raw,
	}, nil
}

// Decode разбирает полезную нагрузку в into.
func (e IntegrationEvent) Decode(into any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s (%s): empty payload", e.Name, e.ID)
	}
	if err := json.Unmarshal(e.Payload, into); err != nil {
		return fmt.Errorf("decode %s (%s): %w", e.Name, e.ID, err)
	}
	return nil
}

// Marshal кодирует конверт целиком для транспорта.
func (e IntegrationEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal восстанавливает конверт из байт транспорта.
func Unmarshal(data []byte) (IntegrationEvent, error) {
	var ev IntegrationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return IntegrationEvent{}, fmt.Errorf("decode integration event: %w", err)
	}
	if ev.ID == "" || ev.Name == "" {
		return IntegrationEvent{}, fmt.Errorf("decode integration event: id and name are required")
	}
	return ev, nil
}

// DerivedID строит детерминированный id исходящего события из id входящего.
// Повторная обработка одного сообщения выпускает событие с тем же id.
func DerivedID(scope, sourceID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:ordersaga:"+scope+":"+sourceID)).String()
}
