package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnexpectedType は受信したイベントの種類が期待と異なることを表す。
var ErrUnexpectedType = errors.New("event: unexpected event type")

// New は新しいイベントを生成する。
// dataはJSON形式にシリアライズされる。
func New(aggregateID string, aggregateType AggregateType, eventType Type, data any) (*Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Data:          jsonData,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	if len(e.Data) == 0 {
		return nil, errors.New("イベントデータが空です")
	}
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}

// Expect はイベントの種類を確認し、一致すればDataをT型で返す。
func Expect[T any](e *Event, want Type) (*T, error) {
	if e.EventType != want {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrUnexpectedType, e.EventType, want)
	}
	return DecodeData[T](e)
}
