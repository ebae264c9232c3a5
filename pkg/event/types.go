// Package event はサービス間で受け渡すイベントの封筒を定義する。
//
// 送信側は New でイベント固有のデータを包み、受信側は EventType を確認してから
// DecodeData で元の型に戻す。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

// AggregateTypeJob は求人を表す。
const AggregateTypeJob AggregateType = "Job"

// Type はイベントの種類を表す。
type Type string

// TypeJobPosted は求人が掲載されたことを表す。
const TypeJobPosted Type = "JobPosted"

// Event はサービス間で送受信する不変のイベント。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID   string        `json:"aggregate_id"`
	AggregateType AggregateType `json:"aggregate_type"`
	EventType     Type          `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
