// internal/model/record.go
package model

import (
	"time"
)

// Record
// ------------------------------------------------------------
// 수집 파이프라인에서 다루는 단일 구조화 로그 이벤트.
// 프로듀서(HTTP /collect, zerolog writer, Span 등)가 만들어서
// Sink 로 넘기는 순간 소유권이 IngestionRouter 로 이전된다.
// 넘긴 뒤에는 수정하지 않는다 (immutable 로 취급).
//
// 스키마는 강제하지 않는다. JSON 직렬화만 가능하면 된다.
type Record map[string]any

// 이벤트 레코드 공통 필드 키
const (
	FieldTimestamp = "timestamp"
	FieldLevel     = "level"
	FieldEvent     = "event"
	FieldMessage   = "message"
)

// NewEvent
// ------------------------------------------------------------
// {"timestamp": RFC3339, "level": ..., "event": {...}} 형태의 레코드를 만든다.
// fields 는 event 하위에 그대로 들어가며, message 는 event.message 로 들어간다.
func NewEvent(now time.Time, level, message string, fields map[string]any) Record {
	ev := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		ev[k] = v
	}
	if message != "" {
		ev[FieldMessage] = message
	}
	return Record{
		FieldTimestamp: now.UTC().Format(time.RFC3339Nano),
		FieldLevel:     level,
		FieldEvent:     ev,
	}
}

// Clone 은 최상위 키만 복사한 얕은 사본을 반환한다.
// HTTP 핸들러처럼 필드를 덧붙여야 하는 프로듀서가 원본을 건드리지 않기 위해 쓴다.
func (r Record) Clone() Record {
	out := make(Record, len(r)+2)
	for k, v := range r {
		out[k] = v
	}
	return out
}
