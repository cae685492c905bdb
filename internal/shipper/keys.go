// internal/shipper/keys.go
package shipper

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// keys.go
// ------------------------------------------------------------
// 원격 오브젝트 키 규칙:
//
//	<YYYY-MM-DD>/<part>/<prefix>-<nonce>.<postfix>
//
// 예:
//
//	2025-03-12/0/api-01890c24-905b-7122-b170-b60814e6ee06.jsonl
//
// nonce 는 shipper 세션마다 한 번 생성되므로 같은 prefix / 날짜로
// 여러 프로세스가 동시에 써도 키가 겹치지 않는다.
// 입력 문자열은 escape / 검증 없이 그대로 쓴다.

// ObjectKey 는 입력이 같고 날짜가 같으면 항상 같은 키를 돌려준다.
func ObjectKey(prefix string, part uint64, postfix, nonce string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%s-%s.%s", now.Format(dayLayout), part, prefix, nonce, postfix)
}

// NewNonce 는 세션 nonce 를 만든다 (UUIDv7, 시간순 정렬 가능).
func NewNonce() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
