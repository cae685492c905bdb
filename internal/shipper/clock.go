// internal/shipper/clock.go
package shipper

import "time"

// Clock 은 현재 시각(local time)을 반환한다.
//
// 오브젝트 키의 날짜는 flush / rollover 시점마다 이 값에서 새로 계산한다.
// 캐싱하지 않으므로 자정을 넘기면 같은 nonce / part 라도 다음 날짜 경로로 간다.
// 테스트에서는 고정 시각을 돌려주는 함수로 바꿔 끼운다.
type Clock func() time.Time

// SystemClock 은 time.Now 를 그대로 쓴다.
func SystemClock() time.Time { return time.Now() }

const dayLayout = "2006-01-02"
