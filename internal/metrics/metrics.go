package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 shipper 상태를 나타내는 카운터 모음이다.
// 모든 필드는 sync/atomic 으로만 접근한다.
type Metrics struct {
	// ======================
	// 수집(ingest) 지표
	// ======================

	// RecordsEnqueuedTotal
	// - 이벤트 채널에 정상적으로 들어간 레코드 수.
	RecordsEnqueuedTotal int64

	// RecordsRejectedQueueFullTotal
	// - drop-newest / block(timeout) 정책으로 거절된 레코드 수.
	// - 지속적으로 증가하면 flush 가 수집 속도를 못 따라가고 있다는 신호.
	RecordsRejectedQueueFullTotal int64

	// RecordsDroppedOldestTotal
	// - drop-oldest 정책으로 채널 앞쪽에서 밀려난 레코드 수.
	RecordsDroppedOldestTotal int64

	// RecordsDroppedPendingCapTotal
	// - 원격 저장소 장애 중 버퍼가 MaxPendingBytes 를 넘어서 앞쪽에서 버린 레코드 수.
	RecordsDroppedPendingCapTotal int64

	// RecordsMalformedTotal
	// - 직렬화에 실패해서 버려진 레코드 수 (의도된 유실 경로).
	RecordsMalformedTotal int64

	// ======================
	// flush / 원격 저장소 지표
	// ======================

	// FlushesTotal: 성공한 flush 수.
	FlushesTotal int64

	// FlushBytesTotal / FlushRecordsTotal
	// - 원격 오브젝트에 append 된 바이트 수(압축 후) / 레코드 수.
	FlushBytesTotal   int64
	FlushRecordsTotal int64

	// FlushTransientErrorsTotal
	// - 재시도 후에도 실패해서 배치를 다시 큐 앞에 넣은 횟수.
	FlushTransientErrorsTotal int64

	// FlushFatalErrorsTotal / FlushRecordsDroppedTotal
	// - 권한/버킷 없음 같은 복구 불가 에러로 배치를 버린 횟수와 그 레코드 수.
	// - 0 이 아니면 설정을 먼저 의심해야 한다.
	FlushFatalErrorsTotal    int64
	FlushRecordsDroppedTotal int64

	// StorePutErrorsTotal
	// - HEAD / PUT 호출 실패 "시도(attempt)" 횟수. 재시도마다 증가한다.
	StorePutErrorsTotal int64

	// RolloversTotal: part 가 넘어간 횟수.
	RolloversTotal int64

	// ======================
	// HTTP 지표
	// ======================

	HTTPRequestsTotal         int64
	HTTPRequestsRejectedTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "records_enqueued_total=%d\n", atomic.LoadInt64(&m.RecordsEnqueuedTotal))
	fmt.Fprintf(&sb, "records_rejected_queue_full_total=%d\n", atomic.LoadInt64(&m.RecordsRejectedQueueFullTotal))
	fmt.Fprintf(&sb, "records_dropped_oldest_total=%d\n", atomic.LoadInt64(&m.RecordsDroppedOldestTotal))
	fmt.Fprintf(&sb, "records_dropped_pending_cap_total=%d\n", atomic.LoadInt64(&m.RecordsDroppedPendingCapTotal))
	fmt.Fprintf(&sb, "records_malformed_total=%d\n", atomic.LoadInt64(&m.RecordsMalformedTotal))

	fmt.Fprintf(&sb, "flushes_total=%d\n", atomic.LoadInt64(&m.FlushesTotal))
	fmt.Fprintf(&sb, "flush_bytes_total=%d\n", atomic.LoadInt64(&m.FlushBytesTotal))
	fmt.Fprintf(&sb, "flush_records_total=%d\n", atomic.LoadInt64(&m.FlushRecordsTotal))
	fmt.Fprintf(&sb, "flush_transient_errors_total=%d\n", atomic.LoadInt64(&m.FlushTransientErrorsTotal))
	fmt.Fprintf(&sb, "flush_fatal_errors_total=%d\n", atomic.LoadInt64(&m.FlushFatalErrorsTotal))
	fmt.Fprintf(&sb, "flush_records_dropped_total=%d\n", atomic.LoadInt64(&m.FlushRecordsDroppedTotal))
	fmt.Fprintf(&sb, "store_put_errors_total=%d\n", atomic.LoadInt64(&m.StorePutErrorsTotal))
	fmt.Fprintf(&sb, "rollovers_total=%d\n", atomic.LoadInt64(&m.RolloversTotal))

	fmt.Fprintf(&sb, "http_requests_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedTotal))

	return sb.String()
}
