package shipper

import (
	"strings"
	"sync"
)

// Batch 는 DrainForFlush 한 번으로 꺼낸 레코드 묶음.
// Key 는 drain 시점의 오브젝트 키로, Lines 와 같은 part 에 속한다.
type Batch struct {
	Lines []string
	Size  int64
	Key   string
}

func (b Batch) Len() int { return len(b.Lines) }

// Payload 는 레코드를 "\n" 으로 이어 붙인 문자열 (마지막 줄바꿈 없음).
func (b Batch) Payload() string {
	return strings.Join(b.Lines, "\n")
}

// PartitionedBuffer 는 "지금 쓰고 있는 원격 오브젝트" 의 상태를 가진다.
//
//   - queue / sizeInBytes: 아직 flush 되지 않은 직렬화 레코드와 그 바이트 합
//   - partIndex: 원격 오브젝트 크기가 한도를 넘을 때마다 1 씩 증가
//   - name: (날짜, partIndex, prefix, nonce, postfix) 로 계산한 현재 키
//
// 모든 필드는 mu 하나로 보호한다. Len / Size 같은 조회는 서로 막지 않는다.
type PartitionedBuffer struct {
	mu sync.RWMutex

	name        string
	sizeInBytes int64
	queue       []string
	partIndex   uint64

	nonce   string
	prefix  string
	postfix string
	clock   Clock
}

func NewPartitionedBuffer(prefix, postfix, nonce string, clock Clock) *PartitionedBuffer {
	if clock == nil {
		clock = SystemClock
	}
	b := &PartitionedBuffer{
		nonce:   nonce,
		prefix:  prefix,
		postfix: postfix,
		clock:   clock,
	}
	b.name = b.keyLocked()
	return b
}

// Append 는 직렬화된 레코드 한 줄을 queue 끝에 붙인다.
func (b *PartitionedBuffer) Append(line string) {
	b.mu.Lock()
	b.queue = append(b.queue, line)
	b.sizeInBytes += int64(len(line))
	b.mu.Unlock()
}

// DrainForFlush 는 queue 전체를 꺼내고 size 를 0 으로 되돌린다.
// 같은 lock 안에서 현재 키도 다시 계산해 Batch.Key 에 담는다.
func (b *PartitionedBuffer) DrainForFlush() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.name = b.keyLocked()
	batch := Batch{Lines: b.queue, Size: b.sizeInBytes, Key: b.name}
	b.queue = nil
	b.sizeInBytes = 0
	return batch
}

// Requeue 는 전송에 실패한 batch 를 queue 앞쪽에 되돌린다.
// drain 이후 들어온 레코드는 batch 뒤에 그대로 남는다.
func (b *PartitionedBuffer) Requeue(batch Batch) {
	if batch.Len() == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]string, 0, len(batch.Lines)+len(b.queue))
	merged = append(merged, batch.Lines...)
	merged = append(merged, b.queue...)
	b.queue = merged
	b.sizeInBytes += batch.Size
}

// TrimOldest 는 size 가 limit 이하가 될 때까지 queue 앞쪽(가장 오래된) 레코드를 버린다.
// 버린 레코드 수를 반환한다. limit <= 0 이면 아무것도 하지 않는다.
func (b *PartitionedBuffer) TrimOldest(limit int64) int {
	if limit <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for n < len(b.queue) && b.sizeInBytes > limit {
		b.sizeInBytes -= int64(len(b.queue[n]))
		n++
	}
	if n == 0 {
		return 0
	}
	// 앞쪽 슬롯이 문자열을 붙잡고 있지 않도록 비운다.
	clear(b.queue[:n])
	b.queue = b.queue[n:]
	return n
}

// RolloverPart 는 다음 part 로 넘어간다. queue / size 는 건드리지 않는다.
func (b *PartitionedBuffer) RolloverPart() {
	b.mu.Lock()
	b.partIndex++
	b.name = b.keyLocked()
	b.mu.Unlock()
}

// CurrentName 은 지금 시각 기준으로 키를 다시 계산해서 반환한다.
func (b *PartitionedBuffer) CurrentName() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.name = b.keyLocked()
	return b.name
}

func (b *PartitionedBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.queue)
}

func (b *PartitionedBuffer) Size() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sizeInBytes
}

func (b *PartitionedBuffer) PartIndex() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.partIndex
}

func (b *PartitionedBuffer) Nonce() string { return b.nonce }

func (b *PartitionedBuffer) keyLocked() string {
	return ObjectKey(b.prefix, b.partIndex, b.postfix, b.nonce, b.clock())
}
