package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 는 프로세스 메모리 위의 ObjectStore.
// 로컬 실행(S3_TRACING_BACKEND=memory)과 테스트에서 쓴다.
// offset / 체크섬 검증은 S3 append 와 같은 규칙을 따른다.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Head(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(obj)), nil
}

func (m *MemoryStore) PutAtOffset(ctx context.Context, key string, offset int64, body []byte, sum Checksum) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if SumSHA256(body) != sum {
		return ErrChecksumMismatch
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj := m.objects[key]
	if int64(len(obj)) != offset {
		return ErrOffsetMismatch
	}
	m.objects[key] = append(obj, body...)
	return nil
}

// Object 는 key 오브젝트 내용의 사본을 반환한다.
func (m *MemoryStore) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(obj))
	copy(out, obj)
	return out, true
}

// Keys 는 저장된 오브젝트 키를 정렬해서 반환한다.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
