package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// flush 마다 payload 를 조립하고 (선택적으로) gzip 압축하며,
// HTTP /collect 는 요청마다 body 를 읽는다.
// 아래 Pool 들은 이 경로의 할당을 줄이기 위한 것.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - POST body 임시 버퍼 (초기 4KB)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool:
	//   - flush payload / gzip 결과 버퍼 (초기 256KB)
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용, BestSpeed
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// MaxBufferCap 보다 커진 버퍼는 풀에 돌려주지 않고 GC 에 맡긴다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// GetBuffer 는 비워진 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - 1MB 이하만 재사용
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// PutBody:
//   - maxCap(보통 MaxBodySize*2) 보다 크면 버린다.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}
