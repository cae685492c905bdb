package shipper

import (
	"fmt"

	"tracing-s3/internal/model"
	"tracing-s3/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Encoder 는 레코드 직렬화와 flush 본문(wire body) 조립을 담당한다.
//
//   - Serialize: 레코드 1건 → JSON 한 줄 (goccy/go-json)
//   - EncodeBody: Batch.Payload() + "\n"
//     compress=true 이면 flush 1회 = gzip member 1개.
//     gzip member 를 이어 붙인 오브젝트는 그대로 하나의 gzip 스트림으로 읽힌다.
//
// 결과는 항상 새 []byte 로 복사해 호출자에게 소유권을 넘긴다.
type Encoder struct {
	compress bool
}

func NewEncoder(compress bool) *Encoder {
	return &Encoder{compress: compress}
}

// Serialize 는 레코드를 JSON 한 줄로 만든다.
// 문자열 안의 개행은 escape 되므로 결과에 raw "\n" 은 없다.
func (e *Encoder) Serialize(rec model.Record) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("serialize record: %w", err)
	}
	return string(b), nil
}

// EncodeBody 는 batch 를 원격 append 용 본문으로 만든다.
// 끝에 "\n" 을 붙여서 append 를 반복해도 오브젝트가 유효한 JSONL 로 유지된다.
func (e *Encoder) EncodeBody(b Batch) ([]byte, error) {

	// ------------------------------------------------------------
	// 1) JSONL 조립 (pool 버퍼)
	// ------------------------------------------------------------
	raw := pool.GetBuffer()
	defer pool.PutBuffer(raw)

	for i, line := range b.Lines {
		if i > 0 {
			raw.WriteByte('\n')
		}
		raw.WriteString(line)
	}
	raw.WriteByte('\n')

	if !e.compress {
		data := make([]byte, raw.Len())
		copy(data, raw.Bytes())
		return data, nil
	}

	// ------------------------------------------------------------
	// 2) gzip member 1개로 압축 (BestSpeed)
	// ------------------------------------------------------------
	out := pool.GetBuffer()
	defer pool.PutBuffer(out)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(out)
	defer pool.GzipPool.Put(gz)

	if _, err := gz.Write(raw.Bytes()); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}

	// ------------------------------------------------------------
	// 3) pool 버퍼는 재사용되므로 복사본을 반환
	// ------------------------------------------------------------
	data := make([]byte, out.Len())
	copy(data, out.Bytes())
	return data, nil
}
