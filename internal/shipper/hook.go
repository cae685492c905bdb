package shipper

import (
	"bytes"
	"errors"
	"io"

	"tracing-s3/internal/model"

	json "github.com/goccy/go-json"
)

// NewWriter 는 JSON 한 줄 로그(zerolog 출력)를 레코드로 바꿔 sink 에 넘기는 io.Writer.
//
//	log := zerolog.New(shipper.Writer())
//
// 한 번의 Write 에 여러 줄이 오면 줄마다 레코드 1건.
// JSON object 가 아닌 줄은 {"message": <원문>} 으로 감싼다.
func NewWriter(sink Sink) io.Writer {
	return &recordWriter{sink: sink}
}

type recordWriter struct {
	sink Sink
}

func (w *recordWriter) Write(p []byte) (int, error) {
	var errs []error
	for _, line := range bytes.Split(p, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var rec model.Record
		if err := json.Unmarshal(line, &rec); err != nil || rec == nil {
			rec = model.Record{model.FieldMessage: string(line)}
		}
		if err := w.sink(rec); err != nil {
			errs = append(errs, err)
		}
	}
	// zerolog 는 Write 에러를 ErrorHandler 로만 보고한다. 길이는 그대로 돌려준다.
	return len(p), errors.Join(errs...)
}
