package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"

	"tracing-s3/internal/logger"
	"tracing-s3/internal/metrics"
	"tracing-s3/internal/model"
	"tracing-s3/internal/pool"
	"tracing-s3/internal/shipper"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// 수집 요청에서 서버가 덧붙이는 필드
const (
	FieldClientIP  = "client_ip"
	FieldUserAgent = "user_agent"
)

// Enqueuer 는 *shipper.Shipper 가 구현한다.
type Enqueuer interface {
	Enqueue(model.Record) error
}

type Handler struct {
	maxBodySize int64
	metrics     *metrics.Metrics
	sink        Enqueuer
	spans       bool
	log         zerolog.Logger
}

func NewHandler(maxBodySize int64, m *metrics.Metrics, sink Enqueuer) *Handler {
	return &Handler{
		maxBodySize: maxBodySize,
		metrics:     m,
		sink:        sink,
		log:         logger.Component("http"),
	}
}

// WithSpans 는 /collect 요청마다 "collect" span 레코드(new/enter/exit/close)를
// 같은 sink 로 남기게 한다.
func (h *Handler) WithSpans(enabled bool) *Handler {
	h.spans = enabled
	return h
}

// Routes 는 /collect, /metrics, /health 를 묶은 mux 를 반환한다.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collect", h.HandleCollect)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// HandleCollect
//
// 구조화 로그 레코드를 받아 shipper 로 넘긴다.
//   - POST: JSON object 1개 또는 NDJSON (줄마다 object 1개)
//   - GET:  query string 을 레코드 1건으로 (key → 첫 번째 값)
//
// 모든 레코드의 사본에 client_ip / user_agent 를 덧붙인다.
//
// 응답:
//   - 202: 전부 enqueue
//   - 400: JSON object 가 아닌 입력
//   - 413: MaxBodySize 초과
//   - 503: 큐가 가득 찼거나 종료 중 (X-Accepted-Records 에 받아들인 수)
func (h *Handler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	var (
		recs []model.Record
		err  error
	)
	switch r.Method {
	case http.MethodPost:
		recs, err = h.readBody(w, r)
	case http.MethodGet:
		if int64(len(r.URL.RawQuery)) > h.maxBodySize {
			err = errTooLarge
			break
		}
		recs = []model.Record{queryRecord(r)}
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch {
	case errors.Is(err, errTooLarge):
		h.reject(w, http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		h.log.Debug().Err(err).Msg("bad collect payload")
		h.reject(w, http.StatusBadRequest)
		return
	case len(recs) == 0:
		h.reject(w, http.StatusBadRequest)
		return
	}

	if h.spans {
		sp := shipper.StartSpan(h.sink.Enqueue, shipper.SystemClock, "info", "collect", map[string]any{
			"method":  r.Method,
			"path":    r.URL.Path,
			"records": len(recs),
		})
		sp.Enter()
		defer sp.Close()
		defer sp.Exit()
	}

	ip, ua := clientIP(r), r.UserAgent()
	for i, in := range recs {
		rec := in.Clone()
		rec[FieldClientIP] = ip
		if ua != "" {
			rec[FieldUserAgent] = ua
		}
		if err := h.sink.Enqueue(rec); err != nil {
			h.log.Warn().Err(err).Int("accepted", i).Int("records", len(recs)).Msg("collect rejected")
			w.Header().Set("X-Accepted-Records", strconv.Itoa(i))
			h.reject(w, http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("X-Accepted-Records", strconv.Itoa(len(recs)))
	w.WriteHeader(http.StatusAccepted)
}

var errTooLarge = errors.New("request body too large")

// readBody 는 BodyPool 버퍼로 본문을 읽고 JSON object 스트림으로 디코딩한다.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]model.Record, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.maxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errTooLarge
		}
		return nil, err
	}

	var recs []model.Record
	dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	for {
		var rec model.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, errors.New("null record")
		}
		recs = append(recs, rec)
	}
}

func queryRecord(r *http.Request) model.Record {
	q := r.URL.Query()
	rec := make(model.Record, len(q)+2)
	for k, v := range q {
		if len(v) > 0 {
			rec[k] = v[0]
		}
	}
	return rec
}

func (h *Handler) reject(w http.ResponseWriter, status int) {
	atomic.AddInt64(&h.metrics.HTTPRequestsRejectedTotal, 1)
	w.WriteHeader(status)
}

// HandleMetrics 는 카운터를 text 로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}
