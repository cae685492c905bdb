// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
)

// Backend 종류
const (
	BackendS3     = "s3"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// 원본 도구와 같은 상한값.
const (
	MaxObjectSizeLimit = 50_000 * datasize.MB
	MaxBufferSizeLimit = 50_000 * datasize.KB
)

// Config
//
// 프로세스 시작 시점에 Load() 로 한 번 채워지고 이후에는 바뀌지 않는 설정 값 모음.
// 모든 키는 S3_TRACING_ 접두어를 쓴다 (로깅 관련 키 제외).
type Config struct {

	// ---------------------------
	// 원격 저장소
	// ---------------------------

	Backend string // s3 | minio | memory

	AWSRegion          string // 기본 us-west-2
	AWSAccessKeyID     string // 둘 다 있으면 static credentials, 아니면 default chain
	AWSSecretAccessKey string
	Endpoint           string // S3 호환 엔드포인트 (MinIO, LocalStack 등)
	MinIOUseSSL        bool

	Bucket  string // 대상 버킷
	Prefix  string // 오브젝트 이름 prefix
	Postfix string // 확장자 (jsonl, log ...)

	// ---------------------------
	// 버퍼 / 파티션
	// ---------------------------

	ObjectSizeLimit int64         // 오브젝트(part) 하나의 최대 크기 (bytes)
	FlushInterval   time.Duration // flush 주기
	BufferSizeLimit int64         // 이 크기 이상 쌓이면 주기를 기다리지 않고 flush (bytes)
	MaxPendingBytes int64         // 원격 장애 중 버퍼 상한 (bytes). 0 이면 BufferSizeLimit x 64

	QueueSize      int           // 이벤트 채널 용량
	OverflowPolicy string        // drop-newest | drop-oldest | block
	EnqueueTimeout time.Duration // block 정책일 때 최대 대기

	// ---------------------------
	// 업로드
	// ---------------------------
	// SDK 자체 재시도는 끄고(1회) 재시도는 애플리케이션 레벨(S3AppRetries)만 쓴다.

	S3Timeout    time.Duration
	S3AppRetries int
	Compress     bool // flush 마다 gzip member 로 append

	ShutdownTimeout time.Duration

	// ---------------------------
	// 서버 / 로깅
	// ---------------------------

	HTTPAddr    string
	MaxBodySize int64
	HTTPSpans   bool // /collect 요청마다 span 레코드를 남긴다

	ServiceName string
	InstanceID  string
	LogLevel    string
	LogPretty   bool
	LogSampleN  uint32
}

// ErrMissingRequiredEnvVar 는 필수 환경변수가 비어있을 때 반환된다.
type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

// ErrInvalidEnvVar 는 형식이 잘못되었거나 허용 범위를 벗어난 값에 대해 반환된다.
type ErrInvalidEnvVar struct {
	Name   string
	Value  string
	Reason string
}

func (e *ErrInvalidEnvVar) Error() string {
	return fmt.Sprintf("invalid environment variable %s=%q: %s", e.Name, e.Value, e.Reason)
}

// Load
//
// 환경 변수 기반으로 Config 를 채운다.
// 잘못된 값은 첫 번째 에러에서 즉시 반환한다 (fail-fast).
// 백그라운드 goroutine 이 뜨기 전에 호출되어야 한다.
func Load() (Config, error) {
	l := loader{getenv: os.Getenv}
	return l.load()
}

// loader 는 테스트에서 getenv 를 바꿔 끼우기 위한 얇은 래퍼.
type loader struct {
	getenv func(string) string
	err    error
}

func (l *loader) load() (Config, error) {
	cfg := Config{
		Backend: strings.ToLower(l.str("S3_TRACING_BACKEND", BackendS3)),

		AWSRegion:          l.str("S3_TRACING_AWS_REGION", "us-west-2"),
		AWSAccessKeyID:     l.str("S3_TRACING_AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: l.str("S3_TRACING_AWS_SECRET_ACCESS_KEY", ""),
		Endpoint:           l.str("S3_TRACING_ENDPOINT", ""),
		MinIOUseSSL:        l.boolean("S3_TRACING_MINIO_USE_SSL", false),

		Bucket:  l.must("S3_TRACING_BUCKET"),
		Prefix:  l.str("S3_TRACING_PREFIX", "log"),
		Postfix: l.str("S3_TRACING_POSTFIX", "jsonl"),

		ObjectSizeLimit: l.size("S3_TRACING_OBJECT_SIZE_LIMIT", 64*datasize.MB, MaxObjectSizeLimit),
		FlushInterval:   l.dur("S3_TRACING_FLUSH_INTERVAL", time.Second),
		BufferSizeLimit: l.size("S3_TRACING_BUFFER_SIZE_LIMIT", datasize.MB, MaxBufferSizeLimit),
		MaxPendingBytes: l.size("S3_TRACING_MAX_PENDING_BYTES", 0, 0),

		QueueSize:      l.integer("S3_TRACING_QUEUE_SIZE", 65536),
		OverflowPolicy: strings.ToLower(l.str("S3_TRACING_OVERFLOW_POLICY", "drop-newest")),
		EnqueueTimeout: l.dur("S3_TRACING_ENQUEUE_TIMEOUT", 100*time.Millisecond),

		S3Timeout:    l.dur("S3_TRACING_S3_TIMEOUT", 5*time.Second),
		S3AppRetries: l.integer("S3_TRACING_S3_APP_RETRIES", 3),
		Compress:     l.boolean("S3_TRACING_COMPRESS", false),

		ShutdownTimeout: l.dur("S3_TRACING_SHUTDOWN_TIMEOUT", 15*time.Second),

		HTTPAddr:    l.str("S3_TRACING_HTTP_ADDR", ":8080"),
		MaxBodySize: l.size("S3_TRACING_MAX_BODY_SIZE", datasize.MB, 0),
		HTTPSpans:   l.boolean("S3_TRACING_HTTP_SPANS", false),

		ServiceName: l.str("SERVICE_NAME", "tracing-s3"),
		InstanceID:  fallbackInstanceID(),
		LogLevel:    l.str("LOG_LEVEL", "info"),
		LogPretty:   l.boolean("LOG_PRETTY", false),
		LogSampleN:  uint32(l.integer("LOG_SAMPLE_N", 0)),
	}
	if l.err != nil {
		return Config{}, l.err
	}

	switch cfg.Backend {
	case BackendS3, BackendMinIO, BackendMemory:
	default:
		return Config{}, &ErrInvalidEnvVar{Name: "S3_TRACING_BACKEND", Value: cfg.Backend, Reason: "must be s3, minio or memory"}
	}
	if cfg.Backend == BackendMinIO && cfg.Endpoint == "" {
		return Config{}, &ErrMissingRequiredEnvVar{Name: "S3_TRACING_ENDPOINT"}
	}
	if cfg.FlushInterval <= 0 {
		return Config{}, &ErrInvalidEnvVar{Name: "S3_TRACING_FLUSH_INTERVAL", Value: cfg.FlushInterval.String(), Reason: "must be larger than 0"}
	}
	if cfg.MaxPendingBytes != 0 && cfg.MaxPendingBytes < cfg.BufferSizeLimit {
		return Config{}, &ErrInvalidEnvVar{Name: "S3_TRACING_MAX_PENDING_BYTES", Value: strconv.FormatInt(cfg.MaxPendingBytes, 10), Reason: "must not be smaller than S3_TRACING_BUFFER_SIZE_LIMIT"}
	}
	if cfg.QueueSize <= 0 {
		return Config{}, &ErrInvalidEnvVar{Name: "S3_TRACING_QUEUE_SIZE", Value: strconv.Itoa(cfg.QueueSize), Reason: "must be larger than 0"}
	}
	if cfg.S3AppRetries <= 0 {
		return Config{}, &ErrInvalidEnvVar{Name: "S3_TRACING_S3_APP_RETRIES", Value: strconv.Itoa(cfg.S3AppRetries), Reason: "must be larger than 0"}
	}
	return cfg, nil
}

// str / must / integer / boolean / dur / size
//
// 공통 패턴. 첫 번째 에러만 기록하고 이후 호출은 기본값을 돌려준다.
func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(l.getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) must(key string) string {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		l.fail(&ErrMissingRequiredEnvVar{Name: key})
	}
	return v
}

func (l *loader) integer(key string, def int) int {
	v := l.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(&ErrInvalidEnvVar{Name: key, Value: v, Reason: err.Error()})
		return def
	}
	return n
}

func (l *loader) boolean(key string, def bool) bool {
	v := l.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(&ErrInvalidEnvVar{Name: key, Value: v, Reason: err.Error()})
		return def
	}
	return b
}

func (l *loader) dur(key string, def time.Duration) time.Duration {
	v := l.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(&ErrInvalidEnvVar{Name: key, Value: v, Reason: err.Error()})
		return def
	}
	return d
}

// size 는 "64MB", "512KB", "100B" 같은 값을 bytes 로 변환한다.
// max 가 0 이면 상한 검사는 하지 않는다. 0 은 항상 거부한다.
func (l *loader) size(key string, def, max datasize.ByteSize) int64 {
	v := l.str(key, "")
	if v == "" {
		return int64(def.Bytes())
	}
	var bs datasize.ByteSize
	if err := bs.UnmarshalText([]byte(v)); err != nil {
		l.fail(&ErrInvalidEnvVar{Name: key, Value: v, Reason: err.Error()})
		return int64(def.Bytes())
	}
	if bs == 0 {
		l.fail(&ErrInvalidEnvVar{Name: key, Value: v, Reason: "must be larger than 0"})
	} else if max > 0 && bs > max {
		l.fail(&ErrInvalidEnvVar{Name: key, Value: v, Reason: "must not exceed " + max.HumanReadable()})
	}
	return int64(bs.Bytes())
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 값. 로그의 instance 필드에 붙는다.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
