// internal/logger/log.go
package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	"tracing-s3/internal/config"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번 호출한다.
//
//  1. LOG_LEVEL 로 최소 레벨 결정 (파싱 실패 시 info)
//  2. LOG_PRETTY=true 이면 ConsoleWriter, 아니면 JSON 을 stdout 으로
//  3. 모든 로그에 service / instance 필드 부착
//  4. LOG_SAMPLE_N > 1 이면 debug/info 만 1/N 샘플링 (warn/error 는 전부 기록)
//  5. 전역 zerolog logger 교체 + 표준 log 패키지 출력도 zerolog 로 돌림
func Init(cfg config.Config) {
	var w io.Writer = os.Stdout
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.LogLevel))
	zlog.Logger = New(w, cfg)

	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 Init 과 같은 규칙으로 logger 를 만들되 전역 상태는 건드리지 않는다.
func New(w io.Writer, cfg config.Config) zerolog.Logger {
	level := ParseLevel(cfg.LogLevel)

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}

// ParseLevel 은 알 수 없는 값이면 info 를 돌려준다.
func ParseLevel(s string) zerolog.Level {
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s))); err == nil && s != "" {
		return l
	}
	return zerolog.InfoLevel
}

// Component 는 전역 logger 에 component 필드를 붙인 하위 logger 를 반환한다.
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}
