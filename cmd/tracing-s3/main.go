package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"tracing-s3/internal/config"
	"tracing-s3/internal/logger"
	"tracing-s3/internal/metrics"
	"tracing-s3/internal/server"
	"tracing-s3/internal/shipper"
	"tracing-s3/internal/store"

	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tracing-s3",
		Short:         "Ship structured log records to append-only objects in S3",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env-file", "", "load environment from this file before reading config (default: .env if present)")

	// ====================================================================
	// serve: HTTP collector
	// ====================================================================
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept records on POST /collect and ship them",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				app.cfg.HTTPAddr = addr
			}
			return app.serve(ctx)
		},
	}
	serveCmd.Flags().String("addr", "", "listen address (overrides S3_TRACING_HTTP_ADDR)")
	root.AddCommand(serveCmd)

	// ====================================================================
	// pipe: stdin JSONL
	// ====================================================================
	pipeCmd := &cobra.Command{
		Use:   "pipe",
		Short: "Read JSON lines from stdin and ship them",
		Long:  "Each stdin line becomes one record. Lines that are not JSON objects are wrapped as {\"message\": line}.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := bootstrap(ctx, cmd)
			if err != nil {
				return err
			}
			return app.pipe(ctx, cmd.InOrStdin())
		},
	}
	root.AddCommand(pipeCmd)

	return root
}

type application struct {
	cfg     config.Config
	metrics *metrics.Metrics
	shipper *shipper.Shipper
	store   store.ObjectStore
}

// bootstrap
//
//  1. .env 로드 (godotenv)
//  2. Config 로드 / 검증 → 실패 시 바로 종료
//  3. 로거 초기화
//  4. 원격 저장소 + Appender + Shipper 구성 (goroutine 은 아직 없음)
func bootstrap(ctx context.Context, cmd *cobra.Command) (*application, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg)

	m := metrics.New()

	objStore, err := newObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	appender := store.NewAppender(objStore, store.AppenderOptions{
		Timeout: cfg.S3Timeout,
		Retries: cfg.S3AppRetries,
	}, m)

	policy, err := shipper.ParseOverflowPolicy(cfg.OverflowPolicy)
	if err != nil {
		return nil, err
	}

	sh, err := shipper.New(shipper.Options{
		Prefix:          cfg.Prefix,
		Postfix:         cfg.Postfix,
		ObjectSizeLimit: cfg.ObjectSizeLimit,
		FlushInterval:   cfg.FlushInterval,
		BufferSizeLimit: cfg.BufferSizeLimit,
		MaxPendingBytes: cfg.MaxPendingBytes,
		QueueSize:       cfg.QueueSize,
		OverflowPolicy:  policy,
		EnqueueTimeout:  cfg.EnqueueTimeout,
		Compress:        cfg.Compress,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, appender, m)
	if err != nil {
		return nil, err
	}

	return &application{cfg: cfg, metrics: m, shipper: sh, store: objStore}, nil
}

// newObjectStore 는 S3_TRACING_BACKEND 에 맞는 저장소를 만든다.
func newObjectStore(ctx context.Context, cfg config.Config) (store.ObjectStore, error) {
	switch cfg.Backend {
	case config.BackendS3:
		client, err := store.NewS3Client(ctx, store.S3Config{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
		})
		if err != nil {
			return nil, err
		}
		return store.NewS3Store(client, cfg.Bucket), nil

	case config.BackendMinIO:
		return store.NewMinIOStore(ctx, store.MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AWSAccessKeyID,
			SecretKey: cfg.AWSSecretAccessKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.MinIOUseSSL,
		})

	case config.BackendMemory:
		zlog.Warn().Msg("memory backend: shipped records live only in this process")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// serve
//
// SIGTERM / SIGINT 수신 시:
//  1. HTTP 서버 종료 (새 요청 거절)
//  2. shipper 종료 (남은 레코드 마지막 flush)
func (a *application) serve(ctx context.Context) error {
	// shipper goroutine 은 signal context 와 분리한다.
	// signal 로 바로 취소되면 마지막 flush 전에 router 가 멈춘다.
	a.shipper.Start(context.WithoutCancel(ctx))

	h := server.NewHandler(a.cfg.MaxBodySize, a.metrics, a.shipper).WithSpans(a.cfg.HTTPSpans)
	srv := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      h.Routes(),
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", a.cfg.HTTPAddr).Msg("collector listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		zlog.Error().Err(serveErr).Msg("http server terminated")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("http shutdown")
	}

	return errors.Join(serveErr, a.stop())
}

// pipe 는 stdin 이 끝나거나 signal 을 받으면 종료한다.
func (a *application) pipe(ctx context.Context, in io.Reader) error {
	a.shipper.Start(context.WithoutCancel(ctx))

	w := a.shipper.Writer()
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		skipped, err := scanLines(in, int(a.cfg.MaxBodySize), func(b []byte) error {
			line := append([]byte(nil), b...)
			select {
			case lines <- line:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if skipped > 0 {
			atomic.AddInt64(&a.metrics.RecordsMalformedTotal, int64(skipped))
			zlog.Warn().Int("skipped", skipped).Int64("max_body_size", a.cfg.MaxBodySize).Msg("skipped oversized stdin lines")
		}
		if err != nil && ctx.Err() == nil {
			scanErr <- err
		}
	}()

	var rejected int
loop:
	for {
		select {
		case <-ctx.Done():
			zlog.Info().Msg("shutdown signal received")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if _, err := w.Write(line); err != nil {
				rejected++
			}
		}
	}
	if rejected > 0 {
		zlog.Warn().Int("rejected", rejected).Msg("some records were rejected by the queue")
	}

	var readErr error
	select {
	case readErr = <-scanErr:
	default:
	}
	return errors.Join(readErr, a.stop())
}

func (a *application) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	err := a.shipper.Shutdown(ctx)
	if mem, ok := a.store.(*store.MemoryStore); ok {
		zlog.Info().Strs("keys", mem.Keys()).Msg("memory backend objects")
	}
	zlog.Info().Str("metrics", a.metrics.String()).Msg("shutdown complete")
	return err
}
