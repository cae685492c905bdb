// internal/shipper/supervisor.go
package shipper

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"tracing-s3/internal/logger"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Supervisor 는 shipper 의 백그라운드 작업(router, scheduler)을 묶어서 관리한다.
//
//   - Go:     이름을 붙여 작업 시작. panic 은 recover 해서 error 로 바꾼다.
//   - Cancel: 공유 context 취소.
//   - Wait:   모든 작업 종료까지 대기, 첫 번째 error 반환.
//
// 한 작업이 error 로 끝나면 errgroup context 가 취소되어 나머지도 멈춘다.
type Supervisor struct {
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	return &Supervisor{
		group:   g,
		ctx:     gctx,
		cancel:  cancel,
		log:     logger.Component("supervisor"),
		running: make(map[string]struct{}),
	}
}

// Context 는 작업들이 공유하는 context.
func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	s.running[name] = struct{}{}
	s.mu.Unlock()

	s.group.Go(func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task %s panicked: %v", name, p)
				s.log.Error().Str("task", name).Bytes("stack", debug.Stack()).Msg("task panicked")
			}
			s.mu.Lock()
			delete(s.running, name)
			s.mu.Unlock()
		}()

		if err = fn(s.ctx); err != nil {
			s.log.Error().Err(err).Str("task", name).Msg("task exited with error")
		}
		return err
	})
}

// Tasks 는 실행 중인 작업 이름 (정렬).
func (s *Supervisor) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running))
	for name := range s.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Wait() error {
	err := s.group.Wait()
	s.cancel()
	return err
}
