package manager

import (
	"context"
	"fmt"
	"log"
	"os/exec"

	"github.com/wingedpig/iporg-history/internal/cache"
	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/internal/storage"
	"github.com/wingedpig/iporg-history/internal/worker"
	"github.com/wingedpig/iporg-history/pkg/model"
)

// ExecSpawner starts each worker as a child OS process running the
// ipasn-lookup-worker binary: one process per (source, window), the way
// the fleet is meant to be deployed in production.
type ExecSpawner struct {
	// BinaryPath is the path to the ipasn-lookup-worker executable.
	BinaryPath string
	// ExtraArgs are appended after the worker's own --source/--first/--last flags.
	ExtraArgs []string
}

// Spawn forks a worker process for spec and returns a stop func that
// sends it a termination signal via Kill.
func (s ExecSpawner) Spawn(ctx context.Context, spec model.WorkerSpec) (func(), error) {
	args := append([]string{
		"--source=" + spec.Source,
		"--first=" + spec.First.Format("2006-01-02"),
		"--last=" + spec.Last.Format("2006-01-02"),
	}, s.ExtraArgs...)

	cmd := exec.CommandContext(ctx, s.BinaryPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %s: %w", spec.ID(), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cmd.Wait(); err != nil {
			log.Printf("WARN: worker process %s exited: %v", spec.ID(), err)
		}
	}()

	stop := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-done
	}
	return stop, nil
}

// GoroutineSpawner runs an in-process worker.Worker on a goroutine,
// cancelled via context. It exists for tests and for single-process
// deployments that don't want the overhead of separate binaries.
type GoroutineSpawner struct {
	Cache   cache.Store
	Storage storage.Store
}

// Spawn runs w.Start synchronously, then w.Serve in a goroutine, returning
// a stop func that cancels the worker's context and waits for it to exit.
func (s GoroutineSpawner) Spawn(parent context.Context, spec model.WorkerSpec) (func(), error) {
	w := worker.New(spec, s.Cache, s.Storage)
	if err := w.Start(parent); err != nil {
		return nil, fmt.Errorf("starting worker %s: %w", spec.ID(), err)
	}
	if err := s.Cache.HSet(parent, keyschema.RunningKey, map[string]string{spec.ID(): "1"}); err != nil {
		log.Printf("WARN: worker %s: failed to publish running flag: %v", spec.ID(), err)
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Serve(ctx); err != nil && err != context.Canceled && err != model.ErrShutdown {
			log.Printf("WARN: worker %s exited: %v", spec.ID(), err)
		}
	}()

	stop := func() {
		cancel()
		<-done
		if err := s.Cache.HDel(context.Background(), keyschema.RunningKey, spec.ID()); err != nil {
			log.Printf("WARN: worker %s: failed to clear running flag: %v", spec.ID(), err)
		}
	}
	return stop, nil
}
