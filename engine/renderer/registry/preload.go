package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

// DefaultPreloadWorkers is the number of compile workers Preload starts when none is configured.
const DefaultPreloadWorkers = 4

// compileJob is one stage compilation submitted to the worker pool.
type compileJob struct {
	desc  int
	stage shader.StageDesc
	bin   *shader.Binary
	err   error
}

func (r *registry) Preload(descs ...shader.Descriptor) error {
	var errs []error
	pending := make([]shader.Descriptor, 0, len(descs))
	for _, d := range descs {
		if _, ok, err := r.cached(d); ok || err != nil {
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		dup := false
		for _, p := range pending {
			if p.Name == d.Name {
				dup = true
				if !p.Equal(d) {
					errs = append(errs, fmt.Errorf("shader %q: %w", d.Name, ErrDescriptorConflict))
				}
				break
			}
		}
		if !dup {
			pending = append(pending, d)
		}
	}

	var jobs []*compileJob
	for i, d := range pending {
		for _, s := range d.Stages {
			jobs = append(jobs, &compileJob{desc: i, stage: s})
		}
	}

	started := time.Now()
	r.compileParallel(jobs)

	// Program construction touches the pool and the device, so it stays on this goroutine.
	for i, d := range pending {
		var binaries []*shader.Binary
		var failed error
		for _, j := range jobs {
			if j.desc != i {
				continue
			}
			if j.err != nil {
				failed = fmt.Errorf("shader %q: %w", d.Name, j.err)
				break
			}
			binaries = append(binaries, j.bin)
		}
		if failed != nil {
			r.logger.Error("shader compilation failed", "shader", d.Name, "error", failed)
			errs = append(errs, failed)
			continue
		}
		if _, _, err := r.register(d, binaries); err != nil {
			errs = append(errs, err)
		}
	}

	r.logger.Info("shaders preloaded", "requested", len(descs), "compiled", len(pending),
		"stages", len(jobs), "failed", len(errs), "elapsed", time.Since(started))
	return errors.Join(errs...)
}

// compileParallel compiles every job on a dynamic worker pool and blocks until all are done.
func (r *registry) compileParallel(jobs []*compileJob) {
	if len(jobs) == 0 {
		return
	}
	workers := min(r.workers, len(jobs))
	if workers <= 1 {
		for _, j := range jobs {
			j.bin, j.err = r.compiler.Compile(j.stage)
		}
		return
	}

	pool := worker.NewDynamicWorkerPool(workers, len(jobs), 1*time.Second)
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		pool.SubmitTask(worker.Task{
			ID: i,
			Do: func() (any, error) {
				defer wg.Done()
				j.bin, j.err = r.compiler.Compile(j.stage)
				return nil, j.err
			},
		})
	}
	wg.Wait()
}
