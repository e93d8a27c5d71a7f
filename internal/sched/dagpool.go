// Package sched provides the two scheduling layers of the server: a
// background dependency-DAG pool driving package compiles, and named feature
// pools that serialize actions per file while running files in parallel.
package sched

import (
	"runtime"
	"sync"

	"cjls/internal/logging"
)

// Task is one unit of DAG work. Run executes only after every task named in
// DependsOn has completed.
type Task struct {
	ID        string
	DependsOn []string
	Run       func()
}

type blockedTask struct {
	task      *Task
	remaining int
}

// DAGPool executes tasks with declared dependency sets on a fixed set of
// worker threads. Ready tasks are pulled FIFO. Cancellation is cooperative:
// Shutdown prevents new tasks from dequeuing and short-circuits waits.
type DAGPool struct {
	mu   sync.Mutex
	cond *sync.Cond

	ready       []*Task
	blocked     map[string]*blockedTask
	dependents  map[string][]string
	done        map[string]bool
	outstanding int
	shutdown    bool

	workerWG sync.WaitGroup
}

// NewDAGPool starts workers goroutines (default: GOMAXPROCS when 0).
func NewDAGPool(workers int) *DAGPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &DAGPool{
		blocked:    make(map[string]*blockedTask),
		dependents: make(map[string][]string),
		done:       make(map[string]bool),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.workerWG.Add(1)
		go p.worker()
	}
	logging.Sched("dag pool started with %d workers", workers)
	return p
}

// Submit enqueues a task. Dependencies already completed are discounted;
// a task whose dependency set is empty becomes ready immediately.
func (p *DAGPool) Submit(t Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		logging.SchedDebug("dropping task %s: shutdown requested", t.ID)
		return
	}

	p.outstanding++
	remaining := 0
	for _, dep := range t.DependsOn {
		if p.done[dep] {
			continue
		}
		remaining++
		p.dependents[dep] = append(p.dependents[dep], t.ID)
	}
	if remaining == 0 {
		p.ready = append(p.ready, &t)
		p.cond.Broadcast()
		return
	}
	p.blocked[t.ID] = &blockedTask{task: &t, remaining: remaining}
}

// worker pulls ready tasks FIFO until shutdown.
func (p *DAGPool) worker() {
	defer p.workerWG.Done()
	for {
		p.mu.Lock()
		for len(p.ready) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		t := p.ready[0]
		p.ready = p.ready[1:]
		p.mu.Unlock()

		t.Run()
		p.complete(t.ID)
	}
}

// complete marks a task done and promotes newly ready dependents.
func (p *DAGPool) complete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[id] = true
	p.outstanding--
	for _, depID := range p.dependents[id] {
		b, ok := p.blocked[depID]
		if !ok {
			continue
		}
		b.remaining--
		if b.remaining == 0 {
			delete(p.blocked, depID)
			p.ready = append(p.ready, b.task)
		}
	}
	delete(p.dependents, id)
	p.cond.Broadcast()
}

// WaitAll blocks until no tasks remain, or shutdown is requested.
func (p *DAGPool) WaitAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.outstanding > 0 && !p.shutdown {
		p.cond.Wait()
	}
}

// Shutdown stops workers cooperatively and releases waiters. Blocked tasks
// never run.
func (p *DAGPool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.workerWG.Wait()
	logging.Sched("dag pool shut down")
}

// Done reports whether a task id has completed.
func (p *DAGPool) Done(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[id]
}
