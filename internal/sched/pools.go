package sched

import (
	"runtime"
	"sync"

	"cjls/internal/logging"
)

// FeaturePool runs feature actions. Actions on one file are serialized by
// enqueue order; actions across files run in parallel up to the pool size.
type FeaturePool struct {
	name string
	sem  chan struct{}

	mu       sync.Mutex
	lanes    map[string]*fileLane
	shutdown bool
	wg       sync.WaitGroup
}

type fileLane struct {
	queue   []func()
	running bool
}

// NewFeaturePool creates a named pool. size 0 defaults to available cores.
func NewFeaturePool(name string, size int) *FeaturePool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &FeaturePool{
		name:  name,
		sem:   make(chan struct{}, size),
		lanes: make(map[string]*fileLane),
	}
}

// Submit enqueues an action keyed by file. The caller returns immediately;
// the pool guarantees in-order execution per file.
func (p *FeaturePool) Submit(file, action string, fn func()) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		logging.SchedDebug("pool %s: dropping %s on %s (shutdown)", p.name, action, file)
		return
	}
	lane, ok := p.lanes[file]
	if !ok {
		lane = &fileLane{}
		p.lanes[file] = lane
	}
	lane.queue = append(lane.queue, fn)
	start := !lane.running
	if start {
		lane.running = true
		p.wg.Add(1)
	}
	p.mu.Unlock()

	logging.SchedDebug("pool %s: enqueued %s on %s", p.name, action, file)
	if start {
		go p.drain(file, lane)
	}
}

// drain runs a file's lane to exhaustion, holding one pool slot per action.
func (p *FeaturePool) drain(file string, lane *fileLane) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if len(lane.queue) == 0 || p.shutdown {
			lane.running = false
			if len(lane.queue) == 0 {
				delete(p.lanes, file)
			}
			p.mu.Unlock()
			return
		}
		fn := lane.queue[0]
		lane.queue = lane.queue[1:]
		p.mu.Unlock()

		p.sem <- struct{}{}
		fn()
		<-p.sem
	}
}

// Shutdown drops queued actions and waits for in-flight ones.
func (p *FeaturePool) Shutdown() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.wg.Wait()
	logging.Sched("pool %s shut down", p.name)
}

// Pools bundles the per-kind feature pools of the server.
type Pools struct {
	General    *FeaturePool
	Completion *FeaturePool
	Signature  *FeaturePool
}

// NewPools builds the standard pool set; sizes of 0 default to core count.
func NewPools(general, completion, signature int) *Pools {
	return &Pools{
		General:    NewFeaturePool("general", general),
		Completion: NewFeaturePool("completion", completion),
		Signature:  NewFeaturePool("signature-help", signature),
	}
}

// Shutdown stops every pool.
func (p *Pools) Shutdown() {
	p.General.Shutdown()
	p.Completion.Shutdown()
	p.Signature.Shutdown()
}
