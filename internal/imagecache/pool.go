package imagecache

import "sync"

// pool runs jobs on a fixed number of goroutines. The queue is unbounded so submit
// never blocks the render thread.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Ref
	closed bool
	wg     sync.WaitGroup
}

func newPool(workers int, run func(Ref)) *pool {
	p := &pool{}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(run)
	}
	return p
}

func (p *pool) worker(run func(Ref)) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = Ref{}
		p.queue = p.queue[1:]
		p.mu.Unlock()
		run(job)
	}
}

func (p *pool) submit(job Ref) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return true
}

// close stops the workers after their current job; queued jobs are dropped.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
