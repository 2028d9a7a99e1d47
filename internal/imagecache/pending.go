package imagecache

import "sync"

// ConsumerID names a party waiting for a load. NoConsumer requests a load without
// asking to be notified.
type ConsumerID uint64

const NoConsumer ConsumerID = 0

// pendingSet tracks in-flight loads and the consumers waiting on each. When both
// are needed, Cache.mu is taken before pendingSet.mu.
type pendingSet struct {
	mu       sync.Mutex
	inflight map[string][]ConsumerID
}

func newPendingSet() *pendingSet {
	return &pendingSet{inflight: make(map[string][]ConsumerID)}
}

// register adds c to uri's waiters and reports whether the caller must start the load.
func (p *pendingSet) register(uri string, c ConsumerID) (start bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	waiters, loading := p.inflight[uri]
	if c != NoConsumer && !containsConsumer(waiters, c) {
		waiters = append(waiters, c)
	}
	p.inflight[uri] = waiters
	return !loading
}

func (p *pendingSet) loading(uri string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[uri]
	return ok
}

// complete ends the load of uri and returns its waiters.
func (p *pendingSet) complete(uri string) []ConsumerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	waiters := p.inflight[uri]
	delete(p.inflight, uri)
	return waiters
}

// clearConsumers forgets every waiter but keeps loads marked in flight, so a late
// completion is stored without notifying anyone.
func (p *pendingSet) clearConsumers() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for uri := range p.inflight {
		p.inflight[uri] = nil
	}
}

func (p *pendingSet) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func containsConsumer(list []ConsumerID, c ConsumerID) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
