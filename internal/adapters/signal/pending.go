package signal

import (
	"encoding/json"
	"sync"
)

type result struct {
	data json.RawMessage
	err  error
}

// pendingTable correlates responses with in-flight requests by message name
// and request id.
type pendingTable struct {
	mu    sync.Mutex
	slots map[string]chan result
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]chan result)}
}

func pendingKey(name, id string) string { return name + "#" + id }

func (p *pendingTable) add(name, id string) <-chan result {
	ch := make(chan result, 1)
	p.mu.Lock()
	p.slots[pendingKey(name, id)] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingTable) remove(name, id string) {
	p.mu.Lock()
	delete(p.slots, pendingKey(name, id))
	p.mu.Unlock()
}

// resolve fulfills the slot at most once.
func (p *pendingTable) resolve(name, id string, r result) bool {
	key := pendingKey(name, id)
	p.mu.Lock()
	ch, ok := p.slots[key]
	if ok {
		delete(p.slots, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- r
	return true
}

func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, ch := range p.slots {
		ch <- result{err: err}
		delete(p.slots, key)
	}
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}
