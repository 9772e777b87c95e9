package publisher

import (
	"sync"

	"github.com/menta2k/circle-cropper/pkg/compositor"
	"github.com/menta2k/circle-cropper/pkg/types"
)

// Consumer receives each new artifact. Every delivery replaces the previous
// one. A nil artifact means the image was unloaded and nothing is shown.
type Consumer func(*compositor.Artifact)

// Key identifies the inputs an artifact was rendered from
type Key struct {
	RasterSeq uint64
	Transform types.Transform
	Encoding  compositor.Format
}

// Publisher hands artifacts to a consumer once per logical change.
//
// The consumer runs without the publisher lock held, so it may trigger
// further publishes. Those are queued and delivered in generation order once
// the running delivery returns. Only the newest queued artifact is delivered.
type Publisher struct {
	mu       sync.Mutex
	consumer Consumer
	lastGen  uint64
	lastKey  Key
	hasKey   bool

	pending    *compositor.Artifact
	hasPending bool
	delivering bool
}

// New creates a publisher. A nil consumer only tracks generations.
func New(consumer Consumer) *Publisher {
	return &Publisher{consumer: consumer}
}

// Publish delivers a as generation gen. Generations not newer than the last
// accepted one and repeats of the last key are dropped. It reports whether
// the artifact was accepted for delivery.
func (p *Publisher) Publish(gen uint64, key Key, a *compositor.Artifact) bool {
	if a == nil {
		return false
	}

	p.mu.Lock()
	if gen <= p.lastGen || (p.hasKey && key == p.lastKey) {
		p.mu.Unlock()
		return false
	}
	p.lastGen = gen
	p.lastKey = key
	p.hasKey = true
	p.enqueueLocked(a)
	return true
}

// Clear tells the consumer that no artifact exists as of generation gen.
// The next publish is delivered even when its key matches the last one.
func (p *Publisher) Clear(gen uint64) bool {
	p.mu.Lock()
	if gen <= p.lastGen {
		p.mu.Unlock()
		return false
	}
	p.lastGen = gen
	p.lastKey = Key{}
	p.hasKey = false
	p.enqueueLocked(nil)
	return true
}

// enqueueLocked is called with p.mu held and releases it. The first caller
// becomes the deliverer and drains the queue; nested callers only replace the
// pending artifact.
func (p *Publisher) enqueueLocked(a *compositor.Artifact) {
	p.pending = a
	p.hasPending = true
	if p.delivering || p.consumer == nil {
		if p.consumer == nil {
			p.pending, p.hasPending = nil, false
		}
		p.mu.Unlock()
		return
	}

	p.delivering = true
	for p.hasPending {
		next := p.pending
		p.pending, p.hasPending = nil, false
		p.mu.Unlock()
		p.deliver(next)
		p.mu.Lock()
	}
	p.delivering = false
	p.mu.Unlock()
}

// deliver calls the consumer. A panicking consumer must not leave the
// publisher marked as delivering.
func (p *Publisher) deliver(a *compositor.Artifact) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.delivering = false
			p.pending, p.hasPending = nil, false
			p.mu.Unlock()
			panic(r)
		}
	}()
	p.consumer(a)
}
