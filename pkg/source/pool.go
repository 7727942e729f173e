package source

import "sync"

// pool retains a handful of decoded source images keyed by resolved
// reference. Decoded gigapixel-class images are large, so the capacity is
// tiny and eviction is insertion-order: the oldest decoded image leaves
// first, independent of read access.
type pool struct {
	mu       sync.Mutex
	capacity int
	images   map[string]*SourceImage
	order    []string
}

func newPool(capacity int) *pool {
	return &pool{
		capacity: capacity,
		images:   make(map[string]*SourceImage, capacity),
	}
}

func (p *pool) get(ref string) (*SourceImage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	img, ok := p.images[ref]
	return img, ok
}

func (p *pool) put(ref string, img *SourceImage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.images[ref]; !exists {
		if len(p.order) >= p.capacity {
			oldest := p.order[0]
			p.order = p.order[1:]
			delete(p.images, oldest)
		}
		p.order = append(p.order, ref)
	}
	p.images[ref] = img
}

func (p *pool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.images)
}
