package protocol

// Params is the room parameter map: last write wins per key, iteration
// follows first-insertion order. Both the authoritative room and its client
// mirror replay parameters in exactly this order.
type Params struct {
	keys   []string
	values map[string]any
}

func NewParams() *Params {
	return &Params{values: make(map[string]any)}
}

func (p *Params) Set(key string, value any) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *Params) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *Params) Len() int { return len(p.keys) }

// Each visits every parameter in insertion order.
func (p *Params) Each(fn func(key string, value any)) {
	for _, key := range p.keys {
		fn(key, p.values[key])
	}
}
