package model

import (
	"fmt"
	"hash/fnv"
)

// EdgeCallback runs after the payload of an edge's source template was
// transmitted. It typically extracts values from the response into the
// session data, so later templates in the sequence stay valid.
type EdgeCallback func(response []byte, session map[string][]byte) error

// Edge is a transition of a GraphModel. Src is nil on edges leaving the
// virtual root.
type Edge struct {
	Src      *Template
	Dst      *Template
	Callback EdgeCallback
}

// GraphModel arranges templates in a graph of message exchanges. A test
// walks the sequence of edges from the root to the fuzzed template,
// transmitting each node's payload; only the last template of the
// sequence is mutated. The model's mutation count is the sum over all
// connected templates.
type GraphModel struct {
	name       string
	order      []*Template
	parentEdge map[*Template]*Edge
	cur        int
	currentIdx int
}

// NewGraphModel returns an empty graph model.
func NewGraphModel(name string) *GraphModel {
	return &GraphModel{
		name:       name,
		parentEdge: map[*Template]*Edge{},
		currentIdx: -1,
	}
}

// Connect attaches dst directly to the root of the graph.
func (g *GraphModel) Connect(dst *Template) error {
	return g.connect(&Edge{Dst: dst})
}

// ConnectFrom attaches dst behind src. src must already be connected.
// cb may be nil; otherwise it runs on src's response during a test.
func (g *GraphModel) ConnectFrom(src, dst *Template, cb EdgeCallback) error {
	if _, ok := g.parentEdge[src]; !ok {
		return fmt.Errorf("graph model %q: source template %q is not connected", g.name, src.Name())
	}
	return g.connect(&Edge{Src: src, Dst: dst, Callback: cb})
}

func (g *GraphModel) connect(e *Edge) error {
	if e.Dst == nil {
		return fmt.Errorf("graph model %q: nil destination template", g.name)
	}
	if _, ok := g.parentEdge[e.Dst]; ok {
		return fmt.Errorf("graph model %q: template %q already connected", g.name, e.Dst.Name())
	}
	g.parentEdge[e.Dst] = e
	g.order = append(g.order, e.Dst)
	return nil
}

// Name returns the model name.
func (g *GraphModel) Name() string { return g.name }

// Templates returns the connected templates in connection order.
func (g *GraphModel) Templates() []*Template { return g.order }

// NumMutations returns the total mutation count over all templates.
func (g *GraphModel) NumMutations() int {
	total := 0
	for _, t := range g.order {
		total += t.NumMutations()
	}
	return total
}

// LastIndex returns the index of the last mutation.
func (g *GraphModel) LastIndex() int { return g.NumMutations() - 1 }

// CurrentIndex returns the index of the current mutation, -1 before the
// first Mutate.
func (g *GraphModel) CurrentIndex() int { return g.currentIdx }

// Mutate advances to the next mutation, moving on to the next template
// once the current one is exhausted. It returns false when the whole
// model is exhausted.
func (g *GraphModel) Mutate() bool {
	for g.cur < len(g.order) {
		if g.order[g.cur].Mutate() {
			g.currentIdx++
			return true
		}
		g.cur++
	}
	return false
}

// Skip fast-forwards up to count mutations and returns the number
// actually skipped.
func (g *GraphModel) Skip(count int) int {
	skipped := 0
	for skipped < count && g.cur < len(g.order) {
		s := g.order[g.cur].Skip(count - skipped)
		skipped += s
		g.currentIdx += s
		if skipped < count {
			g.cur++
		}
	}
	return skipped
}

// Reset rewinds the model and all its templates.
func (g *GraphModel) Reset() {
	for _, t := range g.order {
		t.Reset()
	}
	g.cur = 0
	g.currentIdx = -1
}

// CurrentTemplate returns the template holding the current mutation.
func (g *GraphModel) CurrentTemplate() *Template {
	if len(g.order) == 0 {
		return nil
	}
	if g.cur >= len(g.order) {
		return g.order[len(g.order)-1]
	}
	return g.order[g.cur]
}

// Sequence returns the edges from the root to the current template, in
// transmission order.
func (g *GraphModel) Sequence() ([]*Edge, error) {
	cur := g.CurrentTemplate()
	if cur == nil {
		return nil, fmt.Errorf("graph model %q: no templates connected", g.name)
	}
	var rev []*Edge
	for t := cur; t != nil; {
		e, ok := g.parentEdge[t]
		if !ok {
			return nil, fmt.Errorf("graph model %q: template %q is not connected", g.name, t.Name())
		}
		rev = append(rev, e)
		t = e.Src
	}
	seq := make([]*Edge, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		seq = append(seq, rev[i])
	}
	return seq, nil
}

// Stages returns the names of the connected templates. A client fuzzer
// matches them against the stage requested by the victim.
func (g *GraphModel) Stages() []string {
	names := make([]string, 0, len(g.order))
	for _, t := range g.order {
		names = append(names, t.Name())
	}
	return names
}

// Hash returns a structural hash of the model, stable across process
// runs. A resumed session refuses to continue when it changes.
func (g *GraphModel) Hash() uint64 {
	h := fnv.New64a()
	h.Write([]byte("GraphModel"))
	h.Write([]byte{0})
	h.Write([]byte(g.name))
	for _, t := range g.order {
		var buf [8]byte
		v := t.Hash()
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> uint(56-8*i))
		}
		h.Write(buf[:])
	}
	return h.Sum64()
}
