package eventindex

// Group is an ordered mapping from a date key to a child container. Keys keep
// the order they were first seen in and are never sorted. keys[i] owns
// children[i].
type Group[K comparable, V any] struct {
	keys     []K
	children []V
	newChild func() V
}

// NewGroup returns an empty group. newChild builds the empty child appended
// for an unseen key.
func NewGroup[K comparable, V any](newChild func() V) *Group[K, V] {
	return &Group[K, V]{newChild: newChild}
}

// AddKeyIfNeeded appends key with an empty child when it is absent.
func (g *Group[K, V]) AddKeyIfNeeded(key K) K {
	if _, ok := g.IndexOf(key); !ok {
		g.keys = append(g.keys, key)
		g.children = append(g.children, g.newChild())
	}
	return key
}

// ChildFor returns the child for key, creating it if needed.
func (g *Group[K, V]) ChildFor(key K) V {
	if i, ok := g.IndexOf(key); ok {
		return g.children[i]
	}
	g.AddKeyIfNeeded(key)
	return g.children[len(g.children)-1]
}

// Child is the non-creating lookup.
func (g *Group[K, V]) Child(key K) (V, bool) {
	i, ok := g.IndexOf(key)
	if !ok {
		var zero V
		return zero, false
	}
	return g.children[i], true
}

// IndexOf returns the position of key.
func (g *Group[K, V]) IndexOf(key K) (int, bool) {
	for i, k := range g.keys {
		if k == key {
			return i, true
		}
	}
	return -1, false
}

// At returns the key and child at position i.
func (g *Group[K, V]) At(i int) (K, V, bool) {
	if i < 0 || i >= len(g.keys) {
		var (
			zk K
			zv V
		)
		return zk, zv, false
	}
	return g.keys[i], g.children[i], true
}

// Keys returns a copy of the keys in order.
func (g *Group[K, V]) Keys() []K {
	out := make([]K, len(g.keys))
	copy(out, g.keys)
	return out
}

func (g *Group[K, V]) Len() int {
	return len(g.keys)
}

// insertAt puts an absent key (with an empty child) before position i and
// returns its child.
func (g *Group[K, V]) insertAt(i int, key K) V {
	if j, ok := g.IndexOf(key); ok {
		return g.children[j]
	}
	if i < 0 || i > len(g.keys) {
		i = len(g.keys)
	}
	child := g.newChild()

	var zk K
	g.keys = append(g.keys, zk)
	copy(g.keys[i+1:], g.keys[i:])
	g.keys[i] = key

	var zv V
	g.children = append(g.children, zv)
	copy(g.children[i+1:], g.children[i:])
	g.children[i] = child

	return child
}
