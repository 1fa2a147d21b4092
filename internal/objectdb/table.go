package objectdb

import (
	"fmt"
	"slices"
	"sort"

	"github.com/alanyoungcy/aftchain/internal/domain"
)

// IndexSpec declares a secondary index. Key derives the index key from an
// entity; Unique rejects two live entities sharing a key.
type IndexSpec[T any] struct {
	Name   string
	Unique bool
	Key    func(T) string
}

type ref[K ~string] struct {
	inst uint64
	id   K
}

type index[K ~string, T any] struct {
	spec    IndexSpec[T]
	entries map[string][]ref[K]
}

func (ix *index[K, T]) add(key string, r ref[K]) {
	refs := ix.entries[key]
	i := sort.Search(len(refs), func(i int) bool { return refs[i].inst >= r.inst })
	ix.entries[key] = slices.Insert(refs, i, r)
}

func (ix *index[K, T]) remove(key string, r ref[K]) {
	refs := ix.entries[key]
	i := sort.Search(len(refs), func(i int) bool { return refs[i].inst >= r.inst })
	if i < len(refs) && refs[i].id == r.id {
		refs = slices.Delete(refs, i, i+1)
	}
	if len(refs) == 0 {
		delete(ix.entries, key)
		return
	}
	ix.entries[key] = refs
}

type row[T any] struct {
	inst uint64
	val  T
}

// Table is a typed collection of objects sharing one "space.type" id
// prefix. Index maintenance is part of every mutation, so a live object is
// never indexed inconsistently. Values are copied on the way in and out.
type Table[K ~string, T any] struct {
	db      *DB
	name    string
	space   int
	typ     int
	next    uint64
	rows    map[K]*row[T]
	clone   func(T) T
	indices map[string]*index[K, T]
	order   []string
}

// NewTable registers a table with db. clone must return a deep copy; pass
// nil for plain value types.
func NewTable[K ~string, T any](db *DB, name string, space, typ int, clone func(T) T) *Table[K, T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Table[K, T]{
		db:      db,
		name:    name,
		space:   space,
		typ:     typ,
		rows:    make(map[K]*row[T]),
		clone:   clone,
		indices: make(map[string]*index[K, T]),
	}
}

// AddIndex declares a secondary index. It must be called before the first
// Create.
func (t *Table[K, T]) AddIndex(spec IndexSpec[T]) {
	if _, ok := t.indices[spec.Name]; !ok {
		t.order = append(t.order, spec.Name)
	}
	t.indices[spec.Name] = &index[K, T]{spec: spec, entries: make(map[string][]ref[K])}
}

// Name returns the table name.
func (t *Table[K, T]) Name() string { return t.name }

// Len returns the number of live objects.
func (t *Table[K, T]) Len() int { return len(t.rows) }

// NextID returns the id the next Create will allocate.
func (t *Table[K, T]) NextID() K {
	return K(FormatID(t.space, t.typ, t.next))
}

// Create allocates the next id, builds the object with it and stores it.
func (t *Table[K, T]) Create(build func(id K) T) (T, error) {
	id := t.NextID()
	val := t.clone(build(id))
	r := ref[K]{inst: t.next, id: id}
	if err := t.checkUnique(val, id); err != nil {
		var zero T
		return zero, err
	}
	t.rows[id] = &row[T]{inst: r.inst, val: val}
	t.indexAdd(val, r)
	t.next++
	t.db.record(func() {
		t.indexRemove(val, r)
		delete(t.rows, id)
		t.next--
	})
	return t.clone(val), nil
}

// Get returns a copy of the object with the given id.
func (t *Table[K, T]) Get(id K) (T, error) {
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, domain.NotFoundf("%s %s", t.name, id)
	}
	return t.clone(r.val), nil
}

// Has reports whether id is live.
func (t *Table[K, T]) Has(id K) bool {
	_, ok := t.rows[id]
	return ok
}

// Modify applies mutate to a copy of the object and stores the result. An
// error from mutate or a unique index conflict leaves the object untouched.
func (t *Table[K, T]) Modify(id K, mutate func(*T) error) (T, error) {
	r, ok := t.rows[id]
	if !ok {
		var zero T
		return zero, domain.NotFoundf("%s %s", t.name, id)
	}
	old := r.val
	next := t.clone(old)
	if err := mutate(&next); err != nil {
		var zero T
		return zero, err
	}
	if err := t.checkUnique(next, id); err != nil {
		var zero T
		return zero, err
	}
	rf := ref[K]{inst: r.inst, id: id}
	t.replace(r, rf, old, next)
	t.db.record(func() { t.replace(r, rf, next, old) })
	return t.clone(next), nil
}

// Remove deletes the object with the given id.
func (t *Table[K, T]) Remove(id K) error {
	r, ok := t.rows[id]
	if !ok {
		return domain.NotFoundf("%s %s", t.name, id)
	}
	rf := ref[K]{inst: r.inst, id: id}
	t.indexRemove(r.val, rf)
	delete(t.rows, id)
	t.db.record(func() {
		t.rows[id] = r
		t.indexAdd(r.val, rf)
	})
	return nil
}

// Find returns the single object whose index key equals key.
func (t *Table[K, T]) Find(indexName, key string) (T, error) {
	var zero T
	ix, err := t.index(indexName)
	if err != nil {
		return zero, err
	}
	refs := ix.entries[key]
	if len(refs) == 0 {
		return zero, domain.NotFoundf("%s with %s %q", t.name, indexName, key)
	}
	return t.clone(t.rows[refs[0].id].val), nil
}

// Range returns every object whose index key equals key, in id order.
func (t *Table[K, T]) Range(indexName, key string) ([]T, error) {
	ix, err := t.index(indexName)
	if err != nil {
		return nil, err
	}
	refs := ix.entries[key]
	out := make([]T, 0, len(refs))
	for _, r := range refs {
		out = append(out, t.clone(t.rows[r.id].val))
	}
	return out, nil
}

// Ordered returns every object ordered by (index key, id).
func (t *Table[K, T]) Ordered(indexName string) ([]T, error) {
	ix, err := t.index(indexName)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(t.rows))
	for _, k := range keys {
		for _, r := range ix.entries[k] {
			out = append(out, t.clone(t.rows[r.id].val))
		}
	}
	return out, nil
}

// All returns every object in id order.
func (t *Table[K, T]) All() []T {
	rows := make([]*row[T], 0, len(t.rows))
	for _, r := range t.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].inst < rows[j].inst })
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		out = append(out, t.clone(r.val))
	}
	return out
}

func (t *Table[K, T]) index(name string) (*index[K, T], error) {
	ix, ok := t.indices[name]
	if !ok {
		return nil, fmt.Errorf("objectdb: %s has no index %q", t.name, name)
	}
	return ix, nil
}

func (t *Table[K, T]) checkUnique(val T, id K) error {
	for _, name := range t.order {
		ix := t.indices[name]
		if !ix.spec.Unique {
			continue
		}
		key := ix.spec.Key(val)
		for _, r := range ix.entries[key] {
			if r.id != id {
				return fmt.Errorf("%w: %s %s %q", domain.ErrAlreadyExists, t.name, ix.spec.Name, key)
			}
		}
	}
	return nil
}

func (t *Table[K, T]) replace(r *row[T], rf ref[K], from, to T) {
	t.indexRemove(from, rf)
	r.val = to
	t.indexAdd(to, rf)
}

func (t *Table[K, T]) indexAdd(val T, r ref[K]) {
	for _, ix := range t.indices {
		ix.add(ix.spec.Key(val), r)
	}
}

func (t *Table[K, T]) indexRemove(val T, r ref[K]) {
	for _, ix := range t.indices {
		ix.remove(ix.spec.Key(val), r)
	}
}
