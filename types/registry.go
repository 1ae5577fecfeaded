package types

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/belagoesr/mun/errors"
)

// Snapshot is an immutable view of the registered types. Array descriptors
// are derived on first use and cached.
type Snapshot struct {
	named   map[string]*Descriptor
	arrays  sync.Map
	version uint64
}

func newSnapshot(named map[string]*Descriptor, version uint64) *Snapshot {
	return &Snapshot{named: named, version: version}
}

// Version increases with every committed change to the registry.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Len returns the number of named types.
func (s *Snapshot) Len() int {
	return len(s.named)
}

// Lookup returns a named struct type.
func (s *Snapshot) Lookup(name string) (*Descriptor, bool) {
	d, ok := s.named[name]
	return d, ok
}

// Names returns the registered type names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.named))
	for name := range s.named {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Resolve returns the descriptor for any type name: a primitive, a named
// struct or an array of either.
func (s *Snapshot) Resolve(name string) (*Descriptor, error) {
	if IsArrayName(name) {
		if d, ok := s.arrays.Load(name); ok {
			return d.(*Descriptor), nil
		}
		d, err := Parse(name, s.Lookup)
		if err != nil {
			return nil, err
		}
		actual, _ := s.arrays.LoadOrStore(name, d)
		return actual.(*Descriptor), nil
	}
	return Parse(name, s.Lookup)
}

// Current reports whether bytes laid out as d can be read with this
// snapshot's types. A struct must match its registered layout and an array
// its element type, whether the elements are stored inline or referenced.
func (s *Snapshot) Current(d *Descriptor) bool {
	switch d.Kind {
	case KindStruct:
		cur, ok := s.named[d.Name]
		return ok && cur.SameLayout(d)
	case KindArray:
		return s.Current(d.Elem)
	default:
		return true
	}
}

// Registry resolves compiled type names to layouts. Reads go through an
// atomically published Snapshot and never block; writers serialize on mu and
// publish a new snapshot.
type Registry struct {
	current atomic.Pointer[Snapshot]
	retired []*Descriptor
	mu      sync.Mutex
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(newSnapshot(map[string]*Descriptor{}, 0))
	return r
}

// Snapshot returns the current published view.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Resolve looks a type name up in the current snapshot.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	return r.current.Load().Resolve(name)
}

// FieldOffset returns the byte offset of a struct field.
func (r *Registry) FieldOffset(d *Descriptor, field string) (uint32, error) {
	f, err := d.Field(field)
	if err != nil {
		return 0, err
	}
	return f.Offset, nil
}

// Register publishes descriptors outside a reload transaction. Registering a
// layout identical to the one already present is a no-op; a different layout
// under a taken name fails with DuplicateType.
func (r *Registry) Register(descs ...*Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current.Load()
	var added map[string]*Descriptor
	for _, d := range descs {
		if err := validate(d); err != nil {
			return err
		}
		prev, ok := cur.named[d.Name]
		if !ok {
			prev, ok = added[d.Name]
		}
		if ok {
			if !prev.SameLayout(d) {
				return errors.DuplicateType(d.Name)
			}
			continue
		}
		if added == nil {
			added = make(map[string]*Descriptor)
		}
		added[d.Name] = d
	}
	if len(added) == 0 {
		return nil
	}

	named := maps.Clone(cur.named)
	maps.Copy(named, added)
	r.current.Store(newSnapshot(named, cur.version+1))
	return nil
}

// Define lays out defs and registers the result.
func (r *Registry) Define(defs []Def) error {
	named, err := Build(defs)
	if err != nil {
		return err
	}
	descs := make([]*Descriptor, 0, len(named))
	for _, d := range named {
		descs = append(descs, d)
	}
	return r.Register(descs...)
}

// Retired returns layouts replaced by committed reloads that have not been
// pruned yet.
func (r *Registry) Retired() []*Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.retired)
}

// Prune forgets retired layouts for which live reports no remaining objects.
// It returns the number of layouts dropped.
func (r *Registry) Prune(live func(*Descriptor) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.retired)
	r.retired = slices.DeleteFunc(r.retired, func(d *Descriptor) bool {
		return !live(d)
	})
	return before - len(r.retired)
}

// Begin opens a reload transaction. The transaction starts empty: a reload
// supplies the complete type table.
func (r *Registry) Begin() *Txn {
	return &Txn{
		r:     r,
		base:  r.current.Load(),
		named: make(map[string]*Descriptor),
	}
}

// Txn stages a replacement type table.
type Txn struct {
	r       *Registry
	base    *Snapshot
	named   map[string]*Descriptor
	pending *Snapshot
	done    bool
}

// Register stages a descriptor. Within one transaction names must still be
// unique.
func (t *Txn) Register(d *Descriptor) error {
	if t.done {
		return errors.InvalidInput(errors.PhaseReload, "transaction already finished")
	}
	if err := validate(d); err != nil {
		return err
	}
	if prev, ok := t.named[d.Name]; ok && !prev.SameLayout(d) {
		return errors.DuplicateType(d.Name)
	}
	t.named[d.Name] = d
	t.pending = nil
	return nil
}

// Define lays out defs and stages the result.
func (t *Txn) Define(defs []Def) error {
	named, err := Build(defs)
	if err != nil {
		return err
	}
	for _, d := range named {
		if err := t.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Base returns the snapshot the transaction was opened against.
func (t *Txn) Base() *Snapshot {
	return t.base
}

// Snapshot returns the staged table as it will be published by Commit.
func (t *Txn) Snapshot() *Snapshot {
	if t.pending == nil {
		t.pending = newSnapshot(maps.Clone(t.named), t.base.version+1)
	}
	return t.pending
}

// Resolve looks a type name up in the staged table.
func (t *Txn) Resolve(name string) (*Descriptor, error) {
	return t.Snapshot().Resolve(name)
}

// Diff reports how the staged table differs from the base.
func (t *Txn) Diff() []Change {
	return Diff(t.base, t.Snapshot())
}

// Commit publishes the staged table and returns the descriptors it retired.
// It fails with KindBusy when another writer changed the registry since Begin.
func (t *Txn) Commit() ([]*Descriptor, error) {
	if t.done {
		return nil, errors.InvalidInput(errors.PhaseReload, "transaction already finished")
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()

	if t.r.current.Load() != t.base {
		return nil, errors.New(errors.PhaseReload, errors.KindBusy).
			Detail("registry changed since the transaction began").
			Build()
	}

	next := t.Snapshot()
	var retired []*Descriptor
	for _, c := range Diff(t.base, next) {
		if c.Kind == Added {
			continue
		}
		retired = append(retired, c.Old)
	}
	t.r.retired = append(t.r.retired, retired...)
	t.r.current.Store(next)
	t.done = true
	return retired, nil
}

// Abort discards the transaction.
func (t *Txn) Abort() {
	t.done = true
	t.named = nil
	t.pending = nil
}

// validate prepares a hand-built descriptor for publishing.
func validate(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return errors.InvalidInput(errors.PhaseRegister, "descriptor without a name")
	}
	if d.Kind != KindStruct {
		return errors.InvalidInput(errors.PhaseRegister, "only struct types are registered by name: "+d.Name)
	}
	if d.fieldIndex == nil {
		d.fieldIndex = make(map[string]int, len(d.Fields))
		for i := range d.Fields {
			d.fieldIndex[d.Fields[i].Name] = i
		}
	}
	if d.Fingerprint == (Fingerprint{}) {
		d.Fingerprint = fingerprint(d)
	}
	return nil
}
