package plugin

import (
	"fmt"
	"sync"
)

// Registry owns the descriptor set and the per-kind builder maps. Pipeline
// runs never read it directly: they take a Snapshot at run start, so a
// registration that lands mid-run is picked up by the next run only.
type Registry struct {
	mu sync.RWMutex

	sourceBuilders     map[string]SourceBuilder
	summarizerBuilders map[string]SummarizerBuilder
	channelBuilders    map[string]ChannelBuilder

	descriptors map[Kind][]Descriptor
	index       map[Kind]map[string]int
}

func NewRegistry() *Registry {
	r := &Registry{
		sourceBuilders:     make(map[string]SourceBuilder),
		summarizerBuilders: make(map[string]SummarizerBuilder),
		channelBuilders:    make(map[string]ChannelBuilder),
		descriptors:        make(map[Kind][]Descriptor),
		index:              make(map[Kind]map[string]int),
	}
	for _, k := range Kinds {
		r.index[k] = make(map[string]int)
	}
	return r
}

// RegisterSourceModule binds a module name to a source builder. Module
// registration happens once at startup, before descriptors load.
func (r *Registry) RegisterSourceModule(module string, b SourceBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceBuilders[module] = b
}

func (r *Registry) RegisterSummarizerModule(module string, b SummarizerBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summarizerBuilders[module] = b
}

func (r *Registry) RegisterChannelModule(module string, b ChannelBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelBuilders[module] = b
}

// HasSourceModule reports whether a source builder is registered for module.
func (r *Registry) HasSourceModule(module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sourceBuilders[module]
	return ok
}

// Upsert validates a descriptor against its module's builder (including a
// strict config decode) and stores it. Existing names are overwritten:
// last-writer-wins at descriptor granularity.
func (r *Registry) Upsert(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.probeLocked(d); err != nil {
		return err
	}
	if i, ok := r.index[d.Kind][d.Name]; ok {
		r.descriptors[d.Kind][i] = d
		return nil
	}
	r.index[d.Kind][d.Name] = len(r.descriptors[d.Kind])
	r.descriptors[d.Kind] = append(r.descriptors[d.Kind], d)
	return nil
}

// probeLocked builds the capability once and discards it, so config defects
// are rejected here rather than mid-run.
func (r *Registry) probeLocked(d Descriptor) error {
	switch d.Kind {
	case KindSource:
		b, ok := r.sourceBuilders[d.Module]
		if !ok {
			return fmt.Errorf("source module %q is not registered", d.Module)
		}
		_, err := b(d)
		return err
	case KindSummarizer:
		b, ok := r.summarizerBuilders[d.Module]
		if !ok {
			return fmt.Errorf("summarizer module %q is not registered", d.Module)
		}
		_, err := b(d)
		return err
	case KindChannel:
		b, ok := r.channelBuilders[d.Module]
		if !ok {
			return fmt.Errorf("channel module %q is not registered", d.Module)
		}
		_, err := b(d)
		return err
	}
	return fmt.Errorf("unknown kind %q", d.Kind)
}

// SetEnabled flips a descriptor; effective on the next snapshot, never
// mid-run.
func (r *Registry) SetEnabled(kind Kind, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[kind][name]
	if !ok {
		return &UnknownPluginError{Kind: kind, Name: name}
	}
	r.descriptors[kind][i].Enabled = enabled
	return nil
}

// Delete removes a descriptor. In-flight runs keep the snapshot they started
// with; the next snapshot simply no longer lists the name.
func (r *Registry) Delete(kind Kind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[kind][name]
	if !ok {
		return &UnknownPluginError{Kind: kind, Name: name}
	}
	r.descriptors[kind] = append(r.descriptors[kind][:i], r.descriptors[kind][i+1:]...)
	delete(r.index[kind], name)
	for n, j := range r.index[kind] {
		if j > i {
			r.index[kind][n] = j - 1
		}
	}
	return nil
}

// Descriptors returns a copy of the descriptor list for one kind, in
// registration order.
func (r *Registry) Descriptors(kind Kind) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.descriptors[kind]))
	copy(out, r.descriptors[kind])
	return out
}

// Snapshot freezes the current descriptor set for one run. Builder maps are
// shared: modules register before the first snapshot and are append-only.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Snapshot{
		sourceBuilders:     r.sourceBuilders,
		summarizerBuilders: r.summarizerBuilders,
		channelBuilders:    r.channelBuilders,
		descriptors:        make(map[Kind][]Descriptor, len(r.descriptors)),
		index:              make(map[Kind]map[string]int, len(r.index)),
	}
	for kind, list := range r.descriptors {
		cp := make([]Descriptor, len(list))
		copy(cp, list)
		s.descriptors[kind] = cp
		idx := make(map[string]int, len(list))
		for name, i := range r.index[kind] {
			idx[name] = i
		}
		s.index[kind] = idx
	}
	return s
}

// Snapshot is an immutable view of the registry taken at run start.
type Snapshot struct {
	sourceBuilders     map[string]SourceBuilder
	summarizerBuilders map[string]SummarizerBuilder
	channelBuilders    map[string]ChannelBuilder
	descriptors        map[Kind][]Descriptor
	index              map[Kind]map[string]int
}

// ListEnabled returns enabled descriptors of one kind in registration order.
func (s *Snapshot) ListEnabled(kind Kind) []Descriptor {
	var out []Descriptor
	for _, d := range s.descriptors[kind] {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Descriptor looks up one descriptor by kind and name.
func (s *Snapshot) Descriptor(kind Kind, name string) (Descriptor, bool) {
	i, ok := s.index[kind][name]
	if !ok {
		return Descriptor{}, false
	}
	return s.descriptors[kind][i], true
}

// ResolveSource resolves a source plugin by name, enabled or not.
func (s *Snapshot) ResolveSource(name string) (Source, error) {
	d, ok := s.Descriptor(KindSource, name)
	if !ok {
		return nil, &UnknownPluginError{Kind: KindSource, Name: name}
	}
	return s.BuildSource(d)
}

func (s *Snapshot) ResolveSummarizer(name string) (Summarizer, error) {
	d, ok := s.Descriptor(KindSummarizer, name)
	if !ok {
		return nil, &UnknownPluginError{Kind: KindSummarizer, Name: name}
	}
	b, ok := s.summarizerBuilders[d.Module]
	if !ok {
		return nil, fmt.Errorf("summarizer module %q is not registered", d.Module)
	}
	return b(d)
}

func (s *Snapshot) ResolveChannel(name string) (Channel, error) {
	d, ok := s.Descriptor(KindChannel, name)
	if !ok {
		return nil, &UnknownPluginError{Kind: KindChannel, Name: name}
	}
	b, ok := s.channelBuilders[d.Module]
	if !ok {
		return nil, fmt.Errorf("channel module %q is not registered", d.Module)
	}
	return b(d)
}

// BuildSource constructs a source from a descriptor that may not be stored
// yet. The extension agent uses this to test candidate modules in isolation
// before anything touches the registry.
func (s *Snapshot) BuildSource(d Descriptor) (Source, error) {
	b, ok := s.sourceBuilders[d.Module]
	if !ok {
		return nil, fmt.Errorf("source module %q is not registered", d.Module)
	}
	return b(d)
}
