package harness

import (
	"sort"

	"mqtt-test-harness/internal/topic"
)

// registry maps active filters to their QoS and indexes them for matching.
// It has no lock of its own; the owning inbox serializes every access.
type registry struct {
	filters map[string]byte
	index   *topic.Tree
}

func newRegistry() *registry {
	return &registry{
		filters: make(map[string]byte),
		index:   topic.NewTree(),
	}
}

// upsert registers filter, replacing the QoS of an existing entry in place.
// A filter the index rejects leaves the registry unchanged.
func (r *registry) upsert(filter string, qos byte) (prev byte, existed bool, err error) {
	prev, existed = r.filters[filter]
	if !existed {
		if err := r.index.Add(filter); err != nil {
			return 0, false, err
		}
	}
	r.filters[filter] = qos
	return prev, existed, nil
}

// setQoS changes the QoS of a registered filter and reports whether it was found.
func (r *registry) setQoS(filter string, qos byte) bool {
	if _, ok := r.filters[filter]; !ok {
		return false
	}
	r.filters[filter] = qos
	return true
}

func (r *registry) lookup(filter string) (byte, bool) {
	qos, ok := r.filters[filter]
	return qos, ok
}

func (r *registry) remove(filter string) bool {
	if _, ok := r.filters[filter]; !ok {
		return false
	}
	delete(r.filters, filter)
	r.index.Remove(filter)
	return true
}

// match returns the registered filters covering name, in sorted order.
func (r *registry) match(name string) []string {
	return r.index.Match(name)
}

func (r *registry) list() []Subscription {
	subs := make([]Subscription, 0, len(r.filters))
	for filter, qos := range r.filters {
		subs = append(subs, Subscription{Filter: filter, QoS: qos})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Filter < subs[j].Filter })
	return subs
}

func (r *registry) clear() {
	r.filters = make(map[string]byte)
	r.index = topic.NewTree()
}
