package kernel

import "slices"

// named pairs a registered value with its registration name.
type named[T any] struct {
	name  string
	value T
}

// ordered is a name-keyed set that remembers registration order.
// It is not safe for concurrent use; Kernel guards it with its own mutex.
type ordered[T any] struct {
	names  []string
	values map[string]T
}

func newOrdered[T any]() ordered[T] {
	return ordered[T]{values: make(map[string]T)}
}

// add stores value under name and reports false when name is taken.
func (o *ordered[T]) add(name string, value T) bool {
	if _, taken := o.values[name]; taken {
		return false
	}
	o.values[name] = value
	o.names = append(o.names, name)

	return true
}

func (o *ordered[T]) remove(name string) {
	if _, exists := o.values[name]; !exists {
		return
	}
	delete(o.values, name)
	o.names = slices.DeleteFunc(o.names, func(candidate string) bool {
		return candidate == name
	})
}

// snapshot copies the entries in registration order.
func (o *ordered[T]) snapshot() []named[T] {
	entries := make([]named[T], 0, len(o.names))
	for _, name := range o.names {
		entries = append(entries, named[T]{name: name, value: o.values[name]})
	}

	return entries
}

// backwards returns a reversed copy of entries.
func backwards[T any](entries []named[T]) []named[T] {
	reversed := slices.Clone(entries)
	slices.Reverse(reversed)

	return reversed
}
