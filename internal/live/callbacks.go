package live

import (
	"slices"
	"sync"
)

// callbackList is a copy-on-write list of callbacks. get returns a slice
// that is never mutated, so callbacks can run without holding the lock and
// may add or remove callbacks themselves.
type callbackList[T any] struct {
	mutex     sync.Mutex
	nextID    uint64
	callbacks []callbackEntry[T]
}

type callbackEntry[T any] struct {
	id       uint64
	callback T
}

func newCallbackList[T any]() *callbackList[T] {
	return &callbackList[T]{}
}

func (l *callbackList[T]) get() []T {
	l.mutex.Lock()
	entries := l.callbacks
	l.mutex.Unlock()

	callbacks := make([]T, len(entries))
	for i, e := range entries {
		callbacks[i] = e.callback
	}
	return callbacks
}

func (l *callbackList[T]) add(callback T) func() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.nextID++
	id := l.nextID
	next := slices.Clone(l.callbacks)
	l.callbacks = append(next, callbackEntry[T]{id: id, callback: callback})

	return func() { l.remove(id) }
}

func (l *callbackList[T]) remove(id uint64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	i := slices.IndexFunc(l.callbacks, func(e callbackEntry[T]) bool { return e.id == id })
	if i < 0 {
		return
	}
	next := slices.Clone(l.callbacks)
	l.callbacks = slices.Delete(next, i, i+1)
}
