package store

import "sync"

// Value holds a single optional record, such as the loaded wedding.
type Value[T any] struct {
	mu       sync.RWMutex
	value    *T
	onChange func()
}

func NewValue[T any]() *Value[T] {
	return &Value[T]{}
}

func (v *Value[T]) OnChange(fn func()) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.value == nil {
		var zero T
		return zero, false
	}
	return *v.value, true
}

func (v *Value[T]) Set(value T) {
	v.update(&value)
}

func (v *Value[T]) Clear() {
	v.update(nil)
}

// Restore sets the value without firing OnChange.
func (v *Value[T]) Restore(value *T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
}

// Ptr returns a copy of the value or nil.
func (v *Value[T]) Ptr() *T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.value == nil {
		return nil
	}
	out := *v.value
	return &out
}

func (v *Value[T]) update(value *T) {
	v.mu.Lock()
	v.value = value
	hook := v.onChange
	v.mu.Unlock()
	if hook != nil {
		hook()
	}
}
