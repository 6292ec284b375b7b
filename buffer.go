package vkcore

import (
	"unsafe"

	"github.com/pkg/errors"
)

// Buffer is a typed view over a BufferResource holding Len elements of T.
// T must be plain data: no pointers, slices, maps or strings.
type Buffer[T any] struct {
	*BufferResource
	Len int
}

func elementSize[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

// CreateBuffer allocates a buffer of count elements of T.
func CreateBuffer[T any](arena *Arena, count int, usage BufferUsage, pref MemoryPreference) (*Buffer[T], error) {
	es := elementSize[T]()
	if count <= 0 || es == 0 {
		return nil, ErrEmptyBuffer
	}
	r, err := arena.CreateBufferResource(uint64(count)*es, usage, pref)
	if err != nil {
		return nil, err
	}
	return &Buffer[T]{BufferResource: r, Len: count}, nil
}

// BufferFromSlice creates a host-visible buffer holding a copy of data. A
// nil preference means PreferUpload.
func BufferFromSlice[T any](arena *Arena, data []T, usage BufferUsage, pref MemoryPreference) (*Buffer[T], error) {
	return BufferFromFunc(arena, len(data), func(i int) T { return data[i] }, usage, pref)
}

// BufferFromFunc creates a host-visible buffer whose i-th element is fn(i).
func BufferFromFunc[T any](arena *Arena, count int, fn func(i int) T, usage BufferUsage, pref MemoryPreference) (*Buffer[T], error) {
	if pref == nil {
		pref = PreferUpload
	}
	b, err := CreateBuffer[T](arena, count, usage, pref)
	if err != nil {
		return nil, err
	}
	err = b.Write(func(s []T) error {
		for i := range s {
			s[i] = fn(i)
		}
		return nil
	})
	if err != nil {
		_ = b.Release()
		return nil, errors.Wrap(err, "initialize buffer")
	}
	return b, nil
}

func (b *Buffer[T]) view(p []byte) []T {
	return unsafe.Slice((*T)(unsafe.Pointer(&p[0])), b.Len)
}

// Read maps the buffer and passes its elements to fn. The slice must not
// be retained after fn returns.
func (b *Buffer[T]) Read(fn func([]T) error) error {
	return b.ReadBytes(func(p []byte) error { return fn(b.view(p)) })
}

// Write maps the buffer and lets fn modify its elements in place.
func (b *Buffer[T]) Write(fn func([]T) error) error {
	return b.WriteBytes(func(p []byte) error { return fn(b.view(p)) })
}

// ToSlice copies the buffer contents out.
func (b *Buffer[T]) ToSlice() ([]T, error) {
	out := make([]T, b.Len)
	err := b.Read(func(s []T) error {
		copy(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns another handle to the same buffer.
func (b *Buffer[T]) Clone() *Buffer[T] {
	return &Buffer[T]{BufferResource: b.CloneResource(), Len: b.Len}
}

func (b *Buffer[T]) ElementSize() uint64 { return elementSize[T]() }
