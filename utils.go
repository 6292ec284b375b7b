package vkcore

import (
	"encoding/binary"
	"reflect"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/spirv"
)

// DestroyAny is a utility function which given an item will try to
// figure out how to release or destroy it. Nil pointers and handles already
// released are skipped.
func DestroyAny(items ...interface{}) {
	for _, i := range items {
		if v := reflect.ValueOf(i); !v.IsValid() || (v.Kind() == reflect.Ptr && v.IsNil()) {
			continue
		}
		switch t := i.(type) {
		case Releaser:
			if t.Released() {
				continue
			}
			_ = t.Release()
		case Destroyer:
			t.Destroy()
		}
	}
}

// wordsOf converts a SPIR-V byte stream in either byte order to words.
func wordsOf(data []byte) ([]uint32, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidShader, "%d bytes is not a whole number of words", len(data))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(data) != spirv.Magic {
		if binary.BigEndian.Uint32(data) != spirv.Magic {
			return nil, errors.Wrap(ErrInvalidShader, "bad magic number")
		}
		order = binary.BigEndian
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}
	return words, nil
}

// inBounds reports whether [offset, offset+size) lies within limit bytes,
// without overflowing.
func inBounds(offset, size, limit uint64) bool {
	return size <= limit && offset <= limit-size
}
