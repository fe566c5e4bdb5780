package device

import "fmt"

// Buffer is a named region of device memory
type Buffer struct {
	label  string
	data   []byte
	device *Device
}

// Label returns the debug name of the buffer
func (b *Buffer) Label() string {
	return b.label
}

// Size returns the buffer size in bytes, or 0 once released
func (b *Buffer) Size() int {
	return len(b.data)
}

// Released reports whether the buffer was returned to its device
func (b *Buffer) Released() bool {
	return b.data == nil
}

// Bytes exposes the buffer memory for kernel arguments. The software device
// shares memory with the host, so the slice aliases the buffer; it must only
// be touched from within a dispatch or while no dispatch is running.
func (b *Buffer) Bytes() []byte {
	return b.data
}

func (b *Buffer) span(offset, n int) ([]byte, error) {
	if b == nil || b.data == nil {
		return nil, ErrBufferReleased
	}
	if offset < 0 || n < 0 || offset+n > len(b.data) {
		return nil, fmt.Errorf("buffer %q: [%d, %d) of %d bytes: %w", b.label, offset, offset+n, len(b.data), ErrOutOfRange)
	}
	return b.data[offset : offset+n], nil
}
