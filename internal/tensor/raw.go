package tensor

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
)

// Device represents where tensor data logically resides. The container
// never launches kernels; the device is a tag used for uniformity
// checks and reconciliation on insert.
type Device int

// Supported devices.
const (
	CPU Device = iota
	CUDA
	Vulkan
	Metal
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case Vulkan:
		return "Vulkan"
	case Metal:
		return "Metal"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// ParseDevice converts a device name back to a Device tag.
func ParseDevice(s string) (Device, bool) {
	switch s {
	case "CPU":
		return CPU, true
	case "CUDA":
		return CUDA, true
	case "Vulkan":
		return Vulkan, true
	case "Metal":
		return Metal, true
	case "WebGPU":
		return WebGPU, true
	default:
		return 0, false
	}
}

// tensorBuffer is a reference-counted shared buffer. Many RawTensor
// descriptors (views, sub-views, stacked slices) may alias one buffer;
// a mutation through any alias is visible through all of them.
//
// A buffer is either heap-allocated or backed by a memory-mapped file.
// File-backed buffers are unmapped and closed when the last reference
// is released.
type tensorBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation

	// File backing, nil for heap buffers.
	mapped mmap.MMap
	file   *os.File
	path   string
}

// newTensorBuffer creates a new heap-backed buffer with refCount = 1.
func newTensorBuffer(size int) *tensorBuffer {
	buf := &tensorBuffer{
		data: make([]byte, size),
	}
	buf.refCount.Store(1)
	return buf
}

// newMappedBuffer wraps a memory-mapped region with refCount = 1.
// The buffer takes ownership of the mapping and the file handle.
func newMappedBuffer(m mmap.MMap, f *os.File, path string) *tensorBuffer {
	buf := &tensorBuffer{
		data:   []byte(m),
		mapped: m,
		file:   f,
		path:   path,
	}
	buf.refCount.Store(1)
	return buf
}

// addRef increments the reference count (for Clone operations).
func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

// release decrements the reference count and deallocates if it reaches 0.
func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		if tb.mapped != nil {
			_ = tb.mapped.Unmap()
			_ = tb.file.Close()
			tb.mapped = nil
			tb.file = nil
		}
		tb.data = nil
	}
}

// RawTensor is the leaf handle held by tensordict containers: a shared
// buffer plus a per-view descriptor (shape, strides, element offset).
// Transformed leaves share the buffer wherever the transform can be
// expressed as a stride manipulation.
type RawTensor struct {
	buffer *tensorBuffer
	shape  Shape
	stride []int // Memory strides in elements (row-major when contiguous)
	dtype  DataType
	device Device
	offset int // Element offset into the buffer
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zero-initialized.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	byteSize := shape.NumElements() * dtype.Size()

	return &RawTensor{
		buffer: newTensorBuffer(byteSize),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// NewRawMapped creates a RawTensor backed by a memory-mapped file.
// The mapping must be at least shape.NumElements()*dtype.Size() bytes.
// The tensor takes ownership of the mapping and the file handle.
func NewRawMapped(m mmap.MMap, f *os.File, path string, shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	need := shape.NumElements() * dtype.Size()
	if len(m) < need {
		return nil, fmt.Errorf("mapped region too small: %d bytes, need %d", len(m), need)
	}

	return &RawTensor{
		buffer: newMappedBuffer(m, f, path),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// FromFloat32 creates a Float32 tensor from a slice.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	r, err := NewRaw(shape, Float32, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	copy(r.AsFloat32(), data)
	return r, nil
}

// FromInt64 creates an Int64 tensor from a slice.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	r, err := NewRaw(shape, Int64, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	copy(r.AsInt64(), data)
	return r, nil
}

// FromBool creates a Bool tensor from a slice.
func FromBool(data []bool, shape Shape) (*RawTensor, error) {
	r, err := NewRaw(shape, Bool, CPU)
	if err != nil {
		return nil, err
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)",
			len(data), shape, shape.NumElements())
	}
	copy(r.AsBool(), data)
	return r, nil
}

// Full creates a tensor filled with value.
func Full(shape Shape, dtype DataType, device Device, value float64) (*RawTensor, error) {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	r.Fill(value)
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's memory strides in elements.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's device tag.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total logical size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// FileBacked reports whether the tensor's buffer is a memory-mapped file.
func (r *RawTensor) FileBacked() bool {
	return r.buffer.mapped != nil
}

// FilePath returns the backing file path, empty for heap buffers.
func (r *RawTensor) FilePath() string {
	return r.buffer.path
}

// Flush synchronizes a file-backed buffer with its file. No-op for
// heap buffers.
func (r *RawTensor) Flush() error {
	if r.buffer.mapped == nil {
		return nil
	}
	if err := r.buffer.mapped.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", r.buffer.path, err)
	}
	return nil
}

// IsContiguous reports whether the descriptor covers the buffer in
// dense row-major order.
func (r *RawTensor) IsContiguous() bool {
	expect := 1
	for i := len(r.shape) - 1; i >= 0; i-- {
		if r.shape[i] == 1 {
			continue // stride of a size-1 dim is irrelevant
		}
		if r.stride[i] != expect {
			return false
		}
		expect *= r.shape[i]
	}
	return true
}

// SharesBufferWith reports whether two tensors alias the same storage.
func (r *RawTensor) SharesBufferWith(other *RawTensor) bool {
	return r.buffer == other.buffer
}

// mustContiguous panics unless the layout is dense row-major.
// Raw data accessors are only meaningful on contiguous tensors.
func (r *RawTensor) mustContiguous(op string) {
	if !r.IsContiguous() {
		panic(fmt.Sprintf("%s requires a contiguous tensor (shape %v, strides %v)", op, r.shape, r.stride))
	}
}

// Data returns the raw byte slice of a contiguous tensor.
// WARNING: direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	r.mustContiguous("Data")
	start := r.offset * r.dtype.Size()
	return r.buffer.data[start : start+r.ByteSize()]
}

// AsFloat32 interprets the data as []float32.
// Panics if the dtype is not Float32 or the tensor is not contiguous.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	data := r.Data()
	if len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the dtype is not Float64 or the tensor is not contiguous.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	data := r.Data()
	if len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt32 interprets the data as []int32.
// Panics if the dtype is not Int32 or the tensor is not contiguous.
func (r *RawTensor) AsInt32() []int32 {
	if r.dtype != Int32 {
		panic(fmt.Sprintf("tensor dtype is %s, not int32", r.dtype))
	}
	data := r.Data()
	if len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsInt64 interprets the data as []int64.
// Panics if the dtype is not Int64 or the tensor is not contiguous.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	data := r.Data()
	if len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*int64)(unsafe.Pointer(&data[0])), r.NumElements())
}

// AsUint8 interprets the data as []uint8.
// Panics if the dtype is not Uint8 or the tensor is not contiguous.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.Data()
}

// AsBool interprets the data as []bool.
// Panics if the dtype is not Bool or the tensor is not contiguous.
func (r *RawTensor) AsBool() []bool {
	if r.dtype != Bool {
		panic(fmt.Sprintf("tensor dtype is %s, not bool", r.dtype))
	}
	data := r.Data()
	if len(data) == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy access, bounds checked by NumElements()
	return unsafe.Slice((*bool)(unsafe.Pointer(&data[0])), r.NumElements())
}

// alias returns a descriptor copy sharing the same buffer.
func (r *RawTensor) alias() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}
}

// ToDevice returns a descriptor copy retagged with device. Data is not
// moved: the container's device reconciliation is a bookkeeping cast.
func (r *RawTensor) ToDevice(device Device) *RawTensor {
	if r.device == device {
		return r
	}
	out := r.alias()
	out.device = device
	return out
}

// Clone creates a deep copy with contiguous layout.
func (r *RawTensor) Clone() (*RawTensor, error) {
	out, err := NewRaw(r.shape, r.dtype, r.device)
	if err != nil {
		return nil, err
	}
	if err := out.CopyFrom(r); err != nil {
		return nil, err
	}
	return out, nil
}

// Contiguous returns r itself when already dense, otherwise a
// contiguous deep copy.
func (r *RawTensor) Contiguous() (*RawTensor, error) {
	if r.IsContiguous() {
		return r, nil
	}
	return r.Clone()
}

// Release decrements the buffer reference count and deallocates (or
// unmaps) when it reaches 0.
func (r *RawTensor) Release() {
	r.buffer.release()
}
