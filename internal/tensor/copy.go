package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// iterElems walks every coordinate of shape in row-major order and
// reports the element offset under each stride set. It is the single
// traversal primitive behind copy, fill, equality and scatter/gather.
func iterElems(shape Shape, strides [][]int, offsets []int, fn func(offs []int)) {
	n := shape.NumElements()
	if n == 0 {
		return
	}
	rank := len(shape)
	coord := make([]int, rank)
	offs := make([]int, len(strides))
	copy(offs, offsets)

	for {
		fn(offs)

		// Odometer increment.
		d := rank - 1
		for ; d >= 0; d-- {
			coord[d]++
			for k := range strides {
				offs[k] += strides[k][d]
			}
			if coord[d] < shape[d] {
				break
			}
			for k := range strides {
				offs[k] -= strides[k][d] * shape[d]
			}
			coord[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

// readElem reads the element at byte offset off as float64. Bool maps
// to 0/1. This exists for dtype-converting copies only; the container
// performs no arithmetic.
func readElem(buf []byte, off int, dt DataType) float64 {
	switch dt {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:])))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[off:])))
	case Uint8:
		return float64(buf[off])
	case Bool:
		if buf[off] != 0 {
			return 1
		}
		return 0
	default:
		panic("unknown data type")
	}
}

// writeElem writes v at byte offset off using dt's encoding.
func writeElem(buf []byte, off int, dt DataType, v float64) {
	switch dt {
	case Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	case Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	case Int64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(int64(v)))
	case Uint8:
		buf[off] = uint8(v)
	case Bool:
		if v != 0 {
			buf[off] = 1
		} else {
			buf[off] = 0
		}
	default:
		panic("unknown data type")
	}
}

// CopyFrom copies src element-wise into r. Shapes must match exactly;
// dtypes may differ, in which case elements are converted through
// float64. Both sides may be arbitrary strided views, so this is also
// the write-through path for views and sub-views.
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if !r.shape.Equal(src.shape) {
		return fmt.Errorf("shape mismatch in copy: dst %v, src %v", r.shape, src.shape)
	}

	// Fast path: identical dtype, both dense.
	if r.dtype == src.dtype && r.IsContiguous() && src.IsContiguous() {
		copy(r.Data(), src.Data())
		return nil
	}

	dstES := r.dtype.Size()
	srcES := src.dtype.Size()
	dstBuf := r.buffer.data
	srcBuf := src.buffer.data

	if r.dtype == src.dtype {
		iterElems(r.shape, [][]int{r.stride, src.stride}, []int{r.offset, src.offset}, func(offs []int) {
			do := offs[0] * dstES
			so := offs[1] * srcES
			copy(dstBuf[do:do+dstES], srcBuf[so:so+srcES])
		})
		return nil
	}

	iterElems(r.shape, [][]int{r.stride, src.stride}, []int{r.offset, src.offset}, func(offs []int) {
		writeElem(dstBuf, offs[0]*dstES, r.dtype, readElem(srcBuf, offs[1]*srcES, src.dtype))
	})
	return nil
}

// Fill sets every element to value (converted to the tensor dtype).
func (r *RawTensor) Fill(value float64) {
	es := r.dtype.Size()
	buf := r.buffer.data
	iterElems(r.shape, [][]int{r.stride}, []int{r.offset}, func(offs []int) {
		writeElem(buf, offs[0]*es, r.dtype, value)
	})
}

// Zero sets every element to the dtype's zero value.
func (r *RawTensor) Zero() {
	r.Fill(0)
}

// Equal reports element-wise equality: same shape, same dtype, same
// values. Strides and buffer identity are not part of equality.
func (r *RawTensor) Equal(other *RawTensor) bool {
	if other == nil || !r.shape.Equal(other.shape) || r.dtype != other.dtype {
		return false
	}
	es := r.dtype.Size()
	a := r.buffer.data
	b := other.buffer.data
	equal := true
	iterElems(r.shape, [][]int{r.stride, other.stride}, []int{r.offset, other.offset}, func(offs []int) {
		if !equal {
			return
		}
		ao := offs[0] * es
		bo := offs[1] * es
		for i := 0; i < es; i++ {
			if a[ao+i] != b[bo+i] {
				equal = false
				return
			}
		}
	})
	return equal
}

// At returns the element at the given full coordinate as float64.
// Intended for inspection and tests, not bulk access.
func (r *RawTensor) At(coord ...int) (float64, error) {
	if len(coord) != len(r.shape) {
		return 0, fmt.Errorf("coordinate rank %d does not match tensor rank %d", len(coord), len(r.shape))
	}
	off := r.offset
	for d, c := range coord {
		if c < 0 {
			c += r.shape[d]
		}
		if c < 0 || c >= r.shape[d] {
			return 0, fmt.Errorf("coordinate %d out of range for dimension %d (size %d)", coord[d], d, r.shape[d])
		}
		off += c * r.stride[d]
	}
	return readElem(r.buffer.data, off*r.dtype.Size(), r.dtype), nil
}
