// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public API for the leaf tensors stored
// in tensordicts: strided, reference-counted, optionally file-backed
// byte buffers with a shape/dtype/device descriptor.
//
// Leaves carry no arithmetic. The container moves, views, stacks and
// persists them; compute belongs to the caller.
//
// Example:
//
//	x, _ := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
//	y, _ := x.Transpose(0, 1) // Zero-copy view, shape (3, 2)
package tensor

import (
	"github.com/born-ml/tensordict/internal/tensor"
)

// Type aliases for public API

// RawTensor is a strided descriptor over a shared byte buffer. Views
// created by Permute, Transpose, Squeeze, Unsqueeze, Select and Narrow
// alias the same storage; writes through any alias are visible through
// all of them.
type RawTensor = tensor.RawTensor

// DataType represents the underlying element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Bool    DataType = tensor.Bool
)

// ParseDataType converts a data type name back to a DataType.
func ParseDataType(s string) (DataType, bool) { return tensor.ParseDataType(s) }

// Device represents where tensor data logically resides. The container
// never launches kernels; the device is a tag used for uniformity
// checks.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Vulkan Device = tensor.Vulkan
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)

// ParseDevice converts a device name back to a Device tag.
func ParseDevice(s string) (Device, bool) { return tensor.ParseDevice(s) }

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Construction.

// New allocates a zero-filled tensor.
func New(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Full allocates a tensor filled with value, cast to dtype.
func Full(shape Shape, dtype DataType, device Device, value float64) (*RawTensor, error) {
	return tensor.Full(shape, dtype, device, value)
}

// FromFloat32 builds a CPU float32 tensor from a slice, copying it.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape)
}

// FromInt64 builds a CPU int64 tensor from a slice, copying it.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	return tensor.FromInt64(data, shape)
}

// FromBool builds a CPU bool tensor from a slice, copying it.
func FromBool(data []bool, shape Shape) (*RawTensor, error) {
	return tensor.FromBool(data, shape)
}

// Stack concatenates tensors of identical shape along a new dimension.
// The result owns fresh contiguous storage.
func Stack(tensors []*RawTensor, dim int) (*RawTensor, error) {
	return tensor.Stack(tensors, dim)
}
