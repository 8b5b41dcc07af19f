// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensordict

import (
	"github.com/born-ml/tensordict/internal/tensor"
)

// Leaf type aliases, mirrored in the tensor sub-package. Both spell
// the same types; use whichever import reads better.

// RawTensor is the strided leaf tensor stored in a tensordict.
type RawTensor = tensor.RawTensor

// Shape represents the dimensions of a tensor or batch.
type Shape = tensor.Shape

// DataType represents the element type of a leaf.
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

// Device represents where leaf data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Vulkan Device = tensor.Vulkan
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)
