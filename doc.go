// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensordict provides a batched, nested tensor container for Go.
//
// # Overview
//
// A TensorDict maps string keys to tensor leaves and nested
// TensorDicts, all sharing a common leading shape called the batch
// size. This package provides:
//   - Plain containers with batch-size and device invariants
//   - Zero-copy lazy views (permute, transpose, squeeze, unsqueeze,
//     reshape, index) with write-through semantics
//   - Lazy stacking of sibling containers along a new batch dimension
//   - Write-through sub-views over a fixed batch index
//   - A multi-owner lock graph with cached enumerations
//   - Memory-mapped persistence with a JSON sidecar
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/tensordict"
//	    "github.com/born-ml/tensordict/tensor"
//	)
//
//	func main() {
//	    obs, _ := tensor.Full(tensor.Shape{4, 3, 84}, tensor.Float32, tensor.CPU, 0)
//	    done, _ := tensor.Full(tensor.Shape{4, 3}, tensor.Bool, tensor.CPU, 0)
//
//	    td, _ := tensordict.New(map[string]tensordict.Value{
//	        "obs":  obs,
//	        "done": done,
//	    }, tensordict.WithBatchSize(4, 3))
//
//	    // Lazy views share storage with the source.
//	    flipped, _ := td.Permute(1, 0)
//	    first, _ := td.Sub(tensordict.At(0))
//	    _ = flipped
//	    _ = first
//	}
//
// # Batch Size
//
// Every leaf's shape must start with the container's batch size;
// trailing dimensions are free per key. Nested containers may carry a
// longer batch size that extends the parent's.
//
// # Views
//
// View operations are lazy: they wrap the source and derive shapes on
// read. Writing into a view lands in the source storage. Applying the
// exact inverse of a view's transform returns the original source, by
// pointer.
//
// # Locking
//
// Lock freezes the structure of a container and everything reachable
// from it; leaf contents stay writable through SetInPlace. A container
// shared by several locked roots stays frozen until every root has
// unlocked. While locked, key enumerations are cached.
//
// # Persistence
//
// Memmap moves leaf storage into files under a directory, one file per
// leaf plus a meta.json sidecar per container. Load reconstructs the
// full structure from the sidecars alone, mapping leaves through the
// page cache.
package tensordict
