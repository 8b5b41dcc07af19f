// Package serialization implements the on-disk layout of memmapped
// tensordicts: one directory per container holding one data file per
// leaf plus a meta.json sidecar that describes batch size, device,
// dimension names and per-leaf shape/dtype. The sidecar alone is
// enough to reconstruct the structure; leaf files are opened with mmap
// and never read eagerly.
package serialization

import (
	"time"
)

// Format constants.
const (
	MetaFileName  = "meta.json"
	LeafSuffix    = ".mem"
	FormatVersion = 1
)

// LeafMeta describes one leaf data file.
type LeafMeta struct {
	Key   string `json:"key"`   // Key atom within the directory
	DType string `json:"dtype"` // Data type (e.g. "float32")
	Shape []int  `json:"shape"` // Full leaf shape, batch prefix included
	Size  int64  `json:"size"`  // Size in bytes
}

// StackMeta marks a directory as a stacked composite: the siblings
// live in numbered sub-directories 0..Count-1.
type StackMeta struct {
	StackDim int `json:"stack_dim"`
	Count    int `json:"count"`
}

// Meta is the JSON sidecar written next to the leaf files of one
// container directory.
type Meta struct {
	FormatVersion int        `json:"format_version"`
	CreatedAt     time.Time  `json:"created_at"`
	BatchSize     []int      `json:"batch_size"`
	Device        *string    `json:"device,omitempty"` // nil when heterogeneous
	Names         []string   `json:"names,omitempty"`  // empty atoms for unnamed dims
	Leaves        []LeafMeta `json:"leaves"`
	Dicts         []string   `json:"dicts"`           // Keys of nested container sub-directories
	Stack         *StackMeta `json:"stack,omitempty"` // Present for stacked composites
}
