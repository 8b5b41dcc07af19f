package tensor

import (
	"testing"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

func TestPermuteAliases(t *testing.T) {
	r, _ := FromFloat32(seq(24), Shape{2, 3, 4})
	p, err := r.Permute([]int{2, 0, 1})
	if err != nil {
		t.Fatalf("Permute: %v", err)
	}
	if !p.Shape().Equal(Shape{4, 2, 3}) {
		t.Fatalf("permuted shape = %v", p.Shape())
	}
	if !p.SharesBufferWith(r) {
		t.Fatal("permute should not copy")
	}
	// r[1][2][3] == p[3][1][2]
	want, _ := r.At(1, 2, 3)
	got, _ := p.At(3, 1, 2)
	if got != want {
		t.Errorf("p[3][1][2] = %v, want %v", got, want)
	}
	// Writing through the view lands in the source.
	p.Fill(7)
	if v, _ := r.At(0, 0, 0); v != 7 {
		t.Error("write through permuted view not visible in source")
	}
}

func TestTransposeTwiceIsIdentityLayout(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{2, 3})
	tr, _ := r.Transpose(0, 1)
	back, _ := tr.Transpose(0, 1)
	if !back.Shape().Equal(r.Shape()) {
		t.Fatalf("shape = %v", back.Shape())
	}
	if !back.Equal(r) {
		t.Error("double transpose changed values")
	}
}

func TestSqueezeUnsqueeze(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{1, 2, 3})
	s, err := r.Squeeze(0)
	if err != nil {
		t.Fatalf("Squeeze: %v", err)
	}
	if !s.Shape().Equal(Shape{2, 3}) {
		t.Fatalf("squeezed shape = %v", s.Shape())
	}
	if _, err := r.Squeeze(1); err == nil {
		t.Error("squeezing a size-2 dimension should fail")
	}
	u, err := s.Unsqueeze(2)
	if err != nil {
		t.Fatalf("Unsqueeze: %v", err)
	}
	if !u.Shape().Equal(Shape{2, 3, 1}) {
		t.Fatalf("unsqueezed shape = %v", u.Shape())
	}
	if !u.SharesBufferWith(r) {
		t.Error("squeeze/unsqueeze should not copy")
	}
}

func TestReshapeContiguousAliases(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{2, 3})
	v, err := r.Reshape(Shape{3, 2})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if !v.SharesBufferWith(r) {
		t.Error("reshape of contiguous tensor should alias")
	}
	v.Fill(1)
	if val, _ := r.At(0, 0); val != 1 {
		t.Error("write through reshaped view not visible")
	}
}

func TestReshapeNonContiguousCopies(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{2, 3})
	tr, _ := r.Transpose(0, 1)
	v, err := tr.Reshape(Shape{6})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	if v.SharesBufferWith(r) {
		t.Error("reshape of non-contiguous view should materialize")
	}
	// Element order follows the view, not the source layout.
	if val, _ := v.At(1); val != 3 {
		t.Errorf("v[1] = %v, want 3", val)
	}
}

func TestReshapeElementCountMismatch(t *testing.T) {
	r, _ := NewRaw(Shape{2, 3}, Float32, CPU)
	if _, err := r.Reshape(Shape{4, 2}); err == nil {
		t.Fatal("expected element count mismatch")
	}
}

func TestStack(t *testing.T) {
	a, _ := FromFloat32([]float32{1, 2}, Shape{2})
	b, _ := FromFloat32([]float32{3, 4}, Shape{2})
	s, err := Stack([]*RawTensor{a, b}, 0)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if !s.Shape().Equal(Shape{2, 2}) {
		t.Fatalf("stacked shape = %v", s.Shape())
	}
	if v, _ := s.At(1, 0); v != 3 {
		t.Errorf("s[1][0] = %v, want 3", v)
	}
	// Stacking copies: the result owns fresh storage.
	if s.SharesBufferWith(a) {
		t.Error("stack result aliases its input")
	}

	s1, err := Stack([]*RawTensor{a, b}, 1)
	if err != nil {
		t.Fatalf("Stack dim 1: %v", err)
	}
	if v, _ := s1.At(0, 1); v != 3 {
		t.Errorf("s1[0][1] = %v, want 3", v)
	}
}

func TestStackRejectsMismatch(t *testing.T) {
	a, _ := NewRaw(Shape{2}, Float32, CPU)
	b, _ := NewRaw(Shape{3}, Float32, CPU)
	if _, err := Stack([]*RawTensor{a, b}, 0); err == nil {
		t.Error("stack of differing shapes accepted")
	}
	c, _ := NewRaw(Shape{2}, Int64, CPU)
	if _, err := Stack([]*RawTensor{a, c}, 0); err == nil {
		t.Error("stack of differing dtypes accepted")
	}
	if _, err := Stack(nil, 0); err == nil {
		t.Error("empty stack accepted")
	}
}
