package tensor

import (
	"testing"
)

func TestSelectAliases(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{2, 3})
	row, err := r.Select(0, 1)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !row.Shape().Equal(Shape{3}) {
		t.Fatalf("selected shape = %v", row.Shape())
	}
	if v, _ := row.At(0); v != 3 {
		t.Errorf("row[0] = %v, want 3", v)
	}
	row.Fill(9)
	if v, _ := r.At(1, 2); v != 9 {
		t.Error("write through selected row not visible in source")
	}
	// Negative index counts from the end.
	last, _ := r.Select(0, -1)
	if v, _ := last.At(0); v != 9 {
		t.Errorf("last[0] = %v, want 9", v)
	}
}

func TestNarrow(t *testing.T) {
	r, _ := FromFloat32(seq(10), Shape{10})
	n, err := r.Narrow(0, 2, 3, 1)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}
	if !n.Shape().Equal(Shape{3}) {
		t.Fatalf("narrowed shape = %v", n.Shape())
	}
	if v, _ := n.At(0); v != 2 {
		t.Errorf("n[0] = %v, want 2", v)
	}
	stepped, err := r.Narrow(0, 1, 4, 2)
	if err != nil {
		t.Fatalf("Narrow step: %v", err)
	}
	if v, _ := stepped.At(2); v != 5 {
		t.Errorf("stepped[2] = %v, want 5", v)
	}
	if !stepped.SharesBufferWith(r) {
		t.Error("narrow should not copy")
	}
}

func TestMaskSelect(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{3, 2})
	mask, _ := FromBool([]bool{true, false, true}, Shape{3})
	sel, err := r.MaskSelect(mask)
	if err != nil {
		t.Fatalf("MaskSelect: %v", err)
	}
	if !sel.Shape().Equal(Shape{2, 2}) {
		t.Fatalf("selected shape = %v", sel.Shape())
	}
	if v, _ := sel.At(1, 0); v != 4 {
		t.Errorf("sel[1][0] = %v, want 4", v)
	}
	if sel.SharesBufferWith(r) {
		t.Error("mask selection must copy")
	}
}

func TestMaskSelectRequiresBoolMask(t *testing.T) {
	r, _ := NewRaw(Shape{3}, Float32, CPU)
	notBool, _ := NewRaw(Shape{3}, Float32, CPU)
	if _, err := r.MaskSelect(notBool); err == nil {
		t.Fatal("non-bool mask accepted")
	}
}

func TestMaskScatter(t *testing.T) {
	r, _ := NewRaw(Shape{3, 2}, Float32, CPU)
	mask, _ := FromBool([]bool{true, false, true}, Shape{3})
	src, _ := FromFloat32([]float32{1, 2, 3, 4}, Shape{2, 2})
	if err := r.MaskScatter(mask, src); err != nil {
		t.Fatalf("MaskScatter: %v", err)
	}
	if v, _ := r.At(0, 1); v != 2 {
		t.Errorf("r[0][1] = %v, want 2", v)
	}
	if v, _ := r.At(1, 0); v != 0 {
		t.Errorf("r[1][0] = %v, want 0 (unmasked row untouched)", v)
	}
	if v, _ := r.At(2, 0); v != 3 {
		t.Errorf("r[2][0] = %v, want 3", v)
	}
}

func TestGatherAndScatter(t *testing.T) {
	r, _ := FromFloat32(seq(6), Shape{3, 2})
	g, err := r.Gather(0, []int{2, 0})
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if !g.Shape().Equal(Shape{2, 2}) {
		t.Fatalf("gathered shape = %v", g.Shape())
	}
	if v, _ := g.At(0, 0); v != 4 {
		t.Errorf("g[0][0] = %v, want 4", v)
	}

	src, _ := FromFloat32([]float32{10, 11, 12, 13}, Shape{2, 2})
	if err := r.IndexScatter(0, []int{2, 0}, src); err != nil {
		t.Fatalf("IndexScatter: %v", err)
	}
	if v, _ := r.At(2, 0); v != 10 {
		t.Errorf("r[2][0] = %v, want 10", v)
	}
	if v, _ := r.At(0, 1); v != 13 {
		t.Errorf("r[0][1] = %v, want 13", v)
	}
	if v, _ := r.At(1, 0); v != 2 {
		t.Errorf("r[1][0] = %v, want 2 (unscattered row untouched)", v)
	}
}
