package gdt

import "testing"

func TestSegmentSelectorPacking(t *testing.T) {
	s := NewSegmentSelector(4, false, 3)
	if s.Index() != 4 {
		t.Errorf("Index() = %d, want 4", s.Index())
	}
	if s.TI() {
		t.Error("TI() = true, want false (GDT)")
	}
	if s.RPL() != 3 {
		t.Errorf("RPL() = %d, want 3", s.RPL())
	}
}

func TestSegmentSelectorLDT(t *testing.T) {
	s := NewSegmentSelector(1, true, 0)
	if !s.TI() {
		t.Error("TI() = false, want true (LDT)")
	}
}

func TestSegmentRightsRoundTrip(t *testing.T) {
	want := SegmentFields{
		Type:     0xB, // code, execute/read, accessed
		System:   true,
		DPL:      0,
		Present:  true,
		AVL:      false,
		Long:     true,
		DB:       false,
		Granular: true,
		Unusable: false,
	}
	got := From(want).To()
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestSegmentRightsUnusableBit(t *testing.T) {
	r := From(SegmentFields{Unusable: true})
	if !r.To().Unusable {
		t.Error("expected Unusable bit to survive packing")
	}
	if r&0xFFFF != 0 {
		t.Errorf("only the unusable bit should be set, got %#x", r)
	}
}

func TestSegmentRightsDPLMasking(t *testing.T) {
	r := From(SegmentFields{DPL: 3})
	if r.To().DPL != 3 {
		t.Errorf("DPL = %d, want 3", r.To().DPL)
	}
}
