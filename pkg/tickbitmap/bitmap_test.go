package tickbitmap

import (
	"testing"

	"github.com/uhyunpark/tickorders/pkg/pricemath"
)

func TestSetClear(t *testing.T) {
	b := New(60)
	for _, tick := range []int32{-120, 0, 60, 15360} {
		if err := b.Set(tick); err != nil {
			t.Fatalf("Set(%d): %v", tick, err)
		}
		if !b.IsSet(tick) {
			t.Errorf("IsSet(%d) = false after Set", tick)
		}
	}
	if err := b.Set(61); err == nil {
		t.Error("Set of unaligned tick should fail")
	}
	if b.IsSet(120) {
		t.Error("IsSet(120) = true, never set")
	}

	if err := b.Clear(60); err != nil {
		t.Fatal(err)
	}
	if b.IsSet(60) {
		t.Error("IsSet(60) = true after Clear")
	}
	// clearing twice is harmless
	if err := b.Clear(60); err != nil {
		t.Fatal(err)
	}

	got := b.Ticks()
	want := []int32{-120, 0, 15360}
	if len(got) != len(want) {
		t.Fatalf("Ticks() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ticks() = %v, want %v", got, want)
		}
	}
}

func TestEmptyWordsAreDropped(t *testing.T) {
	b := New(1)
	_ = b.Set(5)
	_ = b.Clear(5)
	if n := len(b.WordPositions()); n != 0 {
		t.Errorf("%d words left after clearing the only bit", n)
	}
}

func TestNextOccupied(t *testing.T) {
	b := New(60)
	// 256*60 = 15360 ticks per word, so these span several words
	for _, tick := range []int32{-30720, -60, 120, 180, 46080} {
		if err := b.Set(tick); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		from   int32
		up     bool
		want   int32
		wantOK bool
	}{
		{"up inclusive", 120, true, 120, true},
		{"up from unaligned", 100, true, 120, true},
		{"up next", 121, true, 180, true},
		{"up skips words", 181, true, 46080, true},
		{"up none", 46081, true, 0, false},
		{"down inclusive", 180, false, 180, true},
		{"down from unaligned", 170, false, 120, true},
		{"down crosses zero", 119, false, -60, true},
		{"down skips words", -61, false, -30720, true},
		{"down none", -30721, false, 0, false},
		{"up from below min", pricemath.MinTick, true, -30720, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := b.NextOccupied(tt.from, tt.up)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("NextOccupied(%d, %v) = (%d, %v), want (%d, %v)", tt.from, tt.up, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestNextOccupiedEmpty(t *testing.T) {
	b := New(10)
	if _, ok := b.NextOccupied(0, true); ok {
		t.Error("empty bitmap reported an occupied tick")
	}
}

func TestNextInitializedWithinOneWord(t *testing.T) {
	b := New(1)
	for _, tick := range []int32{-200, -55, 70, 78, 84, 139, 240, 535} {
		_ = b.Set(tick)
	}

	tests := []struct {
		tick     int32
		lte      bool
		want     int32
		wantInit bool
	}{
		{78, false, 84, true},
		{77, false, 78, true},
		{-56, false, -55, true},
		{255, false, 511, false},
		{-257, false, -200, true},
		{78, true, 78, true},
		{79, true, 78, true},
		{258, true, 256, false},
		{-55, true, -55, true},
		{-56, true, -200, true},
	}
	for _, tt := range tests {
		got, init := b.NextInitializedWithinOneWord(tt.tick, tt.lte)
		if got != tt.want || init != tt.wantInit {
			t.Errorf("NextInitializedWithinOneWord(%d, %v) = (%d, %v), want (%d, %v)",
				tt.tick, tt.lte, got, init, tt.want, tt.wantInit)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := New(60)
	_ = b.Set(60)
	cp := b.Clone()
	_ = cp.Clear(60)
	_ = cp.Set(120)
	if !b.IsSet(60) || b.IsSet(120) {
		t.Error("mutating the clone changed the original")
	}
}

func TestWordRoundTrip(t *testing.T) {
	b := New(60)
	_ = b.Set(-60)
	_ = b.Set(15360)

	restored := New(60)
	for _, pos := range b.WordPositions() {
		restored.SetWord(pos, b.Word(pos))
	}
	if !restored.IsSet(-60) || !restored.IsSet(15360) {
		t.Error("restored bitmap lost bits")
	}
}
