package pools

import "testing"

// TestBytePoolTiers tests tier selection and reuse
func TestBytePoolTiers(t *testing.T) {
	bp := NewBytePool()

	tests := []struct {
		request int
		wantCap int
	}{
		{100, 512},
		{512, 512},
		{513, 2048},
		{8192, 8192},
		{20000, 32768},
	}
	for _, tt := range tests {
		buf := bp.Get(tt.request)
		if len(buf) != tt.request {
			t.Errorf("Get(%d): len = %d", tt.request, len(buf))
		}
		if cap(buf) != tt.wantCap {
			t.Errorf("Get(%d): cap = %d, want %d", tt.request, cap(buf), tt.wantCap)
		}
		bp.Put(buf)
	}
}

// TestBytePoolOversized tests direct allocation beyond the largest tier
func TestBytePoolOversized(t *testing.T) {
	bp := NewBytePool()
	buf := bp.Get(1 << 20)
	if len(buf) != 1<<20 {
		t.Fatalf("oversized len = %d", len(buf))
	}
	bp.Put(buf) // no tier matches; must not panic
}

func BenchmarkBytePoolGetPut(b *testing.B) {
	bp := NewBytePool()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := bp.Get(8192)
		bp.Put(buf)
	}
}
