package model

import (
	"math"
	"testing"
)

func TestRegionAround(t *testing.T) {
	r := RegionAround(Position{X: 500, Y: 500})
	want := Region{X: 475, Y: 475, W: 50, H: 50}
	if r != want {
		t.Errorf("RegionAround(500,500) = %+v, want %+v", r, want)
	}
	if !r.Contains(475, 524) {
		t.Error("expected region to contain (475, 524)")
	}
	if r.Contains(525, 500) {
		t.Error("expected region to exclude (525, 500)")
	}
}

func TestRegionChunks(t *testing.T) {
	tests := []struct {
		name   string
		region Region
		want   []Chunk
	}{
		{
			name:   "aligned",
			region: Region{X: 475, Y: 475, W: 50, H: 50},
			want:   []Chunk{{19, 19}, {20, 19}, {19, 20}, {20, 20}},
		},
		{
			name:   "unaligned spans three",
			region: Region{X: 480, Y: 500, W: 50, H: 25},
			want:   []Chunk{{19, 20}, {20, 20}, {21, 20}},
		},
		{
			name:   "clamped at map edge",
			region: Region{X: -25, Y: -25, W: 50, H: 50},
			want:   []Chunk{{0, 0}},
		},
		{
			name:   "entirely off map",
			region: Region{X: -60, Y: 0, W: 50, H: 50},
			want:   nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.region.Chunks()
			if len(got) != len(tc.want) {
				t.Fatalf("Chunks() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("Chunks()[%d] = %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestChunkAtNegative(t *testing.T) {
	if got := ChunkAt(Position{X: -1, Y: 24}); got != (Chunk{X: -1, Y: 0}) {
		t.Errorf("ChunkAt(-1, 24) = %v, want {-1 0}", got)
	}
	if got := (Chunk{X: 2, Y: 3}).Origin(); got != (Position{X: 50, Y: 75}) {
		t.Errorf("Origin() = %v, want {50 75}", got)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b Position
		want float64
	}{
		{Position{500, 500}, Position{505, 500}, 5},
		{Position{500, 501}, Position{497, 501}, 3},
		{Position{500, 500}, Position{500, 502}, math.Sqrt(3)},
		{Position{500, 500}, Position{500, 501}, 1},
	}
	for _, tc := range tests {
		got := Distance(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Distance(%v, %v) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestStorageFull(t *testing.T) {
	v := Village{Resources: Resources{Wood: 400, Clay: 400, Iron: 400}, MaxStorage: 400}
	if !v.StorageFull() {
		t.Error("expected full storage")
	}
	v.Resources.Iron = 399
	if v.StorageFull() {
		t.Error("expected storage not full when one resource is below capacity")
	}
}
