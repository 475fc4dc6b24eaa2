package model

// ChunkSize is the edge length, in map cells, of one unit of map data.
const ChunkSize = 25

// Chunk addresses a ChunkSize x ChunkSize block of map cells by grid
// coordinates (cell / ChunkSize).
type Chunk struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Origin returns the map cell at the top-left corner of the chunk.
func (c Chunk) Origin() Position {
	return Position{X: c.X * ChunkSize, Y: c.Y * ChunkSize}
}

// ChunkAt returns the chunk that contains the given map cell.
func ChunkAt(p Position) Chunk {
	return Chunk{X: floorDiv(p.X, ChunkSize), Y: floorDiv(p.Y, ChunkSize)}
}

// Region is a rectangle of map cells: [X, X+W) x [Y, Y+H).
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// RegionAround returns the square searched for targets of an origin: one
// chunk of padding on every side so villages near a chunk edge are not cut off.
func RegionAround(p Position) Region {
	return Region{
		X: p.X - ChunkSize,
		Y: p.Y - ChunkSize,
		W: ChunkSize * 2,
		H: ChunkSize * 2,
	}
}

// Contains reports whether the cell lies inside the region.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Chunks lists every chunk the region touches, row-major. Negative map
// coordinates do not exist, so the region is clamped at zero first.
func (r Region) Chunks() []Chunk {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := r.X+r.W-1, r.Y+r.H-1
	if r.W <= 0 || r.H <= 0 || x1 < 0 || y1 < 0 {
		return nil
	}

	first := ChunkAt(Position{X: x0, Y: y0})
	last := ChunkAt(Position{X: x1, Y: y1})

	var out []Chunk
	for cy := first.Y; cy <= last.Y; cy++ {
		for cx := first.X; cx <= last.X; cx++ {
			out = append(out, Chunk{X: cx, Y: cy})
		}
	}
	return out
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
