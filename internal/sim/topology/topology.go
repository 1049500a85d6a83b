// Package topology precomputes Moore neighborhoods on a wrap-around grid.
package topology

// Degree is the neighbor count of every cell on a torus.
const Degree = 8

// Topology holds the fixed neighbor list of every grid index. It is built once
// and shared read-only by both worlds.
type Topology struct {
	width  int
	height int
	// flat holds Degree entries per cell; cell i owns flat[i*Degree:(i+1)*Degree].
	flat []int32
}

// Build enumerates the 8 offsets (dx,dy) in {-1,0,1}^2 minus (0,0) for every
// position, in row-major dy/dx order, wrapping both axes. Small grids keep
// duplicate entries (a 2x2 torus lists the same neighbor several times).
func Build(width, height int) *Topology {
	if width <= 0 || height <= 0 {
		return &Topology{width: max(width, 0), height: max(height, 0)}
	}
	t := &Topology{
		width:  width,
		height: height,
		flat:   make([]int32, 0, width*height*Degree),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					nx := (x + dx + width) % width
					ny := (y + dy + height) % height
					t.flat = append(t.flat, int32(ny*width+nx))
				}
			}
		}
	}
	return t
}

func (t *Topology) Width() int  { return t.width }
func (t *Topology) Height() int { return t.height }

// Len is the number of cells (width*height).
func (t *Topology) Len() int { return t.width * t.height }

// Neighbors returns the neighbor indices of cell i. The slice aliases internal
// storage and must not be modified.
func (t *Topology) Neighbors(i int) []int32 {
	return t.flat[i*Degree : (i+1)*Degree : (i+1)*Degree]
}

// Index converts grid coordinates to a cell index.
func (t *Topology) Index(x, y int) int { return y*t.width + x }

// Coords converts a cell index to grid coordinates.
func (t *Topology) Coords(i int) (x, y int) { return i % t.width, i / t.width }
