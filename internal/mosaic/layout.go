package mosaic

import (
	"fmt"
	"math"

	"github.com/choirstage/worker/internal/models"
)

// Placement is the pixel position of one tile on the output canvas.
type Placement struct {
	X int
	Y int
}

// GridLayout is the derived tile geometry for n clips: the minimal bounding
// rectangle filled row-major, ties broken toward more columns than rows.
// Tile dimensions are rounded down to even integers (encoder constraint).
type GridLayout struct {
	Rows       int
	Cols       int
	TileWidth  int
	TileHeight int
	Placements []Placement
}

// CanvasWidth returns the combined output width.
func (g GridLayout) CanvasWidth() int { return g.Cols * g.TileWidth }

// CanvasHeight returns the combined output height.
func (g GridLayout) CanvasHeight() int { return g.Rows * g.TileHeight }

// String renders the grid as "RxC" for job responses.
func (g GridLayout) String() string { return fmt.Sprintf("%dx%d", g.Rows, g.Cols) }

// PlanLayout computes the grid geometry for n clips on an outW x outH canvas.
// Invariants: rows*cols >= n and (rows-1)*cols < n.
func PlanLayout(n, outW, outH int) (GridLayout, error) {
	if n < 1 {
		return GridLayout{}, &models.RenderError{Msg: "no clips provided for rendering"}
	}

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	tileW := (outW / cols) &^ 1
	tileH := (outH / rows) &^ 1
	if tileW < 2 || tileH < 2 {
		return GridLayout{}, &models.RenderError{
			Msg: fmt.Sprintf("too many tiles for requested resolution: %d clips in %dx%d", n, outW, outH),
		}
	}

	placements := make([]Placement, n)
	for i := range placements {
		row := i / cols
		col := i % cols
		placements[i] = Placement{X: col * tileW, Y: row * tileH}
	}

	return GridLayout{
		Rows:       rows,
		Cols:       cols,
		TileWidth:  tileW,
		TileHeight: tileH,
		Placements: placements,
	}, nil
}
