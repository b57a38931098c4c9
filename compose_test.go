package gifn

import (
	"reflect"
	"testing"
)

// interlaceOrder collects the row order produced by nextInterlacedRow for a
// frame of the given height.
func interlaceOrder(height int) []int {
	rows := make([]int, 0, height)

	y := 0
	for i := 0; i < height; i++ {
		rows = append(rows, y)
		y = nextInterlacedRow(y, height)
	}

	return rows
}

// TestNextInterlacedRow checks the four-pass row order, including frames
// short enough that later passes are entered directly from an overshoot.
func TestNextInterlacedRow(t *testing.T) {
	cases := map[int][]int{
		1:  {0},
		2:  {0, 1},
		3:  {0, 2, 1},
		4:  {0, 2, 1, 3},
		5:  {0, 4, 2, 1, 3},
		8:  {0, 4, 2, 6, 1, 3, 5, 7},
		10: {0, 8, 4, 2, 6, 1, 3, 5, 7, 9},
		16: {0, 8, 4, 12, 2, 6, 10, 14, 1, 3, 5, 7, 9, 11, 13, 15},
	}

	for height, want := range cases {
		if got := interlaceOrder(height); !reflect.DeepEqual(got, want) {
			t.Errorf("height %d: rows = %v, want %v", height, got, want)
		}
	}
}

// TestTransparentOverPrevious verifies that transparent pixels leave the
// previous frame's cells visible instead of clearing them.
func TestTransparentOverPrevious(t *testing.T) {
	b := newGIF(2, 1, []int{red, green})
	b.frame(0, 0, 2, 1, false, nil, []byte{0, 0})
	b.graphicControl(0, 0, 1)
	b.frame(0, 0, 2, 1, false, nil, []byte{1, 0})

	d := mustOpen(t, b.build())

	if ok, err := d.NextImage(LoopNever); err != nil || !ok {
		t.Fatalf("NextImage = %v, %v, want true", ok, err)
	}

	m, err := d.ReadMatrix()
	if err != nil {
		t.Fatalf("ReadMatrix failed: %v", err)
	}

	// Index 1 was transparent, so the red cell from frame 1 shows through.
	checkMatrix(t, m, [][]int{{red, red}})
}
