package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchroom/internal/board"
)

func TestWritePDFAllKinds(t *testing.T) {
	start := board.Point{X: 30, Y: 30}
	end := board.Point{X: 120, Y: 90}
	pages := []board.Page{
		{ID: "p1", Elements: []board.Element{
			{ID: "e1", Type: board.KindPencil, Points: []board.Point{{X: 1, Y: 1}, {X: 9, Y: 4}, {X: 20, Y: 12}}, Color: "#ef4444", Width: 3},
			{ID: "e2", Type: board.KindEraser, Points: []board.Point{{X: 5, Y: 5}, {X: 6, Y: 6}}, Color: "#000000", Width: 10},
			{ID: "e3", Type: board.KindRectangle, Start: &start, End: &end, Color: "#3b82f6", Width: 2},
			{ID: "e4", Type: board.KindCircle, Start: &start, End: &end, Color: "#22c55e", Width: 2},
			{ID: "e5", Type: board.KindOval, Start: &start, End: &end, Color: "#8b5cf6", Width: 2},
			{ID: "e6", Type: board.KindLine, Start: &start, End: &end, Color: "#ec4899", Width: 1},
			{ID: "e7", Type: board.KindArrow, Start: &start, End: &end, Color: "#14b8a6", Width: 1},
			{ID: "e8", Type: board.KindText, Start: &start, Text: "hello", Color: "#eab308", Width: 1},
		}},
		{ID: "p2", Elements: []board.Element{}},
	}

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, pages))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	assert.Greater(t, buf.Len(), 1000)
}

func TestWritePDFSkipsIncompleteShapes(t *testing.T) {
	// Shapes without both anchors are dropped rather than crashing the export.
	pages := []board.Page{{ID: "p1", Elements: []board.Element{
		{ID: "e1", Type: board.KindRectangle, Color: "#000000", Width: 1},
		{ID: "e2", Type: board.KindText, Color: "#000000", Width: 1},
	}}}

	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, pages))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestParseHexColor(t *testing.T) {
	r, g, b := parseHexColor("#ef4444")
	assert.Equal(t, []int{0xef, 0x44, 0x44}, []int{r, g, b})

	r, g, b = parseHexColor("garbage")
	assert.Equal(t, []int{0, 0, 0}, []int{r, g, b})
}
