// Package export renders board pages to PDF, one A4 page per board page.
package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"sketchroom/internal/board"
)

// scale maps canvas pixels to millimetres on the page.
const scale = 3.0

// arrowHead is the length of an arrow head in canvas pixels.
const arrowHead = 15.0

// WritePDF renders pages into w as a landscape A4 document.
func WritePDF(w io.Writer, pages []board.Page) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 12)

	for _, page := range pages {
		pdf.AddPage()
		for _, el := range page.Elements {
			drawElement(pdf, el)
		}
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func drawElement(pdf *gofpdf.Fpdf, el board.Element) {
	r, g, b := parseHexColor(el.Color)
	if el.Type == board.KindEraser {
		// Eraser strokes paint background color, same as on the canvas.
		r, g, b = 255, 255, 255
	}
	pdf.SetDrawColor(r, g, b)
	width := el.Width / scale
	if width <= 0 {
		width = 0.5
	}
	pdf.SetLineWidth(width)

	switch el.Type {
	case board.KindPencil, board.KindEraser:
		for i := 1; i < len(el.Points); i++ {
			pdf.Line(
				el.Points[i-1].X/scale, el.Points[i-1].Y/scale,
				el.Points[i].X/scale, el.Points[i].Y/scale,
			)
		}

	case board.KindRectangle:
		if el.Start == nil || el.End == nil {
			return
		}
		x := math.Min(el.Start.X, el.End.X) / scale
		y := math.Min(el.Start.Y, el.End.Y) / scale
		pdf.Rect(x, y,
			math.Abs(el.End.X-el.Start.X)/scale,
			math.Abs(el.End.Y-el.Start.Y)/scale, "D")

	case board.KindCircle:
		if el.Start == nil || el.End == nil {
			return
		}
		radius := math.Hypot(el.End.X-el.Start.X, el.End.Y-el.Start.Y) / scale
		pdf.Circle(el.Start.X/scale, el.Start.Y/scale, radius, "D")

	case board.KindOval:
		if el.Start == nil || el.End == nil {
			return
		}
		pdf.Ellipse(
			(el.Start.X+el.End.X)/2/scale, (el.Start.Y+el.End.Y)/2/scale,
			math.Abs(el.End.X-el.Start.X)/2/scale,
			math.Abs(el.End.Y-el.Start.Y)/2/scale, 0, "D")

	case board.KindLine:
		if el.Start == nil || el.End == nil {
			return
		}
		pdf.Line(el.Start.X/scale, el.Start.Y/scale, el.End.X/scale, el.End.Y/scale)

	case board.KindArrow:
		if el.Start == nil || el.End == nil {
			return
		}
		pdf.Line(el.Start.X/scale, el.Start.Y/scale, el.End.X/scale, el.End.Y/scale)
		angle := math.Atan2(el.End.Y-el.Start.Y, el.End.X-el.Start.X)
		for _, side := range []float64{-1, 1} {
			hx := el.End.X - arrowHead*math.Cos(angle+side*math.Pi/6)
			hy := el.End.Y - arrowHead*math.Sin(angle+side*math.Pi/6)
			pdf.Line(el.End.X/scale, el.End.Y/scale, hx/scale, hy/scale)
		}

	case board.KindText:
		if el.Start == nil || el.Text == "" {
			return
		}
		pdf.SetTextColor(r, g, b)
		pdf.Text(el.Start.X/scale, el.Start.Y/scale, el.Text)
	}
}

func parseHexColor(s string) (r, g, b int) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return 0, 0, 0
	}
	if _, err := fmt.Sscanf(s, "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0
	}
	return r, g, b
}
