// Package export replays a room's stroke history onto a renderer. The PDF
// renderer lets a drawing be downloaded as a document.
package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/manpreetbhatti/sketchroom/backend/internal/drawing"
)

// Renderer draws one line increment.
type Renderer interface {
	Line(from, to drawing.Point, color string, width int, tool drawing.Tool)
}

// Replay draws every stroke in order as lines between consecutive points.
func Replay(strokes []drawing.Stroke, r Renderer) {
	for _, s := range strokes {
		for i := 1; i < len(s.Points); i++ {
			r.Line(s.Points[i-1], s.Points[i], s.Color, s.Width, s.Tool)
		}
	}
}

const (
	minPageSize = 200.0
	pageMargin  = 20.0
	background  = "#FFFFFF"
)

// Bounds returns the largest x and y reached by any stroke, padded by the
// stroke width.
func Bounds(strokes []drawing.Stroke) (maxX, maxY float64) {
	for _, s := range strokes {
		pad := float64(s.Width) / 2
		for _, p := range s.Points {
			maxX = math.Max(maxX, p.X+pad)
			maxY = math.Max(maxY, p.Y+pad)
		}
	}
	return maxX, maxY
}

type pdfRenderer struct {
	pdf *gofpdf.Fpdf
}

func (r *pdfRenderer) Line(from, to drawing.Point, color string, width int, tool drawing.Tool) {
	if tool == drawing.ToolEraser {
		color = background
	}
	red, green, blue := parseHex(color)
	r.pdf.SetDrawColor(red, green, blue)
	r.pdf.SetLineWidth(float64(width))
	r.pdf.Line(from.X, from.Y, to.X, to.Y)
}

// WritePDF renders strokes onto a single page in surface coordinates (one
// point per unit) and writes the document to w.
func WritePDF(w io.Writer, title string, strokes []drawing.Stroke) error {
	maxX, maxY := Bounds(strokes)
	width := math.Max(minPageSize, maxX+pageMargin)
	height := math.Max(minPageSize, maxY+pageMargin)

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetTitle(title, true)
	pdf.SetCreator("sketchroom", true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	Replay(strokes, &pdfRenderer{pdf: pdf})

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// parseHex reads #rgb or #rrggbb. Anything else renders black.
func parseHex(color string) (int, int, int) {
	hex := strings.TrimPrefix(color, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xFF), int(v >> 8 & 0xFF), int(v & 0xFF)
}
