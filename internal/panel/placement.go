package panel

const (
	anchorOverlap = 3
	flipGap       = 5
	edgeMargin    = 10
)

// Rect is a box in viewport coordinates.
type Rect struct {
	Left, Top, Width, Height float64
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Size is a width and height.
type Size struct {
	Width, Height float64
}

// Point is a top-left position.
type Point struct {
	Left, Top float64
}

// Place puts the panel's top-left corner at the anchor's bottom-right,
// overlapping by a few pixels. A panel that would overflow flips to the
// other side of the anchor, and the result is clamped to the viewport.
func Place(anchor Rect, panel Size, viewport Size) Point {
	top := anchor.Bottom() - anchorOverlap
	left := anchor.Right() - anchorOverlap

	if left+panel.Width > viewport.Width {
		left = anchor.Left - panel.Width - flipGap
	}
	if top+panel.Height > viewport.Height {
		top = anchor.Top - panel.Height - flipGap
	}

	if left < 0 {
		left = edgeMargin
	}
	if top < 0 {
		top = edgeMargin
	}
	if left+panel.Width > viewport.Width {
		left = viewport.Width - panel.Width - edgeMargin
	}
	if top+panel.Height > viewport.Height {
		top = viewport.Height - panel.Height - edgeMargin
	}
	return Point{Left: left, Top: top}
}
