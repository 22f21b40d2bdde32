package photobook

// A4 portrait in millimetres.
const (
	pageWidth    = 210.0
	pageHeight   = 297.0
	margin       = 10.0
	contentWidth = pageWidth - 2*margin
	captionGap   = 5.0
	captionLine  = 10.0
	captionFont  = 12.0
)

type placement struct {
	X, Y     float64
	W, H     float64
	CaptionY float64
}

// place lays a pxW x pxH image at the top-left margin at full content width.
// An image that would run past the bottom margin (leaving one caption line
// when there is a caption) is scaled down and centred so it stays on its page.
// Zero dimensions mean there is no image; the caption then sits just below
// the top margin.
func place(pxW, pxH int, hasCaption bool) placement {
	if pxW <= 0 || pxH <= 0 {
		return placement{X: margin, Y: margin, CaptionY: margin + captionGap}
	}

	w := contentWidth
	h := float64(pxH) / float64(pxW) * w

	maxH := pageHeight - 2*margin
	if hasCaption {
		maxH -= captionGap + captionLine
	}
	x := margin
	if h > maxH {
		w = w * maxH / h
		h = maxH
		x = margin + (contentWidth-w)/2
	}

	return placement{
		X:        x,
		Y:        margin,
		W:        w,
		H:        h,
		CaptionY: margin + h + captionGap,
	}
}
