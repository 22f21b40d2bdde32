// Package frame composites decorative frame images over photos.
package frame

import (
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelbook/internal/raster"
	xdraw "golang.org/x/image/draw"
)

// Mode selects how frame pixels combine with the photo underneath.
type Mode string

const (
	// ModeOver honors the frame's alpha channel: transparent regions show
	// the photo.
	ModeOver Mode = "over"
	// ModeReplace copies frame pixels verbatim over the photo, alpha
	// included, so transparent regions still hide it.
	ModeReplace Mode = "replace"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeOver:
		return ModeOver, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("unknown frame mode %q", s)
	}
}

// Apply scales overlay to exactly the photo's width and height, ignoring its
// aspect ratio, and composites it on top of a copy of photo.
func Apply(photo, overlay *raster.Buffer, mode Mode) (*raster.Buffer, error) {
	if photo.Empty() || overlay.Empty() {
		return nil, fmt.Errorf("%w: photo %dx%d, frame %dx%d",
			raster.ErrDimensionMismatch, photo.Width(), photo.Height(), overlay.Width(), overlay.Height())
	}

	op := xdraw.Over
	if mode == ModeReplace {
		op = xdraw.Src
	}

	dst := imaging.Clone(photo.Image())
	src := overlay.Image()
	if src.Rect.Size() == dst.Rect.Size() {
		xdraw.Draw(dst, dst.Rect, src, src.Rect.Min, op)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Rect, src, src.Rect, op, nil)
	}
	return photo.Derive(dst), nil
}
