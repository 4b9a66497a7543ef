package geometry

// Rotate re-expresses r, given in a w x h sensor image, in the coordinate
// space of the image after a clockwise rotation by rot. Unknown rotations are
// treated as 0.
func Rotate(r Rect, w, h float64, rot Rotation) Rect {
	switch rot {
	case Rotate90:
		return Rect{
			Left:   h - r.Bottom,
			Top:    r.Left,
			Right:  h - r.Top,
			Bottom: r.Right,
		}
	case Rotate180:
		return Rect{
			Left:   w - r.Right,
			Top:    h - r.Bottom,
			Right:  w - r.Left,
			Bottom: h - r.Top,
		}
	case Rotate270:
		return Rect{
			Left:   r.Top,
			Top:    w - r.Right,
			Right:  r.Bottom,
			Bottom: w - r.Left,
		}
	default:
		return r
	}
}

// Mirror flips r horizontally about a frame of width w.
func Mirror(r Rect, w float64) Rect {
	return Rect{
		Left:   w - r.Right,
		Top:    r.Top,
		Right:  w - r.Left,
		Bottom: r.Bottom,
	}
}

// Normalize maps a detector rectangle from sensor orientation into upright
// frame coordinates, mirroring afterwards when the source is mirrored (front
// camera). frameW and frameH are the sensor (pre-rotation) dimensions. A nil
// rect means no detection and yields nil.
func Normalize(rect *Rect, frameW, frameH float64, rot Rotation, mirrored bool) *Rect {
	if rect == nil {
		return nil
	}
	out := Rotate(rect.Canon(), frameW, frameH, rot)
	if mirrored {
		uw, _ := UprightSize(frameW, frameH, rot)
		out = Mirror(out, uw)
	}
	return &out
}

// NormalizeUpright handles boxes a detector already reports in upright
// coordinates: only the mirror correction applies. uprightW is the upright
// frame width.
func NormalizeUpright(rect *Rect, uprightW float64, mirrored bool) *Rect {
	if rect == nil {
		return nil
	}
	out := rect.Canon()
	if mirrored {
		out = Mirror(out, uprightW)
	}
	return &out
}
