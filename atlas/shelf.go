package atlas

// shelfPacker places rectangles left to right on horizontal shelves. A
// shelf is as tall as the tallest item placed on it; when no shelf has
// room a new one starts below the last.
type shelfPacker struct {
	width, height int
	padding       int
	shelves       []shelf
	usedArea      int
}

type shelf struct {
	y      int
	height int
	x      int // next free slot
}

func newShelfPacker(width, height, padding int) *shelfPacker {
	return &shelfPacker{
		width:   width,
		height:  height,
		padding: padding,
		shelves: make([]shelf, 0, 16),
	}
}

// allocate returns the top-left corner of a free w x h rectangle.
func (p *shelfPacker) allocate(w, h int) (x, y int, ok bool) {
	pw, ph := w+p.padding, h+p.padding

	for i := range p.shelves {
		s := &p.shelves[i]
		if s.x+pw > p.width {
			continue
		}
		if h > s.height {
			// Only the last shelf can grow, and only into free space.
			if i != len(p.shelves)-1 || s.y+ph > p.height {
				continue
			}
			s.height = h
		}
		x, y = s.x, s.y
		s.x += pw
		p.usedArea += w * h
		return x, y, true
	}

	newY := 0
	if n := len(p.shelves); n > 0 {
		last := p.shelves[n-1]
		newY = last.y + last.height + p.padding
	}
	if pw > p.width || newY+ph > p.height {
		return -1, -1, false
	}
	p.shelves = append(p.shelves, shelf{y: newY, height: h, x: pw})
	p.usedArea += w * h
	return 0, newY, true
}

func (p *shelfPacker) reset() {
	p.shelves = p.shelves[:0]
	p.usedArea = 0
}

// utilization is the used fraction of the packer's area.
func (p *shelfPacker) utilization() float64 {
	if p.width <= 0 || p.height <= 0 {
		return 0
	}
	return float64(p.usedArea) / float64(p.width*p.height)
}
