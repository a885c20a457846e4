// internal/agent/coords.go
package agent

// relScale is the fixed coordinate space the model plans in. Positions are
// expressed on a 0-1000 grid regardless of the device resolution.
const relScale = 1000

// ToPixels converts a relative 0-1000 coordinate into absolute device
// pixels: floor(rel/1000 * dim).
func ToPixels(rel Point, width, height int) (x, y int) {
	x = rel.X * width / relScale
	y = rel.Y * height / relScale
	return x, y
}

// ClampRel forces a relative coordinate back into the 0-1000 space. Models
// occasionally emit 1000 or slightly beyond; clamping beats rejecting.
func ClampRel(p Point) Point {
	if p.X < 0 {
		p.X = 0
	}
	if p.X >= relScale {
		p.X = relScale - 1
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.Y >= relScale {
		p.Y = relScale - 1
	}
	return p
}
