package graphics

import (
	rl "github.com/gen2brain/raylib-go/raylib"

	"ar-engine/internal/orientation"
)

const (
	lookKeySpeed   = 60  // degrees per second
	lookMouseSpeed = 0.2 // degrees per pixel
)

// Look turns a YawPitch view with the arrow keys or by dragging with the right
// mouse button, and reports left clicks.
type Look struct {
	View *orientation.YawPitch
	// OnClick receives the cursor position of a left click.
	OnClick func(x, y float64)
}

// Update reads input once per frame. Nothing happens while disabled (console open).
func (l *Look) Update(disabled bool) {
	if disabled {
		return
	}
	dt := float64(rl.GetFrameTime())
	var dYaw, dPitch float64
	if rl.IsKeyDown(rl.KeyLeft) || rl.IsKeyDown(rl.KeyA) {
		dYaw -= lookKeySpeed * dt
	}
	if rl.IsKeyDown(rl.KeyRight) || rl.IsKeyDown(rl.KeyD) {
		dYaw += lookKeySpeed * dt
	}
	if rl.IsKeyDown(rl.KeyUp) || rl.IsKeyDown(rl.KeyW) {
		dPitch += lookKeySpeed * dt
	}
	if rl.IsKeyDown(rl.KeyDown) || rl.IsKeyDown(rl.KeyS) {
		dPitch -= lookKeySpeed * dt
	}
	if rl.IsMouseButtonDown(rl.MouseButtonRight) {
		d := rl.GetMouseDelta()
		dYaw -= float64(d.X) * lookMouseSpeed
		dPitch += float64(d.Y) * lookMouseSpeed
	}
	if dYaw != 0 || dPitch != 0 {
		l.View.Rotate(dYaw, dPitch)
	}
	if l.OnClick != nil && rl.IsMouseButtonPressed(rl.MouseButtonLeft) {
		p := rl.GetMousePosition()
		l.OnClick(float64(p.X), float64(p.Y))
	}
}
