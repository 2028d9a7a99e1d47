// Package graphics draws the AR view with raylib: the window loop, a renderer
// backend, the backdrop and the 2D overlay.
package graphics

import (
	"context"

	rl "github.com/gen2brain/raylib-go/raylib"
)

// Window configures the raylib window.
type Window struct {
	Title      string
	Width      int
	Height     int
	Fullscreen bool
	TargetFPS  int
}

// Run opens the window and runs the main loop until it is closed or ctx is done.
// Each frame it calls update (input, console), then clears the screen and calls
// draw. shutdown runs while the GL context still exists, to free GPU resources.
// ESC toggles the console, so closing goes through the window button.
func Run(ctx context.Context, w Window, update, draw, shutdown func()) {
	flags := uint32(rl.FlagWindowResizable | rl.FlagMsaa4xHint)
	if w.Fullscreen {
		flags |= rl.FlagFullscreenMode
	}
	rl.SetConfigFlags(flags)
	rl.InitWindow(int32(w.Width), int32(w.Height), w.Title)
	defer func() {
		if shutdown != nil {
			shutdown()
		}
		rl.CloseWindow()
	}()
	if w.Fullscreen {
		rl.SetWindowSize(rl.GetMonitorWidth(0), rl.GetMonitorHeight(0))
	}

	rl.SetExitKey(rl.KeyNull)
	if w.TargetFPS > 0 {
		rl.SetTargetFPS(int32(w.TargetFPS))
	}

	for !rl.WindowShouldClose() && ctx.Err() == nil {
		update()

		rl.BeginDrawing()
		rl.ClearBackground(rl.Black)
		draw()
		rl.EndDrawing()
	}
}
