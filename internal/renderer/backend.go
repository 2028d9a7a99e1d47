package renderer

import (
	"image"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"

	"ar-engine/internal/scene"
)

// Backend is the graphics API the renderer draws through. All methods are called
// from the render goroutine.
type Backend interface {
	// Viewport is the drawable size in pixels.
	Viewport() (width, height int)
	BeginFrame(view, proj mgl64.Mat4)
	// DrawQuad draws four world-space corners (bottom-left, bottom-right, top-right,
	// top-left). A zero texture draws an untextured placeholder.
	DrawQuad(corners [4]r3.Vector, tex scene.Texture)
	// ReadPixels returns the current contents of the framebuffer.
	ReadPixels() (*image.RGBA, error)
	EndFrame()
	UploadTexture(img *image.RGBA) (scene.Texture, error)
	ReleaseTexture(tex scene.Texture)
}
