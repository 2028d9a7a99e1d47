package graphics

import (
	"fmt"
	"image"

	rl "github.com/gen2brain/raylib-go/raylib"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"golang.org/x/image/draw"

	"ar-engine/internal/scene"
)

var placeholderColor = rl.NewColor(90, 160, 220, 160)

// Backend draws renderer frames through rlgl. It must only be used on the
// goroutine that owns the window.
type Backend struct {
	backdrop *Backdrop
	textures map[uint32]rl.Texture2D
}

// NewBackend returns a backend that draws backdrop (may be nil) behind the objects.
func NewBackend(backdrop *Backdrop) *Backend {
	return &Backend{backdrop: backdrop, textures: make(map[uint32]rl.Texture2D)}
}

func (b *Backend) Viewport() (int, int) {
	return rl.GetScreenWidth(), rl.GetScreenHeight()
}

// BeginFrame enters 3D mode with the renderer's own matrices in place of a camera.
func (b *Backend) BeginFrame(view, proj mgl64.Mat4) {
	rl.BeginMode3D(rl.Camera3D{
		Target:     rl.NewVector3(0, 1, 0),
		Up:         rl.NewVector3(0, 0, 1),
		Fovy:       60,
		Projection: rl.CameraPerspective,
	})
	rl.SetMatrixProjection(toMatrix(proj))
	rl.SetMatrixModelview(toMatrix(view))
	if b.backdrop != nil {
		b.backdrop.Draw()
	}
	rl.DisableBackfaceCulling()
}

func (b *Backend) DrawQuad(corners [4]r3.Vector, tex scene.Texture) {
	uv := [4][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}
	if tex.Valid() {
		rl.SetTexture(tex.ID)
	}
	rl.Begin(rl.Quads)
	if tex.Valid() {
		rl.Color4ub(255, 255, 255, 255)
	} else {
		rl.Color4ub(placeholderColor.R, placeholderColor.G, placeholderColor.B, placeholderColor.A)
	}
	for i, c := range corners {
		rl.TexCoord2f(uv[i][0], uv[i][1])
		rl.Vertex3f(float32(c.X), float32(c.Y), float32(c.Z))
	}
	rl.End()
	rl.SetTexture(0)
}

// ReadPixels flushes pending draws and reads back the framebuffer.
func (b *Backend) ReadPixels() (*image.RGBA, error) {
	rl.DrawRenderBatchActive()
	img := rl.LoadImageFromScreen()
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("graphics: empty framebuffer")
	}
	defer rl.UnloadImage(img)
	src := img.ToImage()
	out := image.NewRGBA(src.Bounds())
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out, nil
}

func (b *Backend) EndFrame() {
	rl.EnableBackfaceCulling()
	rl.EndMode3D()
}

func (b *Backend) UploadTexture(img *image.RGBA) (scene.Texture, error) {
	rlImg := rl.NewImageFromImage(img)
	tex := rl.LoadTextureFromImage(rlImg)
	rl.UnloadImage(rlImg)
	if !rl.IsTextureValid(tex) {
		return scene.Texture{}, fmt.Errorf("graphics: texture upload failed (%dx%d)", img.Bounds().Dx(), img.Bounds().Dy())
	}
	rl.SetTextureFilter(tex, rl.FilterBilinear)
	b.textures[tex.ID] = tex
	return scene.Texture{ID: tex.ID, Width: int(tex.Width), Height: int(tex.Height)}, nil
}

func (b *Backend) ReleaseTexture(t scene.Texture) {
	tex, ok := b.textures[t.ID]
	if !ok {
		return
	}
	delete(b.textures, t.ID)
	rl.UnloadTexture(tex)
}

// Close unloads every texture still held.
func (b *Backend) Close() {
	for id, tex := range b.textures {
		rl.UnloadTexture(tex)
		delete(b.textures, id)
	}
	if b.backdrop != nil {
		b.backdrop.Unload()
	}
}

// toMatrix converts a column-major mgl64 matrix to raylib's column-major layout.
func toMatrix(m mgl64.Mat4) rl.Matrix {
	return rl.Matrix{
		M0: float32(m[0]), M1: float32(m[1]), M2: float32(m[2]), M3: float32(m[3]),
		M4: float32(m[4]), M5: float32(m[5]), M6: float32(m[6]), M7: float32(m[7]),
		M8: float32(m[8]), M9: float32(m[9]), M10: float32(m[10]), M11: float32(m[11]),
		M12: float32(m[12]), M13: float32(m[13]), M14: float32(m[14]), M15: float32(m[15]),
	}
}
