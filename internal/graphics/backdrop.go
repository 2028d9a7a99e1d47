package graphics

import (
	"os"
	"path/filepath"

	"github.com/chewxy/math32"
	rl "github.com/gen2brain/raylib-go/raylib"
)

const (
	gridExtent     = 50
	gridMinorStep  = 1
	gridMajorStep  = 10
	gridMinorAlpha = 50
	gridMajorAlpha = 120
	compassAlpha   = 200
	compassRadius  = 40
	compassSegs    = 72
	skyboxScale    = 1000
	// EyeHeight is how far the ground grid sits below the viewer, in scene units.
	EyeHeight = 1.6
)

// equirectAspectMin/Max: width/height ratio for equirectangular panorama (typically 2:1).
const (
	equirectAspectMin = 1.8
	equirectAspectMax = 2.2
)

// Backdrop draws an optional skybox, a ground grid below the viewer and a compass
// ring on the horizon. The viewer is always at the origin, z up, north along +y.
type Backdrop struct {
	GridVisible    bool
	CompassVisible bool

	skyboxTex      rl.Texture2D
	skyboxMesh     rl.Mesh
	skyboxMtl      rl.Material
	skyboxLoaded   bool
	skyboxPending  bool
	skyboxPath     string
	skyboxEquirect bool
}

// NewBackdrop looks for skybox.png or skybox.jpg under dir/skybox. GPU loading is
// deferred to the first Draw.
func NewBackdrop(assetsDir string) *Backdrop {
	b := &Backdrop{GridVisible: true, CompassVisible: true}
	b.findSkybox(assetsDir)
	return b
}

func (b *Backdrop) findSkybox(assetsDir string) {
	var path string
	for _, name := range []string{"skybox.png", "skybox.jpg"} {
		p := filepath.Join(assetsDir, "skybox", name)
		if _, err := os.Stat(p); err == nil {
			path = p
			break
		}
	}
	if path == "" {
		return
	}
	img := rl.LoadImage(path)
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return
	}
	aspect := float32(img.Width) / float32(img.Height)
	b.skyboxEquirect = aspect >= equirectAspectMin && aspect <= equirectAspectMax
	rl.UnloadImage(img)
	b.skyboxPath = path
	b.skyboxPending = true
}

func (b *Backdrop) ensureSkyboxLoaded() {
	if !b.skyboxPending {
		return
	}
	path := b.skyboxPath
	b.skyboxPending = false

	if !b.skyboxEquirect {
		img := rl.LoadImage(path)
		if img == nil || img.Width <= 0 || img.Height <= 0 {
			return
		}
		b.skyboxTex = rl.LoadTextureCubemap(img, rl.CubemapLayoutAutoDetect)
		rl.UnloadImage(img)
		if !rl.IsTextureValid(b.skyboxTex) {
			return
		}
		b.skyboxMesh = rl.GenMeshCube(1, 1, 1)
		b.skyboxMtl = rl.LoadMaterialDefault()
		rl.SetMaterialTexture(&b.skyboxMtl, rl.MapCubemap, b.skyboxTex)
		b.skyboxLoaded = true
		return
	}

	b.skyboxTex = rl.LoadTexture(path)
	if !rl.IsTextureValid(b.skyboxTex) {
		return
	}
	shader := rl.LoadShaderFromMemory(equirectVS, equirectFS)
	if !rl.IsShaderValid(shader) {
		rl.UnloadTexture(b.skyboxTex)
		return
	}
	b.skyboxMesh = rl.GenMeshCube(1, 1, 1)
	b.skyboxMtl = rl.LoadMaterialDefault()
	b.skyboxMtl.Shader = shader
	if loc := rl.GetShaderLocation(shader, "skybox"); loc >= 0 {
		rl.SetShaderValueTexture(shader, loc, b.skyboxTex)
	}
	b.skyboxLoaded = true
}

// Equirectangular panorama sampled by view direction, z up.
const (
	equirectVS = `#version 330
in vec3 vertexPosition;
uniform mat4 matProjection;
uniform mat4 matView;
uniform mat4 matModel;
out vec3 fragDir;
void main() {
  vec4 worldPos = matModel * vec4(vertexPosition, 1.0);
  fragDir = worldPos.xyz;
  gl_Position = matProjection * matView * worldPos;
}
`
	equirectFS = `#version 330
in vec3 fragDir;
out vec4 finalColor;
uniform sampler2D skybox;
void main() {
  vec3 dir = normalize(fragDir);
  float lon = atan(dir.x, dir.y);
  float lat = asin(clamp(dir.z, -1.0, 1.0));
  float u = lon / 6.28318530718 + 0.5;
  float v = 0.5 - lat / 3.14159265359;
  finalColor = texture(skybox, vec2(u, v));
}
`
)

// Draw renders the backdrop. Call inside 3D mode before any object.
func (b *Backdrop) Draw() {
	b.ensureSkyboxLoaded()
	if b.skyboxLoaded {
		b.drawSkybox()
	}
	if b.GridVisible {
		drawGroundGrid()
	}
	if b.CompassVisible {
		drawCompass()
	}
}

func (b *Backdrop) drawSkybox() {
	rl.DisableDepthMask()
	rl.DisableBackfaceCulling()
	transform := rl.MatrixScale(skyboxScale, skyboxScale, skyboxScale)
	if !b.skyboxEquirect {
		// Cubemap faces are laid out y up.
		transform = rl.MatrixMultiply(transform, rl.MatrixRotateX(math32.Pi/2))
	}
	rl.DrawMesh(b.skyboxMesh, b.skyboxMtl, transform)
	rl.EnableBackfaceCulling()
	rl.EnableDepthMask()
}

// drawGroundGrid draws major/minor lines on the plane z = -EyeHeight, with the
// north-south line green and the east-west line red.
func drawGroundGrid() {
	minor := rl.NewColor(128, 128, 128, gridMinorAlpha)
	major := rl.NewColor(160, 160, 160, gridMajorAlpha)
	east := rl.NewColor(220, 80, 80, compassAlpha)
	north := rl.NewColor(80, 220, 80, compassAlpha)

	const z = -EyeHeight
	var start, end rl.Vector3
	for i := -gridExtent; i <= gridExtent; i += gridMinorStep {
		c := major
		if i%gridMajorStep != 0 {
			c = minor
		}
		start.X, start.Y, start.Z = float32(i), -gridExtent, z
		end.X, end.Y, end.Z = float32(i), gridExtent, z
		rl.DrawLine3D(start, end, c)
		start.X, start.Y = -gridExtent, float32(i)
		end.X, end.Y = gridExtent, float32(i)
		rl.DrawLine3D(start, end, c)
	}
	rl.DrawLine3D(rl.NewVector3(-gridExtent, 0, z), rl.NewVector3(gridExtent, 0, z), east)
	rl.DrawLine3D(rl.NewVector3(0, -gridExtent, z), rl.NewVector3(0, gridExtent, z), north)
}

// drawCompass draws a horizon ring with a tick every 10 degrees and a tall tick at
// each cardinal point, north highlighted.
func drawCompass() {
	ring := rl.NewColor(200, 200, 200, compassAlpha/2)
	tick := rl.NewColor(200, 200, 200, compassAlpha)
	north := rl.NewColor(240, 60, 60, 255)

	step := 2 * math32.Pi / compassSegs
	for i := 0; i < compassSegs; i++ {
		s0, c0 := math32.Sincos(float32(i) * step)
		s1, c1 := math32.Sincos(float32(i+1) * step)
		rl.DrawLine3D(
			rl.NewVector3(compassRadius*s0, compassRadius*c0, 0),
			rl.NewVector3(compassRadius*s1, compassRadius*c1, 0),
			ring)
		if i%2 != 0 {
			continue
		}
		h := float32(0.5)
		col := tick
		if i%(compassSegs/4) == 0 {
			h = 2
			if i == 0 {
				col = north
			}
		}
		// Bearing measured clockwise from north: x = sin, y = cos.
		rl.DrawLine3D(
			rl.NewVector3(compassRadius*s0, compassRadius*c0, -h),
			rl.NewVector3(compassRadius*s0, compassRadius*c0, h),
			col)
	}
}

// Unload frees the skybox GPU resources.
func (b *Backdrop) Unload() {
	if !b.skyboxLoaded {
		return
	}
	rl.UnloadTexture(b.skyboxTex)
	rl.UnloadMesh(&b.skyboxMesh)
	b.skyboxLoaded = false
}
