package graphics

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	rl "github.com/gen2brain/raylib-go/raylib"
)

// fontExts are the font files raylib can load.
var fontExts = []string{".ttf", ".otf"}

// FindFont returns the first font file under dir/fonts in lexical order, or "".
func FindFont(assetsDir string) string {
	dir := filepath.Join(assetsDir, "fonts")
	var found []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, e := range fontExts {
			if ext == e {
				found = append(found, path)
			}
		}
		return nil
	})
	if len(found) == 0 {
		return ""
	}
	sort.Strings(found)
	return found[0]
}

// LoadFont loads path at size for the overlay and console. A missing or
// unloadable font yields the zero Font, which means raylib's default.
func LoadFont(path string, size int32) rl.Font {
	if path == "" {
		return rl.Font{}
	}
	if _, err := os.Stat(path); err != nil {
		return rl.Font{}
	}
	f := rl.LoadFontEx(path, size, nil)
	if f.Texture.ID == 0 {
		return rl.Font{}
	}
	rl.SetTextureFilter(f.Texture, rl.FilterBilinear)
	return f
}

// drawText draws with font when loaded and the default font otherwise.
func drawText(font rl.Font, text string, x, y int32, size int32, c rl.Color) {
	if font.Texture.ID != 0 {
		rl.DrawTextEx(font, text, rl.NewVector2(float32(x), float32(y)), float32(size), 1, c)
		return
	}
	rl.DrawText(text, x, y, size, c)
}

func measureText(font rl.Font, text string, size int32) int32 {
	if font.Texture.ID != 0 {
		return int32(rl.MeasureTextEx(font, text, float32(size), 1).X)
	}
	return rl.MeasureText(text, size)
}
