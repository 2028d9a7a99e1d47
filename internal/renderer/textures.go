package renderer

import (
	"image"
	"log/slog"

	"ar-engine/internal/scene"
)

// texEntry is the texture uploaded for one cached image and who shows it.
type texEntry struct {
	tex     scene.Texture
	img     *image.RGBA
	objects map[*scene.Object]struct{}
	groups  map[*scene.Group]struct{}
}

// textureSet maps image URIs to uploaded textures. It is only touched from the
// render goroutine.
type textureSet struct {
	backend Backend
	log     *slog.Logger
	byURI   map[string]*texEntry
}

func newTextureSet(b Backend, log *slog.Logger) *textureSet {
	return &textureSet{backend: b, log: log, byURI: make(map[string]*texEntry)}
}

// ensure returns the texture for img, uploading it when uri has none or holds an
// older image. Users of an older image move to the new texture.
func (s *textureSet) ensure(uri string, img *image.RGBA) (*texEntry, error) {
	if e, ok := s.byURI[uri]; ok {
		if e.img == img {
			return e, nil
		}
		tex, err := s.backend.UploadTexture(img)
		if err != nil {
			return nil, err
		}
		old := e.tex
		e.tex, e.img = tex, img
		for o := range e.objects {
			if o.Texture() == old {
				o.SetTexture(tex)
			}
		}
		for g := range e.groups {
			if g.DefaultTexture() == old {
				g.SetDefaultTexture(tex)
			}
		}
		s.backend.ReleaseTexture(old)
		return e, nil
	}
	tex, err := s.backend.UploadTexture(img)
	if err != nil {
		return nil, err
	}
	e := &texEntry{
		tex:     tex,
		img:     img,
		objects: make(map[*scene.Object]struct{}),
		groups:  make(map[*scene.Group]struct{}),
	}
	s.byURI[uri] = e
	return e, nil
}

func (s *textureSet) attachObject(o *scene.Object, uri string, img *image.RGBA) error {
	e, err := s.ensure(uri, img)
	if err != nil {
		return err
	}
	e.objects[o] = struct{}{}
	o.SetTexture(e.tex)
	return nil
}

func (s *textureSet) attachGroup(g *scene.Group, uri string, img *image.RGBA) error {
	e, err := s.ensure(uri, img)
	if err != nil {
		return err
	}
	e.groups[g] = struct{}{}
	g.SetDefaultTexture(e.tex)
	return nil
}

// shareObject gives o the texture already uploaded for uri, if there is one.
func (s *textureSet) shareObject(o *scene.Object, uri string) bool {
	e, ok := s.byURI[uri]
	if !ok {
		return false
	}
	e.objects[o] = struct{}{}
	o.SetTexture(e.tex)
	return true
}

func (s *textureSet) shareGroup(g *scene.Group, uri string) bool {
	e, ok := s.byURI[uri]
	if !ok {
		return false
	}
	e.groups[g] = struct{}{}
	g.SetDefaultTexture(e.tex)
	return true
}

// release frees the texture made from img, if it is still the one in use for uri.
func (s *textureSet) release(uri string, img *image.RGBA) bool {
	e, ok := s.byURI[uri]
	if !ok || (img != nil && e.img != img) {
		return false
	}
	s.drop(uri, e)
	return true
}

func (s *textureSet) drop(uri string, e *texEntry) {
	for o := range e.objects {
		if o.Texture() == e.tex {
			o.SetTexture(scene.Texture{})
		}
	}
	for g := range e.groups {
		if g.DefaultTexture() == e.tex {
			g.SetDefaultTexture(scene.Texture{})
		}
	}
	s.backend.ReleaseTexture(e.tex)
	delete(s.byURI, uri)
	s.log.Debug("texture_released", "uri", uri, "id", e.tex.ID)
}

func (s *textureSet) forget(o *scene.Object) {
	for _, e := range s.byURI {
		delete(e.objects, o)
	}
}

func (s *textureSet) releaseAll() {
	for uri, e := range s.byURI {
		s.drop(uri, e)
	}
}

func (s *textureSet) len() int { return len(s.byURI) }
