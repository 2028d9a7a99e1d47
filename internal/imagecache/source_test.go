package imagecache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hack-pad/hackpadfs"
	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ar-engine/internal/download"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri    string
		scheme Scheme
		path   string
		bad    bool
	}{
		{uri: "res://marker", scheme: SchemeResource, path: "marker"},
		{uri: "assets://icons/poi.png", scheme: SchemeAsset, path: "icons/poi.png"},
		{uri: "https://example.test/a.png", scheme: SchemeRemote, path: "https://example.test/a.png"},
		{uri: "HTTP://example.test/a.png", scheme: SchemeRemote, path: "HTTP://example.test/a.png"},
		{uri: "file:///tmp/a.png", scheme: SchemeFile, path: "/tmp/a.png"},
		{uri: "/tmp/a.png", scheme: SchemeFile, path: "/tmp/a.png"},
		{uri: "", bad: true},
		{uri: "   ", bad: true},
		{uri: "ftp://example.test/a.png", bad: true},
		{uri: "assets://", bad: true},
		{uri: "https://", bad: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			ref, err := ParseURI(tt.uri)
			if tt.bad {
				var se *SchemeError
				require.ErrorAs(t, err, &se)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, ref.Scheme)
			assert.Equal(t, tt.path, ref.Path)
			assert.Equal(t, tt.uri, ref.URI)
		})
	}
}

func TestFSSourceExtensionFallback(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	require.NoError(t, hackpadfs.MkdirAll(fs, "icons", 0o755))
	require.NoError(t, hackpadfs.WriteFullFile(fs, "icons/poi.png", []byte("png"), 0o644))
	require.NoError(t, hackpadfs.WriteFullFile(fs, "marker.jpg", []byte("jpg"), 0o644))

	src := &FSSource{FS: fs, Exts: []string{".png", ".jpg"}}
	ctx := context.Background()

	data, err := src.Open(ctx, Ref{Path: "icons/poi.png"})
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	data, err = src.Open(ctx, Ref{Path: "/marker"})
	require.NoError(t, err)
	assert.Equal(t, "jpg", string(data))

	_, err = src.Open(ctx, Ref{Path: "missing"})
	assert.Error(t, err)

	// traversal is cleaned away at the root
	data, err = src.Open(ctx, Ref{Path: "../../icons/poi.png"})
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestCacheLoadsFromFSSource(t *testing.T) {
	fs, err := mem.NewFS()
	require.NoError(t, err)
	require.NoError(t, hackpadfs.WriteFullFile(fs, "poi.png", pngBytes(t, 3, 2), 0o644))

	c := New(Options{
		Workers: 1,
		Sources: map[Scheme]Source{SchemeAsset: &FSSource{FS: fs}},
	})
	t.Cleanup(c.Close)

	c.GetFor("assets://poi.png", 1)
	got := drainUntil(t, c, 1)
	require.NoError(t, got[0].Err)
	assert.Equal(t, 3, got[0].Image.Bounds().Dx())
	assert.Equal(t, 2, got[0].Image.Bounds().Dy())
}

type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memBlobs) GetBlob(_ context.Context, uri string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[uri]
	return d, ok, nil
}

func (m *memBlobs) PutBlob(_ context.Context, uri string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[uri] = data
	return nil
}

func TestRemoteSourceUsesBlobStore(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("remote-bytes"))
	}))
	defer srv.Close()

	blobs := &memBlobs{data: make(map[string][]byte)}
	src := &RemoteSource{Client: download.NewClient(0), Blobs: blobs}
	ref, err := ParseURI(srv.URL + "/poi.png")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		data, err := src.Open(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, "remote-bytes", string(data))
	}
	assert.Equal(t, 1, hits)
	assert.Contains(t, blobs.data, ref.URI)
}

func TestRemoteSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	src := &RemoteSource{Client: download.NewClient(0)}
	_, err := src.Open(context.Background(), Ref{URI: srv.URL + "/x.png", Scheme: SchemeRemote, Path: srv.URL + "/x.png"})
	assert.Error(t, err)
}

func TestDecodeDownsizesKeepingAspect(t *testing.T) {
	img, err := Decode(pngBytes(t, 200, 100), 64)
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())

	img, err = Decode(pngBytes(t, 10, 40), 64)
	require.NoError(t, err)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	_, err = Decode([]byte("nope"), 64)
	assert.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "not_loaded", NotLoaded.String())
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "loaded", Loaded.String())
	assert.Equal(t, "error", Error.String())
}
