package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"

	"ar-engine/internal/download"
)

// Source returns the encoded bytes of an image reference. Sources run on cache
// worker goroutines and must be safe for concurrent use.
type Source interface {
	Open(ctx context.Context, ref Ref) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, ref Ref) ([]byte, error)

func (f SourceFunc) Open(ctx context.Context, ref Ref) ([]byte, error) { return f(ctx, ref) }

// FSSource reads files from a hackpadfs filesystem. It serves res://, assets:// and
// local file references depending on the filesystem it is given.
type FSSource struct {
	FS hackpadfs.FS
	// Resolve maps a reference path to a path valid in FS. Nil cleans the path and
	// strips any leading slash.
	Resolve func(p string) (string, error)
	// Exts are tried in order when the path as given does not exist (e.g. res://marker -> marker.png).
	Exts []string
}

func (s *FSSource) Open(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resolve := s.Resolve
	if resolve == nil {
		resolve = cleanFSPath
	}
	name, err := resolve(ref.Path)
	if err != nil {
		return nil, err
	}
	data, err := hackpadfs.ReadFile(s.FS, name)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return data, err
	}
	for _, ext := range s.Exts {
		if d, e := hackpadfs.ReadFile(s.FS, name+ext); e == nil {
			return d, nil
		}
	}
	return nil, err
}

func cleanFSPath(p string) (string, error) {
	name := path.Clean("/" + filepath.ToSlash(p))[1:]
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return name, nil
}

// osPath turns an absolute or working-directory relative OS path into a path on a
// hackpadfs os.FS rooted at the filesystem root.
func osPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if vol := filepath.VolumeName(abs); vol != "" {
		abs = strings.TrimPrefix(abs, vol)
	}
	return cleanFSPath(abs)
}

// NewFileSource serves bare paths and file:// URIs from the local disk.
func NewFileSource() *FSSource {
	return &FSSource{FS: osfs.NewFS(), Resolve: osPath}
}

// NewDirSource serves paths relative to dir on the local disk (assets, resources).
// References cannot escape dir.
func NewDirSource(dir string, exts ...string) (*FSSource, error) {
	root, err := osPath(dir)
	if err != nil {
		return nil, fmt.Errorf("imagecache: %s: %w", dir, err)
	}
	return &FSSource{
		FS: osfs.NewFS(),
		Resolve: func(p string) (string, error) {
			rel, err := cleanFSPath(p)
			if err != nil {
				return "", err
			}
			return path.Join(root, rel), nil
		},
		Exts: exts,
	}, nil
}

// RemoteSource fetches http(s) references, optionally through a shared BlobStore.
type RemoteSource struct {
	Client *download.Client
	Blobs  BlobStore
}

// BlobStore is a shared tier of encoded image bytes keyed by URI.
type BlobStore interface {
	GetBlob(ctx context.Context, uri string) ([]byte, bool, error)
	PutBlob(ctx context.Context, uri string, data []byte) error
}

func (s *RemoteSource) Open(ctx context.Context, ref Ref) ([]byte, error) {
	if s.Blobs != nil {
		if data, ok, err := s.Blobs.GetBlob(ctx, ref.URI); err == nil && ok {
			return data, nil
		}
	}
	resp, err := s.Client.Fetch(ctx, ref.Path)
	if err != nil {
		return nil, err
	}
	if s.Blobs != nil {
		// the blob tier is best effort
		_ = s.Blobs.PutBlob(ctx, ref.URI, resp.Body)
	}
	return resp.Body, nil
}
