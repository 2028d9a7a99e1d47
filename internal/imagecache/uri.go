package imagecache

import (
	"fmt"
	"strings"
)

// Scheme selects the Source that loads a URI.
type Scheme int

const (
	SchemeFile Scheme = iota
	SchemeResource
	SchemeAsset
	SchemeRemote
)

func (s Scheme) String() string {
	switch s {
	case SchemeFile:
		return "file"
	case SchemeResource:
		return "res"
	case SchemeAsset:
		return "assets"
	case SchemeRemote:
		return "remote"
	}
	return fmt.Sprintf("Scheme(%d)", int(s))
}

// Ref is a parsed image URI.
type Ref struct {
	URI    string
	Scheme Scheme
	// Path is the resource id, asset path or file path; for remote refs it is the full URL.
	Path string
}

// ParseURI maps an image URI onto a scheme:
//
//	res://<id>          embedded resource
//	assets://<path>     packaged asset
//	http(s)://...       remote
//	file://<path>, bare path   local file
//
// Anything else, including an empty URI or an empty path, is a *SchemeError.
func ParseURI(uri string) (Ref, error) {
	if strings.TrimSpace(uri) == "" {
		return Ref{}, &SchemeError{URI: uri, Reason: "empty uri"}
	}
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Ref{URI: uri, Scheme: SchemeFile, Path: uri}, nil
	}
	var ref Ref
	switch strings.ToLower(scheme) {
	case "res":
		ref = Ref{URI: uri, Scheme: SchemeResource, Path: rest}
	case "assets":
		ref = Ref{URI: uri, Scheme: SchemeAsset, Path: rest}
	case "http", "https":
		ref = Ref{URI: uri, Scheme: SchemeRemote, Path: uri}
		if rest == "" {
			return Ref{}, &SchemeError{URI: uri, Reason: "missing host"}
		}
	case "file":
		ref = Ref{URI: uri, Scheme: SchemeFile, Path: rest}
	default:
		return Ref{}, &SchemeError{URI: uri, Reason: fmt.Sprintf("unknown scheme %q", scheme)}
	}
	if ref.Path == "" {
		return Ref{}, &SchemeError{URI: uri, Reason: "empty path"}
	}
	return ref, nil
}
