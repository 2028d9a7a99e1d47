package imagecache

// State is the load state of a URI.
type State int

const (
	NotLoaded State = iota
	Loading
	Loaded
	Error
)

func (s State) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Error:
		return "error"
	}
	return "unknown"
}
