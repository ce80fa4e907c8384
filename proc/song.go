package proc

import "time"

// ShuffleMarker tracks where a song stands in the shuffle lifecycle.
type ShuffleMarker int

const (
	MarkerNormal ShuffleMarker = iota
	// MarkerDeferred songs are shuffled once a deferred batch runs.
	MarkerDeferred
	MarkerShuffled
)

func (m ShuffleMarker) String() string {
	switch m {
	case MarkerDeferred:
		return "deferred"
	case MarkerShuffled:
		return "shuffled"
	default:
		return "normal"
	}
}

// Song is a single queued track.
type Song struct {
	ID        int
	Title     string
	Locator   string // page URL or search token until prepared, then the stream URL
	PageURL   string
	Uploader  string
	Duration  time.Duration
	Requester string
	Prepared  bool
	Marker    ShuffleMarker
}

// Link returns the best URL to show users for this song.
func (s Song) Link() string {
	if s.PageURL != "" {
		return s.PageURL
	}
	return s.Locator
}

// DisplayState is the state a song is shown with in the queue listing.
type DisplayState int

const (
	Preparing DisplayState = iota
	Ready
	NowPlaying
)

func (d DisplayState) String() string {
	switch d {
	case Ready:
		return "READY"
	case NowPlaying:
		return "PLAYING"
	default:
		return "PREPARING"
	}
}

// Entry is a song annotated with its display state. Position is the index
// accepted by Queue.RemoveAt, or zero for the playing song.
type Entry struct {
	Song
	State    DisplayState
	Position int
}

// Resolution is the outcome of preparing a song.
type Resolution struct {
	Locator  string
	Title    string
	Uploader string
	Duration time.Duration
}

func (s *Song) apply(r Resolution) {
	s.Locator = r.Locator
	if r.Title != "" {
		s.Title = r.Title
	}
	if r.Uploader != "" {
		s.Uploader = r.Uploader
	}
	if r.Duration > 0 {
		s.Duration = r.Duration
	}
	s.Prepared = true
}
