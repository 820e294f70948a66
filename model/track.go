package model

// Track represents an immutable catalog record. Playback components
// reference tracks but never mutate them.
type Track struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Artists  []string `json:"artists"`
	Album    string   `json:"album,omitempty"`
	Duration float64  `json:"duration"` // Duration in seconds
	CoverURL string   `json:"coverUrl,omitempty"`
	Source   string   `json:"source"` // "remote", "local"
}

// StreamInfo is the resolvable stream locator for one track,
// as returned by the catalog provider.
type StreamInfo struct {
	TrackID  string  `json:"trackId"`
	URL      string  `json:"url"`
	Bitrate  int     `json:"bitrate"` // kbps
	Quality  string  `json:"quality"` // quality label chosen by the provider
	Format   string  `json:"format"`  // "mp3", "wav"
	Duration float64 `json:"duration"`
}

// Album groups tracks under one catalog album record.
type Album struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Artist   string  `json:"artist"`
	CoverURL string  `json:"coverUrl,omitempty"`
	Tracks   []Track `json:"tracks,omitempty"`
}

// SearchResult is a page of catalog search hits.
type SearchResult struct {
	Tracks []Track `json:"tracks"`
	Total  int     `json:"total"`
}
