package models

// Slide is one transcoded image in deck order. Slides are assembled during
// a build and handed straight to the converter request; they are never
// stored between builds.
type Slide struct {
	// Name display name carried over from the staged image
	Name string `json:"name"`

	// Data self-describing encoded image bytes (PNG or JPEG), base64 in JSON
	Data []byte `json:"data"`

	// Width and Height are the pixel dimensions after downscaling
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeckRequest is the outbound payload for the conversion service: the
// ordered slides plus the presentation configuration, forwarded verbatim.
type DeckRequest struct {
	Slides []Slide `json:"slides"`

	// AspectRatio "16:9" or "4:3"
	AspectRatio string `json:"aspect_ratio"`

	// Layout "cover" (fill the slide) or "fit" (letterbox)
	Layout string `json:"layout"`

	// TitleSlide prepends a title slide with TitleText when true
	TitleSlide bool   `json:"title_slide"`
	TitleText  string `json:"title_text,omitempty"`

	// SplitEvery chunks the deck into groups of this many images packaged
	// as an archive. Zero means a single deck.
	SplitEvery int `json:"split_every"`
}

// DeckArtifact is the binary result returned by the conversion service.
// The declared content type distinguishes a single deck from an archive
// of deck chunks.
type DeckArtifact struct {
	Data        []byte
	ContentType string
}
