package staging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Candidate is one incoming file from a picker or drop batch, before
// admission. Open must return a fresh reader over the raw bytes.
type Candidate struct {
	Name      string
	MediaType string
	Size      int64
	ModTime   time.Time
	Open      func() (io.ReadCloser, error)
}

// IngestResult reports what a batch produced. Notice is non-empty when
// image files were dropped because the store was at capacity; non-image
// files are dropped silently and never counted.
type IngestResult struct {
	Admitted []*StagedImage
	Dropped  int
	Notice   string
}

// Ingestor filters candidate batches down to images, enforces the
// capacity bound and stages admitted files with a fresh identifier and
// preview handle each.
type Ingestor struct {
	bound    int
	previews *PreviewRegistry
}

// NewIngestor creates an ingestor for the given capacity bound.
func NewIngestor(bound int, previews *PreviewRegistry) *Ingestor {
	return &Ingestor{bound: bound, previews: previews}
}

// Ingest admits the first files that fit into the store's remaining
// capacity, in encounter order. Unreadable files are skipped with a log
// entry; they do not fail the batch.
func (g *Ingestor) Ingest(store *Store, batch []Candidate) IngestResult {
	images := make([]Candidate, 0, len(batch))
	for _, c := range batch {
		if strings.HasPrefix(c.MediaType, "image/") {
			images = append(images, c)
		}
	}

	admissible := max(0, g.bound-store.Len())
	dropped := 0
	if len(images) > admissible {
		dropped = len(images) - admissible
		images = images[:admissible]
	}

	staged := make([]*StagedImage, 0, len(images))
	for _, c := range images {
		img, err := g.stage(c)
		if err != nil {
			log.Warn().Str("file", c.Name).Err(err).Msg("skipping unreadable upload")
			continue
		}
		staged = append(staged, img)
	}
	store.Add(staged...)

	result := IngestResult{Admitted: staged, Dropped: dropped}
	if dropped > 0 {
		result.Notice = fmt.Sprintf("at most %d images can be staged; %d file(s) were not added", g.bound, dropped)
	}
	return result
}

func (g *Ingestor) stage(c Candidate) (*StagedImage, error) {
	r, err := c.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.Name, err)
	}

	return &StagedImage{
		ID:        newImageID(c.Name, c.Size, c.ModTime),
		Name:      c.Name,
		MediaType: c.MediaType,
		Size:      int64(len(data)),
		ModTime:   c.ModTime,
		Data:      data,
		preview:   g.previews.Register(data, c.MediaType),
	}, nil
}
