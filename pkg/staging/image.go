package staging

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// StagedImage is one user-selected image awaiting processing. All fields
// except position in the store are immutable after creation. The image
// owns its preview handle until the handle is released by removal, clear,
// or store teardown.
type StagedImage struct {
	// ID is unique within a store instance, even for duplicate filenames.
	ID string

	Name      string
	MediaType string
	Size      int64
	ModTime   time.Time

	// Data raw bytes as uploaded; the transcoder re-decodes from here,
	// independent of the preview handle.
	Data []byte

	preview *Preview
}

// Preview returns the owned preview handle.
func (s *StagedImage) Preview() *Preview {
	return s.preview
}

// newImageID derives an identifier from the file's name, byte size and
// modification time plus a random salt, so two uploads of the same file
// still get distinct IDs.
func newImageID(name string, size int64, modTime time.Time) string {
	h := fnv.New64a()
	h.Write([]byte(name))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(modTime.UnixMilli()))
	h.Write(buf[:])
	h.Write([]byte(uuid.NewString()))
	return fmt.Sprintf("%016x", h.Sum64())
}
