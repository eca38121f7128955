package staging

import (
	"errors"
	"slices"
	"sync"
)

// ErrIndexOutOfRange is returned by Remove for an invalid position.
var ErrIndexOutOfRange = errors.New("index out of range")

// Store holds the ordered collection of staged images for one session.
// Order is semantically significant: it equals slide order in the produced
// deck. All operations are atomic with respect to each other, and every
// path that removes an image releases its preview handle.
type Store struct {
	mu    sync.Mutex
	bound int
	items []*StagedImage
}

// NewStore creates an empty store with the given capacity bound.
func NewStore(bound int) *Store {
	return &Store{bound: bound}
}

// Bound returns the configured capacity bound.
func (s *Store) Bound() int {
	return s.bound
}

// Len returns the number of staged images.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Add appends images in encounter order up to the remaining capacity and
// returns how many were admitted. Previews of images dropped over the
// bound are released here so they cannot leak.
func (s *Store) Add(images ...*StagedImage) int {
	s.mu.Lock()
	room := s.bound - len(s.items)
	if room < 0 {
		room = 0
	}
	admitted := min(room, len(images))
	s.items = append(s.items, images[:admitted]...)
	s.mu.Unlock()

	for _, img := range images[admitted:] {
		img.Preview().Release()
	}
	return admitted
}

// Remove deletes the image at index i and releases its preview handle.
func (s *Store) Remove(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.items) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	img := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)
	s.mu.Unlock()

	img.Preview().Release()
	return nil
}

// Clear deletes every staged image, releasing all preview handles.
func (s *Store) Clear() {
	s.mu.Lock()
	removed := s.items
	s.items = nil
	s.mu.Unlock()

	for _, img := range removed {
		img.Preview().Release()
	}
}

// Reorder moves the element at from so that it immediately precedes the
// element currently at to. Equal or invalid indexes are a no-op.
func (s *Store) Reorder(from, to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if from == to || from < 0 || from >= n || to < 0 || to >= n {
		return
	}
	img := s.items[from]
	s.items = slices.Delete(s.items, from, from+1)
	if from < to {
		to--
	}
	s.items = slices.Insert(s.items, to, img)
}

// Snapshot returns a point-in-time copy of the current order. Builds are
// driven from a snapshot so later mutations cannot interleave with an
// in-flight build.
func (s *Store) Snapshot() []*StagedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items)
}
