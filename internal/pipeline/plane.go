package pipeline

import "fmt"

// MaxPlanes bounds the number of planes in one buffer.
const MaxPlanes = 8

// Plane is one memory plane of a buffer.
type Plane struct {
	Length    uint32
	BytesUsed uint32
	// FD is the backing descriptor for imported slots. It is ignored for mapped slots.
	FD int
}

// PlaneSet is a bounded, checked list of planes.
type PlaneSet struct {
	planes [MaxPlanes]Plane
	n      int
}

// NewPlaneSet builds a set from planes. More than MaxPlanes is an error.
func NewPlaneSet(planes ...Plane) (PlaneSet, error) {
	var s PlaneSet
	for _, p := range planes {
		if err := s.Append(p); err != nil {
			return PlaneSet{}, err
		}
	}
	return s, nil
}

// Append adds a plane.
func (s *PlaneSet) Append(p Plane) error {
	if s.n >= MaxPlanes {
		return fmt.Errorf("plane count exceeds maximum of %d", MaxPlanes)
	}
	s.planes[s.n] = p
	s.n++
	return nil
}

// Len returns the number of planes.
func (s PlaneSet) Len() int { return s.n }

// At returns plane i.
func (s PlaneSet) At(i int) (Plane, error) {
	if i < 0 || i >= s.n {
		return Plane{}, fmt.Errorf("plane %d out of range [0, %d)", i, s.n)
	}
	return s.planes[i], nil
}

// All returns a copy of the planes.
func (s PlaneSet) All() []Plane {
	out := make([]Plane, s.n)
	copy(out, s.planes[:s.n])
	return out
}

// withDescriptor returns a copy where every plane is backed by fd and
// fully used.
func (s PlaneSet) withDescriptor(fd int) PlaneSet {
	out := s
	for i := 0; i < out.n; i++ {
		out.planes[i].FD = fd
		out.planes[i].BytesUsed = out.planes[i].Length
	}
	return out
}
