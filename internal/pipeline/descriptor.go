package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// SharedDescriptor is a non-owning view of an exported descriptor. It can
// be handed to another queue or a consumer but never closed through.
type SharedDescriptor struct {
	fd    int
	valid bool
}

// FD returns the raw descriptor number, or -1 for an empty view.
func (d SharedDescriptor) FD() int {
	if !d.valid {
		return -1
	}
	return d.fd
}

// Valid reports whether the view refers to a descriptor.
func (d SharedDescriptor) Valid() bool { return d.valid }

type ownedDescriptor struct {
	fd     int
	closer func(int) error
}

type tableEntry struct {
	desc     *ownedDescriptor
	resource Resource
}

// DescriptorTable owns the exported descriptors of one mapped queue, one
// entry per slot, plus any consumer resource created from them. Entries are
// filled during setup and read-only once frozen.
type DescriptorTable struct {
	stage   string
	entries []tableEntry
	frozen  bool

	releaseOnce sync.Once
	releaseErr  error
}

// NewDescriptorTable creates an empty table for slots entries.
func NewDescriptorTable(stage string, slots int) *DescriptorTable {
	return &DescriptorTable{
		stage:   stage,
		entries: make([]tableEntry, slots),
	}
}

// Len returns the slot count.
func (t *DescriptorTable) Len() int { return len(t.entries) }

// Set records the owned descriptor for slot. closer is used on Release.
func (t *DescriptorTable) Set(slot SlotIndex, fd int, closer func(int) error) error {
	if err := t.writable(slot); err != nil {
		return err
	}
	if t.entries[slot].desc != nil {
		return fmt.Errorf("%s slot %d already has a descriptor", t.stage, slot)
	}
	t.entries[slot].desc = &ownedDescriptor{fd: fd, closer: closer}
	return nil
}

// Attach records the consumer resource built on slot's descriptor.
func (t *DescriptorTable) Attach(slot SlotIndex, r Resource) error {
	if err := t.writable(slot); err != nil {
		return err
	}
	t.entries[slot].resource = r
	return nil
}

// Freeze makes the table read-only.
func (t *DescriptorTable) Freeze() { t.frozen = true }

// Shared returns a non-owning view of slot's descriptor.
func (t *DescriptorTable) Shared(slot SlotIndex) SharedDescriptor {
	if !t.inRange(slot) || t.entries[slot].desc == nil {
		return SharedDescriptor{}
	}
	return SharedDescriptor{fd: t.entries[slot].desc.fd, valid: true}
}

// Resource returns slot's consumer resource, or nil.
func (t *DescriptorTable) Resource(slot SlotIndex) Resource {
	if !t.inRange(slot) {
		return nil
	}
	return t.entries[slot].resource
}

// Release destroys every consumer resource and then closes every owned
// descriptor. Only the first call does any work.
func (t *DescriptorTable) Release() error {
	t.releaseOnce.Do(func() {
		var errs []error
		for i := range t.entries {
			if r := t.entries[i].resource; r != nil {
				if err := r.Release(); err != nil {
					errs = append(errs, fmt.Errorf("%s slot %d resource: %w", t.stage, i, err))
				}
				t.entries[i].resource = nil
			}
		}
		for i := range t.entries {
			d := t.entries[i].desc
			if d == nil {
				continue
			}
			if d.closer != nil {
				if err := d.closer(d.fd); err != nil {
					errs = append(errs, fmt.Errorf("%s slot %d descriptor %d: %w", t.stage, i, d.fd, err))
				}
			}
			t.entries[i].desc = nil
		}
		t.frozen = true
		t.releaseErr = errors.Join(errs...)
	})
	return t.releaseErr
}

func (t *DescriptorTable) inRange(slot SlotIndex) bool {
	return slot >= 0 && int(slot) < len(t.entries)
}

func (t *DescriptorTable) writable(slot SlotIndex) error {
	if t.frozen {
		return fmt.Errorf("%s descriptor table is frozen", t.stage)
	}
	if !t.inRange(slot) {
		return fmt.Errorf("%s slot %d out of range [0, %d)", t.stage, slot, len(t.entries))
	}
	return nil
}
