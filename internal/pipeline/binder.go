package pipeline

import (
	"errors"
	"fmt"
)

// StageBinder joins a mapped producing queue to an imported consuming
// queue: slot i of the producer is imported as slot i of the consumer.
type StageBinder struct {
	from  *Queue
	table *DescriptorTable
	to    *Queue
}

// NewStageBinder checks that both queues and the descriptor table agree on
// the slot count. A mismatch is fatal.
func NewStageBinder(from *Queue, table *DescriptorTable, to *Queue) (*StageBinder, error) {
	if from.Slots() != to.Slots() || table.Len() != from.Slots() {
		return nil, newError(KindGeometryMismatch, to.Spec().Name, "bind",
			fmt.Errorf("%s has %d slots, %s has %d, descriptor table has %d",
				from.Spec().Name, from.Slots(), to.Spec().Name, to.Slots(), table.Len()))
	}
	if from.Spec().Memory != MemoryMapped || to.Spec().Memory != MemoryImported {
		return nil, newError(KindGeometryMismatch, to.Spec().Name, "bind",
			fmt.Errorf("cannot bind %s memory to %s memory", from.Spec().Memory, to.Spec().Memory))
	}
	return &StageBinder{from: from, table: table, to: to}, nil
}

// Bind imports every exported producer descriptor into the consumer at the
// same index.
func (b *StageBinder) Bind() error {
	var errs []error
	for i := 0; i < b.table.Len(); i++ {
		slot := SlotIndex(i)
		if err := b.to.ImportSlot(slot, b.table.Shared(slot)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Feed forwards a slot produced upstream to the consumer queue.
func (b *StageBinder) Feed(slot SlotIndex) (bool, error) {
	return b.to.CycleWith(slot)
}
