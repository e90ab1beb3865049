// Package pipeline moves frames through a fixed three-stage zero-copy
// topology: a capture queue, the input queue of an image signal processor
// and the ISP's output queue.
//
// # Topology
//
//	capture (MMAP, exported) ──dma-buf──▶ isp-input (DMABUF, imported)
//	                                             │ ISP
//	                                             ▼
//	consumer ◀──dma-buf── isp-output (MMAP, exported)
//
// Pixel data is never copied. Each capture slot is exported once at setup
// and imported into the ISP input queue at the same index; each ISP output
// slot is exported once and turned into a consumer resource.
//
// # Deferred Release
//
// Every stage holds the buffer it handed downstream for one full tick:
//
//	index = dequeue()
//	if previous exists { release(previous) }
//	previous = index
//
// The first cycle of a freshly configured queue therefore releases nothing.
//
// # Lifecycle
//
//	p := pipeline.New(cfg, opener, resources, logger)
//	report, err := p.Configure() // err is only set for fatal failures
//	_ = p.Start()
//	for {
//	    slot, _ := p.Tick()
//	    present(p.Resource(slot))
//	}
//	_ = p.Stop() // idempotent
//
// A Pipeline is single-threaded: Tick, Configure, Start and Stop must be
// called from the same goroutine.
package pipeline
