package pipeline

// Resource is a consumer-side object bound to one ISP output slot, such as
// an imported GPU image. It must not outlive the descriptor it was built on.
type Resource interface {
	Release() error
}

// ResourceFactory builds a consumer resource from an exported ISP output
// descriptor. The descriptor is shared: the factory must not close it.
type ResourceFactory interface {
	CreateResource(slot SlotIndex, desc SharedDescriptor, format Format, layout PixelLayout) (Resource, error)
}

// ResourceFactoryFunc adapts a function to ResourceFactory.
type ResourceFactoryFunc func(slot SlotIndex, desc SharedDescriptor, format Format, layout PixelLayout) (Resource, error)

// CreateResource calls f.
func (f ResourceFactoryFunc) CreateResource(slot SlotIndex, desc SharedDescriptor, format Format, layout PixelLayout) (Resource, error) {
	return f(slot, desc, format, layout)
}
