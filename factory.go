package procbox

import "fmt"

// ProcessFactory builds a Process from spec
func ProcessFactory(id int, spec Spec, opts ...ProcessOption) (*Process, error) {
	if spec.Exec == "" {
		return nil, fmt.Errorf("%w: missing exec", ErrConfig)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	p := NewProcess(spec.Exec, spec.Args, spec.Config, append([]ProcessOption{WithName(spec.Name)}, opts...)...)
	p.ID = id
	return p, nil
}

// ServiceFactory builds a Service from spec. The exec may be empty, in
// which case Start fails.
func ServiceFactory(id int, spec Spec, opts ...ProcessOption) (*Service, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	s := NewService(spec, opts...)
	s.ID = id
	return s, nil
}

// NewProcessPool creates a pool of processes
func NewProcessPool(opts ...PoolOption) *ProcessPool {
	return NewPool[*Process](ProcessFactory, opts...)
}

// NewServicePool creates a pool of services
func NewServicePool(opts ...PoolOption) *ServicePool {
	return NewPool[*Service](ServiceFactory, opts...)
}
