package imageop

import (
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// Descriptor describes a single pipeline stage in a configuration file.
//
//	pipeline:
//	  - name: invert
//	    kind: tile
//	  - name: clamp
//	    kind: frame
//	    params: {min: 0, max: 1}
type Descriptor struct {
	Name   string             `yaml:"name"`
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// Get a parameter value or def if the parameter is not present.
func (d Descriptor) Param(name string, def float64) float64 {
	if v, ok := d.Params[name]; ok {
		return v
	}
	return def
}

// A factory creates an operation from its descriptor.
type Factory func(d Descriptor) (Operation, error)

type registration struct {
	kind    Kind
	factory Factory
}

// Registry maps operation names to factories. Each name is bound to a kind
// at registration time.
type Registry struct {
	ops map[string]registration
}

// Create an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]registration)}
}

// Register a factory for the given operation name and kind.
func (r *Registry) Register(name string, kind Kind, factory Factory) {
	r.ops[name] = registration{kind: kind, factory: factory}
}

// Get the registered operation names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get the kind bound to a registered operation.
func (r *Registry) Kind(name string) (Kind, bool) {
	reg, ok := r.ops[name]
	return reg.kind, ok
}

// Assemble a pipeline from an ordered descriptor list. The whole list is
// validated before the pipeline is returned.
func (r *Registry) Build(descriptors []Descriptor) (*Pipeline, error) {
	b := NewBuilder()
	for index, d := range descriptors {
		reg, ok := r.ops[d.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (stage %d)", ErrUnknownOperation, d.Name, index)
		}

		kind := reg.kind
		if d.Kind != "" {
			declared, err := ParseKind(d.Kind)
			if err != nil {
				return nil, fmt.Errorf("stage %d: %w", index, err)
			}
			if declared != reg.kind {
				return nil, fmt.Errorf("%w: %q is a %s operation; declared as %s (stage %d)", ErrKindMismatch, d.Name, reg.kind, declared, index)
			}
			kind = declared
		}

		op, err := reg.factory(d)
		if err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", index, d.Name, err)
		}
		b.Add(kind, op)
	}
	return b.Build()
}

// Decode a YAML descriptor list and assemble a pipeline from it.
func (r *Registry) Decode(in io.Reader) (*Pipeline, []Descriptor, error) {
	var doc struct {
		Pipeline []Descriptor `yaml:"pipeline"`
	}
	if err := yaml.NewDecoder(in).Decode(&doc); err != nil && err != io.EOF {
		return nil, nil, fmt.Errorf("imageop: could not decode pipeline: %w", err)
	}

	p, err := r.Build(doc.Pipeline)
	if err != nil {
		return nil, nil, err
	}
	return p, doc.Pipeline, nil
}

// Create a registry with all built-in operations.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("invert", TileKind, func(Descriptor) (Operation, error) {
		return Invert{}, nil
	})
	r.Register("exposure", TileKind, func(d Descriptor) (Operation, error) {
		return Exposure{Scale: float32(d.Param("scale", 1))}, nil
	})
	r.Register("clamp", FrameKind, func(d Descriptor) (Operation, error) {
		op := Clamp{Min: float32(d.Param("min", 0)), Max: float32(d.Param("max", 1))}
		if op.Min > op.Max {
			return nil, fmt.Errorf("%w: min %f > max %f", ErrInvalidParam, op.Min, op.Max)
		}
		return op, nil
	})
	r.Register("tonemap-reinhard", FrameKind, func(d Descriptor) (Operation, error) {
		op := TonemapReinhard{Exposure: float32(d.Param("exposure", 1))}
		if op.Exposure <= 0 {
			return nil, fmt.Errorf("%w: exposure must be positive", ErrInvalidParam)
		}
		return op, nil
	})
	r.Register("gamma", FrameKind, func(d Descriptor) (Operation, error) {
		op := Gamma{Gamma: float32(d.Param("gamma", 2.2))}
		if op.Gamma <= 0 {
			return nil, fmt.Errorf("%w: gamma must be positive", ErrInvalidParam)
		}
		return op, nil
	})
	r.Register("temporal-blend", FrameKind, func(d Descriptor) (Operation, error) {
		alpha := d.Param("alpha", 0.5)
		if alpha < 0 || alpha > 1 {
			return nil, fmt.Errorf("%w: alpha must be in [0, 1]", ErrInvalidParam)
		}
		return &TemporalBlend{Alpha: float32(alpha)}, nil
	})
	return r
}
