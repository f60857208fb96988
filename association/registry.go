package association

import (
	"fmt"
	"sort"

	dicomerrors "github.com/caio-sobreiro/dicomul/errors"
)

// PresentationContext is one accepted (abstract syntax, transfer syntax) pair.
type PresentationContext struct {
	ID             byte
	AbstractSyntax string
	TransferSyntax string
}

// Registry maps negotiated context ids to their syntaxes. It is built once when
// an association is established and never modified, so it can be shared freely.
type Registry struct {
	byID    map[byte]PresentationContext
	ordered []PresentationContext
}

// NewRegistry builds a registry from accepted contexts. Ids must be unique.
func NewRegistry(contexts []PresentationContext) (*Registry, error) {
	r := &Registry{byID: make(map[byte]PresentationContext, len(contexts))}
	for _, pc := range contexts {
		if _, dup := r.byID[pc.ID]; dup {
			return nil, fmt.Errorf("duplicate presentation context id %d", pc.ID)
		}
		if pc.TransferSyntax == "" {
			return nil, fmt.Errorf("presentation context %d has no transfer syntax", pc.ID)
		}
		r.byID[pc.ID] = pc
		r.ordered = append(r.ordered, pc)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].ID < r.ordered[j].ID })
	return r, nil
}

// ResolveID returns the lowest context id negotiated for abstractSyntax.
func (r *Registry) ResolveID(abstractSyntax string) (byte, error) {
	for _, pc := range r.ordered {
		if pc.AbstractSyntax == abstractSyntax {
			return pc.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", dicomerrors.ErrNotNegotiated, abstractSyntax)
}

// ResolveIDFor returns the context id negotiated for the exact pair.
func (r *Registry) ResolveIDFor(abstractSyntax, transferSyntax string) (byte, error) {
	for _, pc := range r.ordered {
		if pc.AbstractSyntax == abstractSyntax && pc.TransferSyntax == transferSyntax {
			return pc.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s with %s", dicomerrors.ErrNotNegotiated, abstractSyntax, transferSyntax)
}

// Resolve looks a context up by id.
func (r *Registry) Resolve(id byte) (PresentationContext, error) {
	pc, ok := r.byID[id]
	if !ok {
		return PresentationContext{}, &dicomerrors.UnknownPresentationContextError{ContextID: id}
	}
	return pc, nil
}

// Len returns the number of accepted contexts.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Contexts returns a copy of the accepted contexts in ascending id order.
func (r *Registry) Contexts() []PresentationContext {
	out := make([]PresentationContext, len(r.ordered))
	copy(out, r.ordered)
	return out
}
