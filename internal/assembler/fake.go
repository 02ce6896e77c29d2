package assembler

import "context"

// Fake is an in-memory Assembler used by unit tests of Patch, Module, and
// the cleanup ledger, so they can exercise the insertion protocol without
// an external binary.
type Fake struct {
	// Handler computes the result for each Assemble call. Tests set this
	// to control written blocks, labels, and the resulting ROM bytes.
	Handler func(req Request) (*Result, error)
	Calls   []Request
}

func (f *Fake) Assemble(ctx context.Context, req Request) (*Result, error) {
	f.Calls = append(f.Calls, req)
	if f.Handler != nil {
		return f.Handler(req)
	}
	return &Result{ROM: req.ROM}, nil
}
