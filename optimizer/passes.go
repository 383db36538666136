package optimizer

import covenant "github.com/Cyronius/covenant"

// deadCodePass will remove unreachable steps and warn about unused
// bindings. Not implemented yet; it reports the body unmodified.
type deadCodePass struct{}

func (p *deadCodePass) Name() string { return "dead-code" }

func (p *deadCodePass) Run(_ []*covenant.Step, _ *OptSettings) PassResult {
	// TODO: flag steps after an unconditional return and bindings that
	// are written but never read, preserving effectful steps.
	return PassResult{}
}

// constantFoldPass will evaluate constant compute steps at compile time.
// Not implemented yet; it reports the body unmodified.
type constantFoldPass struct{}

func (p *constantFoldPass) Name() string { return "constant-fold" }

func (p *constantFoldPass) Run(_ []*covenant.Step, _ *OptSettings) PassResult {
	// TODO: fold compute steps whose inputs are all literals, leaving
	// anything touching a variable untouched.
	return PassResult{}
}
