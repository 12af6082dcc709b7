package graph

import "github.com/vk/symsteer/internal/program"

// CallResolver proposes the possible targets of a call site that has no
// statically known callee. Implementations may be as precise as they like;
// the call graph only requires the result to be deterministic.
type CallResolver interface {
	Resolve(site *program.Instruction, candidates []*program.Function) []*program.Function
}

// SignatureResolver matches a candidate when its arity and parameter types
// equal the argument types of the call site.
type SignatureResolver struct{}

// Resolve implements CallResolver.
func (SignatureResolver) Resolve(site *program.Instruction, candidates []*program.Function) []*program.Function {
	var out []*program.Function
	for _, f := range candidates {
		if sameTypes(f.Params, site.ArgTypes) {
			out = append(out, f)
		}
	}
	return out
}

func sameTypes(params, args []string) bool {
	if len(params) != len(args) {
		return false
	}
	for i := range params {
		if params[i] != args[i] {
			return false
		}
	}
	return true
}

// ResolverFunc adapts a function to the CallResolver interface.
type ResolverFunc func(site *program.Instruction, candidates []*program.Function) []*program.Function

// Resolve implements CallResolver.
func (f ResolverFunc) Resolve(site *program.Instruction, candidates []*program.Function) []*program.Function {
	return f(site, candidates)
}
