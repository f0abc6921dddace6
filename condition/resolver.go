// Package condition implements the ConditionalEvaluator (spec.md §4.3): a
// purpose-built tokenizer and recursive-descent parser over workflow
// condition expressions, deliberately NOT backed by a general-purpose
// expression engine (cel-go et al. were surveyed in the example pack and
// rejected — see DESIGN.md) or any host-language evaluation primitive. Every
// value a condition compares against is either a literal parsed from the
// condition text itself or a value returned verbatim by a Resolver; neither
// path ever compiles or executes the resolved value as code.
package condition

// Design note: the spec describes pre-resolution as textual substitution of
// `{{...}}` spans into JSON-safe literals before tokenizing. This package
// instead tokenizes `{{...}}` spans as opaque variable-reference tokens and
// resolves them lazily during eval, tracking found/not-found per reference.
// Externally this is equivalent (unresolved → falsy, except exists/
// not_exists which test found-ness directly) while removing textual
// substitution entirely — a resolved value's content, however adversarial,
// never passes back through the tokenizer.
//
// Resolver resolves a `{{...}}` variable path — e.g. "step1.data.count",
// "input.name", "var.retries" — to its current value. execctx.ExecutionContext
// is the production implementation; this interface exists so this package
// never needs to import execctx (which in turn evaluates ExecuteIf
// conditions using this package).
type Resolver interface {
	Resolve(path string) (value interface{}, found bool)
}

// MapResolver is a trivial Resolver backed by a flat map, useful for tests
// and for validating conditions with no live execution context.
type MapResolver map[string]interface{}

func (m MapResolver) Resolve(path string) (interface{}, bool) {
	v, ok := m[path]
	return v, ok
}
