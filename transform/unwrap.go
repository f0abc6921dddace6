// Package transform implements the DataOperations and Transform Engine
// (spec.md §4.4): a fixed library of array/object operations every `transform`
// step dispatches through. Grounded on the rest of the example pack's use of
// samber/lo for exactly this kind of map/filter/group/dedupe collection work
// (no repo in the pack hand-rolls these primitives from scratch).
package transform

// unwrapPriority is the ordered list of object keys probed for an array
// payload before falling back to treating the input as already-an-array or
// not-an-array at all (spec.md §4.4 "Duck-typed upstream outputs → explicit
// unwrap").
var unwrapPriority = []string{
	"items", "filtered", "deduplicated", "groups", "values", "records", "emails", "files", "rows",
}

// Unwrap extracts the array payload a transform should operate on,
// regardless of which upstream operation produced it. Returns the array and
// true if one was found; otherwise returns nil and false. `set`/`format`/
// `expand` read the raw input rather than this result, so they are
// unaffected.
func Unwrap(input interface{}) ([]interface{}, bool) {
	if arr, ok := input.([]interface{}); ok {
		return arr, true
	}
	obj, ok := input.(map[string]interface{})
	if !ok {
		return nil, false
	}
	for _, key := range unwrapPriority {
		if v, ok := obj[key]; ok {
			if arr, ok := v.([]interface{}); ok {
				return arr, true
			}
		}
	}
	return nil, false
}
