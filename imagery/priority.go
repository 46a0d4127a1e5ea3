package imagery

import (
	"cmp"
	"reflect"
)

// Comparator orders request priorities. Compare returns a positive value
// when a outranks b.
//
// Priorities are only ordered between requests that carry the same
// comparator, compared with ==. Comparators should therefore be comparable
// values such as pointers or small structs.
type Comparator interface {
	Compare(a, b any) int
}

// Ordered compares priorities of type T in their natural order; a larger
// value is a higher priority. Values of other types compare as T's zero.
type Ordered[T cmp.Ordered] struct{}

// Compare implements Comparator.
func (Ordered[T]) Compare(a, b any) int {
	x, _ := a.(T)
	y, _ := b.(T)
	return cmp.Compare(x, y)
}

// Request carries the parameters of a RequestImageData call.
type Request struct {
	// Comparator and Priority place the request relative to one already
	// in flight. A nil comparator never pre-empts and is never pre-empted.
	Comparator Comparator
	Priority   any

	// Executor runs the fetch. Nil runs it on a new goroutine.
	Executor Executor

	// Budget bounds how long the caller waits for the result.
	// The zero budget does not wait at all.
	Budget TimeBudget
}

// outranks reports whether a request with comparator c and priority p
// should pre-empt the in-flight task t. Ties keep t.
func outranks(c Comparator, p any, t *task) bool {
	if !sameComparator(c, t.comparator) {
		return false
	}
	return c.Compare(p, t.priority) > 0
}

func sameComparator(a, b Comparator) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
