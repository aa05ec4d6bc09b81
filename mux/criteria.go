// Copyright 2026 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package mux

import (
	"mellium.im/xclient/stanza"
)

// Criteria is a predicate over stanzas.
type Criteria interface {
	Match(st *stanza.Stanza) bool
}

// The CriteriaFunc type is an adapter to allow the use of ordinary functions as
// criteria.
type CriteriaFunc func(st *stanza.Stanza) bool

// Match calls f(st).
func (f CriteriaFunc) Match(st *stanza.Stanza) bool {
	return f(st)
}

// Name matches the top level element by XML name.
// If either the namespace or the localname is left empty, any namespace or
// localname will be matched.
func Name(space, local string) Criteria {
	return CriteriaFunc(func(st *stanza.Stanza) bool {
		return (space == "" || st.Namespace() == space) &&
			(local == "" || st.Name() == local)
	})
}

// Namespace matches top level elements in the given namespace.
func Namespace(space string) Criteria {
	return Name(space, "")
}

// Child matches stanzas with at least one payload element with a matching
// name.
// As with Name, empty values act as wildcards.
func Child(space, local string) Criteria {
	return CriteriaFunc(func(st *stanza.Stanza) bool {
		return st.Child(space, local) != nil
	})
}

// Types matches stanzas whose type attribute is one of types.
func Types(types ...stanza.Type) Criteria {
	return CriteriaFunc(func(st *stanza.Stanza) bool {
		typ := st.Type()
		for _, t := range types {
			if t == typ {
				return true
			}
		}
		return false
	})
}

// And matches if all of c match.
// And with no arguments matches everything.
func And(c ...Criteria) Criteria {
	return CriteriaFunc(func(st *stanza.Stanza) bool {
		for _, crit := range c {
			if !crit.Match(st) {
				return false
			}
		}
		return true
	})
}

// Or matches if any of c match.
// Or with no arguments matches nothing.
func Or(c ...Criteria) Criteria {
	return CriteriaFunc(func(st *stanza.Stanza) bool {
		for _, crit := range c {
			if crit.Match(st) {
				return true
			}
		}
		return false
	})
}
