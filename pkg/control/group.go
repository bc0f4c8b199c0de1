// SPDX-License-Identifier: BSD-3-Clause

package control

// PropertyKey identifies a single cached bus property.
type PropertyKey struct {
	Path      string
	Interface string
	Property  string
}

// Group names a set of properties that an Action reads as one unit (e.g.
// "every CPU temperature sensor's Value").
type Group struct {
	Name    string
	Members []PropertyKey
}
