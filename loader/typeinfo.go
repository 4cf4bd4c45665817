package loader

// Attribute descriptor tables drive attribute write-back at program exit.
// The tree is produced at load time and read-only to the core: type
// descriptors, each naming its live objects and the attributes worth
// persisting. Traversal is by index, never by address arithmetic.

// Attr describes one persistable attribute of a type.
type Attr struct {
	Index int    // position within Object.Fields
	Tag   string // RPC type tag; empty disables write-back for this attribute
	Name  string
}

// Object is one live instance. Fields holds the current attribute values;
// the program mutates them through the shared pointer during the run.
type Object struct {
	ID     int32
	Fields []any
}

// TypeDesc groups the attributes and live objects of one type.
type TypeDesc struct {
	Attrs   []Attr
	Objects []*Object
}
