package store

import (
	"fmt"
	"sort"
	"strings"
)

// Path addresses a nested attribute inside a record, e.g. commits[2].id.
type Path struct {
	segs []pathSeg
}

type pathSeg struct {
	name  string
	pos   int
	isPos bool
}

// NewPath starts a path at a top-level attribute.
func NewPath(name string) Path {
	return Path{segs: []pathSeg{{name: name}}}
}

// Name extends the path with a named attribute.
func (p Path) Name(name string) Path {
	segs := make([]pathSeg, len(p.segs), len(p.segs)+1)
	copy(segs, p.segs)
	return Path{segs: append(segs, pathSeg{name: name})}
}

// Position extends the path with a list index.
func (p Path) Position(i int) Path {
	segs := make([]pathSeg, len(p.segs), len(p.segs)+1)
	copy(segs, p.segs)
	return Path{segs: append(segs, pathSeg{pos: i, isPos: true})}
}

// String renders the path in attribute notation.
func (p Path) String() string {
	var sb strings.Builder
	for i, s := range p.segs {
		if s.isPos {
			fmt.Fprintf(&sb, "[%d]", s.pos)
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.name)
	}
	return sb.String()
}

// SetClause assigns a value at a path. Setting a list index equal to the
// list's current length appends.
type SetClause struct {
	Path  Path
	Value Entity
}

// RemoveClause removes the attribute or list element at a path.
type RemoveClause struct {
	Path Path
}

// UpdateExpression is a conjunction of set and remove clauses, applied
// atomically against the record as loaded.
type UpdateExpression struct {
	sets    []SetClause
	removes []RemoveClause
}

// AndSet adds a set clause.
func (u UpdateExpression) AndSet(p Path, v Entity) UpdateExpression {
	u.sets = append(append([]SetClause(nil), u.sets...), SetClause{Path: p, Value: v})
	return u
}

// AndRemove adds a remove clause.
func (u UpdateExpression) AndRemove(p Path) UpdateExpression {
	u.removes = append(append([]RemoveClause(nil), u.removes...), RemoveClause{Path: p})
	return u
}

// ConditionExpression is a conjunction of equality and size predicates. An
// update guarded by a condition applies only if every predicate holds.
type ConditionExpression struct {
	equals []equalsClause
	sizes  []sizeClause
}

type equalsClause struct {
	path  Path
	value Entity
}

type sizeClause struct {
	path Path
	size int
}

// AndEquals adds an equality predicate.
func (c ConditionExpression) AndEquals(p Path, v Entity) ConditionExpression {
	c.equals = append(append([]equalsClause(nil), c.equals...), equalsClause{path: p, value: v})
	return c
}

// AndSizeEquals adds a predicate on the length of a list attribute.
func (c ConditionExpression) AndSizeEquals(p Path, size int) ConditionExpression {
	c.sizes = append(append([]sizeClause(nil), c.sizes...), sizeClause{path: p, size: size})
	return c
}

// Check evaluates the condition against a record. A missing attribute fails
// the predicate rather than erroring.
func (c ConditionExpression) Check(root Entity) bool {
	for _, eq := range c.equals {
		got, ok := resolve(root, eq.path.segs)
		if !ok || !got.Equals(eq.value) {
			return false
		}
	}
	for _, sz := range c.sizes {
		got, ok := resolve(root, sz.path.segs)
		if !ok {
			return false
		}
		list, ok := got.AsList()
		if !ok || len(list) != sz.size {
			return false
		}
	}
	return true
}

func resolve(e Entity, segs []pathSeg) (Entity, bool) {
	cur := e
	for _, s := range segs {
		if s.isPos {
			list, ok := cur.AsList()
			if !ok || s.pos < 0 || s.pos >= len(list) {
				return Entity{}, false
			}
			cur = list[s.pos]
			continue
		}
		next, ok := cur.Attr(s.name)
		if !ok {
			return Entity{}, false
		}
		cur = next
	}
	return cur, true
}

// Apply evaluates the update against a record and returns the new record.
// Set clauses see the record as loaded; list-position removes are applied
// together afterwards so their indices all refer to the original list.
func (u UpdateExpression) Apply(root Entity) (Entity, error) {
	out := root
	var err error
	for _, s := range u.sets {
		out, err = applySet(out, s.Path.segs, s.Value)
		if err != nil {
			return Entity{}, fmt.Errorf("set %s: %w", s.Path, err)
		}
	}

	// Group list-element removes by parent so a batch of positions is
	// deleted against the original indices.
	type listRemoval struct {
		parent []pathSeg
		pos    []int
	}
	byParent := map[string]*listRemoval{}
	var order []string
	for _, rm := range u.removes {
		segs := rm.Path.segs
		last := segs[len(segs)-1]
		if !last.isPos {
			out, err = applyRemoveName(out, segs)
			if err != nil {
				return Entity{}, fmt.Errorf("remove %s: %w", rm.Path, err)
			}
			continue
		}
		parent := segs[:len(segs)-1]
		key := Path{segs: parent}.String()
		lr, ok := byParent[key]
		if !ok {
			lr = &listRemoval{parent: parent}
			byParent[key] = lr
			order = append(order, key)
		}
		lr.pos = append(lr.pos, last.pos)
	}
	for _, key := range order {
		lr := byParent[key]
		sort.Sort(sort.Reverse(sort.IntSlice(lr.pos)))
		for _, pos := range lr.pos {
			out, err = applyRemovePos(out, lr.parent, pos)
			if err != nil {
				return Entity{}, fmt.Errorf("remove %s[%d]: %w", key, pos, err)
			}
		}
	}
	return out, nil
}

func applySet(e Entity, segs []pathSeg, val Entity) (Entity, error) {
	if len(segs) == 0 {
		return val, nil
	}
	s := segs[0]
	if s.isPos {
		list, ok := e.AsList()
		if !ok {
			return Entity{}, fmt.Errorf("not a list")
		}
		if s.pos == len(list) && len(segs) == 1 {
			return OfList(append(list, val)...), nil
		}
		if s.pos < 0 || s.pos >= len(list) {
			return Entity{}, fmt.Errorf("position %d out of range 0..%d", s.pos, len(list)-1)
		}
		child, err := applySet(list[s.pos], segs[1:], val)
		if err != nil {
			return Entity{}, err
		}
		list[s.pos] = child
		return OfList(list...), nil
	}
	m, ok := e.AsMap()
	if !ok {
		return Entity{}, fmt.Errorf("not a map")
	}
	if len(segs) == 1 {
		m[s.name] = val
		return OfMap(m), nil
	}
	child, ok := m[s.name]
	if !ok {
		return Entity{}, fmt.Errorf("attribute %q not present", s.name)
	}
	nc, err := applySet(child, segs[1:], val)
	if err != nil {
		return Entity{}, err
	}
	m[s.name] = nc
	return OfMap(m), nil
}

func applyRemoveName(e Entity, segs []pathSeg) (Entity, error) {
	last := segs[len(segs)-1]
	parent, ok := resolve(e, segs[:len(segs)-1])
	if !ok {
		return Entity{}, fmt.Errorf("parent not present")
	}
	m, ok := parent.AsMap()
	if !ok {
		return Entity{}, fmt.Errorf("parent is not a map")
	}
	delete(m, last.name)
	return applySet(e, segs[:len(segs)-1], OfMap(m))
}

func applyRemovePos(e Entity, parent []pathSeg, pos int) (Entity, error) {
	p, ok := resolve(e, parent)
	if !ok {
		return Entity{}, fmt.Errorf("parent not present")
	}
	list, ok := p.AsList()
	if !ok {
		return Entity{}, fmt.Errorf("parent is not a list")
	}
	if pos < 0 || pos >= len(list) {
		return Entity{}, fmt.Errorf("position %d out of range 0..%d", pos, len(list)-1)
	}
	list = append(list[:pos], list[pos+1:]...)
	return applySet(e, parent, OfList(list...))
}
