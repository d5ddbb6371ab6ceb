package skl

// Cursor is a forward/backward iterator over a SkipList. It holds a
// reference on the skiplist for its lifetime; callers must call Close
// exactly once. A Cursor must not be used after the skiplist it was created
// from has had Close called on every outstanding reference.
type Cursor struct {
	list *SkipList
	n    *node
}

// Valid reports whether the cursor is positioned at an entry.
func (c *Cursor) Valid() bool {
	return c.n != nil
}

// Key returns the key at the cursor's current position. Valid must be true.
func (c *Cursor) Key() []byte {
	return c.n.key(c.list.arena)
}

// Value returns the value at the cursor's current position. Valid must be true.
func (c *Cursor) Value() Value {
	return c.n.getValue(c.list.arena)
}

// First positions the cursor at the first entry in the skiplist.
func (c *Cursor) First() bool {
	c.n = c.list.getNext(c.list.head, 0)
	return c.Valid()
}

// Last positions the cursor at the last entry in the skiplist.
func (c *Cursor) Last() bool {
	c.n = c.list.findLast()
	return c.Valid()
}

// Seek positions the cursor at the first entry with key >= target.
func (c *Cursor) Seek(target []byte) bool {
	c.n, _ = c.list.findNear(target, false, true)
	return c.Valid()
}

// SeekForPrev positions the cursor at the last entry with key <= target.
func (c *Cursor) SeekForPrev(target []byte) bool {
	c.n, _ = c.list.findNear(target, true, true)
	return c.Valid()
}

// Next advances the cursor to the next entry. Valid must be true beforehand.
func (c *Cursor) Next() bool {
	c.n = c.list.getNext(c.n, 0)
	return c.Valid()
}

// Prev moves the cursor to the previous entry. This is O(log N), not O(1):
// it re-runs a find_near search for the node strictly less than the current
// key rather than following a back-pointer, since the node layout carries no
// reverse links.
func (c *Cursor) Prev() bool {
	c.n, _ = c.list.findNear(c.Key(), true, false)
	return c.Valid()
}

// Close releases the cursor's reference on the owning skiplist. A Cursor
// must not be used after Close.
func (c *Cursor) Close() error {
	c.list.DecRef()
	c.list = nil
	c.n = nil
	return nil
}
