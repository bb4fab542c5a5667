package heap

// Destroyable is implemented by heap objects that own resources outside the
// heap — a compiled regular expression's backing automaton, an open file
// descriptor kept alive by a value. Destroy runs exactly once, when the
// object is found to be no longer reachable after a collection.
type Destroyable interface {
	Destroy()
}

type destroyableEntry struct {
	addr Address
	d    Destroyable
	next *destroyableEntry
}

// destroyableChain threads a singly-linked list through every live
// Destroyable. After a collection it is rebuilt: entries whose old address
// was relocated survive at their new address; entries that were not moved
// were unreachable, so their destructor runs.
type destroyableChain struct {
	head *destroyableEntry
}

func newDestroyableChain() *destroyableChain { return &destroyableChain{} }

func (c *destroyableChain) add(addr Address, d Destroyable) {
	c.head = &destroyableEntry{addr: addr, d: d, next: c.head}
}

// relink walks the chain after a GC that moved objects out of the just-
// collected space. forwarded maps every address that survived the copy to
// its new location; an entry absent from forwarded was unreachable, so its
// destructor runs.
func (c *destroyableChain) relink(forwarded map[Address]Address) {
	var head *destroyableEntry
	for e := c.head; e != nil; e = e.next {
		if newAddr, ok := forwarded[e.addr]; ok {
			head = &destroyableEntry{addr: newAddr, d: e.d, next: head}
		} else {
			e.d.Destroy()
		}
	}
	c.head = head
}
