package rules

// acNode internal automaton node
type acNode struct {
	next map[byte]*acNode
	fail *acNode
	out  bool
}

// ahoAutomaton answers "does any literal occur" in one pass over the input.
type ahoAutomaton struct {
	root  *acNode
	count int
}

func buildAho(literals [][]byte) *ahoAutomaton {
	root := &acNode{next: make(map[byte]*acNode)}
	added := 0
	for _, lit := range literals {
		if len(lit) == 0 {
			continue
		}
		added++
		cur := root
		for _, b := range lit {
			nxt, ok := cur.next[b]
			if !ok {
				nxt = &acNode{next: make(map[byte]*acNode)}
				cur.next[b] = nxt
			}
			cur = nxt
		}
		cur.out = true
	}
	// BFS failure links
	queue := make([]*acNode, 0, len(root.next))
	for _, n := range root.next {
		n.fail = root
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for b, nxt := range n.next {
			f := n.fail
			for f != nil && f.next[b] == nil {
				f = f.fail
			}
			if f == nil {
				nxt.fail = root
			} else {
				nxt.fail = f.next[b]
			}
			if nxt.fail.out {
				nxt.out = true
			}
			queue = append(queue, nxt)
		}
	}
	return &ahoAutomaton{root: root, count: added}
}

func (a *ahoAutomaton) matchAny(data []byte) bool {
	if a == nil || a.count == 0 {
		return false
	}
	n := a.root
	for _, b := range data {
		for n != a.root && n.next[b] == nil {
			n = n.fail
		}
		if nxt := n.next[b]; nxt != nil {
			n = nxt
		}
		if n.out {
			return true
		}
	}
	return false
}
