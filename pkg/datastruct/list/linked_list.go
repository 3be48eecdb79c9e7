// Package list is a doubly linked list of byte slices. It backs the output's
// pipeline queue and the lists kept by the test server.
package list

type node struct {
	prev  *node
	next  *node
	value []byte
}

type LinkedList struct {
	left  *node
	right *node
	size  int
	bytes int
}

func NewLinkedList(vals ...[]byte) *LinkedList {
	l := &LinkedList{}
	for _, val := range vals {
		l.AddRight(val)
	}
	return l
}

// AddRight appends val and returns the new size.
func (l *LinkedList) AddRight(val []byte) int {
	n := &node{value: val}
	if l.right == nil {
		l.right = n
		l.left = n
	} else {
		n.prev = l.right
		l.right.next = n
		l.right = n
	}
	l.size++
	l.bytes += len(val)
	return l.size
}

// RemoveRight pops the most recently appended value, nil when empty.
func (l *LinkedList) RemoveRight() []byte {
	if l.right == nil {
		return nil
	}
	right := l.right
	if l.left == l.right {
		l.left = nil
		l.right = nil
	} else {
		prev := right.prev
		right.prev = nil
		prev.next = nil
		l.right = prev
	}
	l.size--
	l.bytes -= len(right.value)
	return right.value
}

func (l *LinkedList) Size() int {
	return l.size
}

// Bytes is the summed length of all values.
func (l *LinkedList) Bytes() int {
	return l.bytes
}

func (l *LinkedList) Clear() {
	l.left = nil
	l.right = nil
	l.size = 0
	l.bytes = 0
}

func (l *LinkedList) getNode(idx int) *node {
	if idx >= l.size || idx < 0 {
		return nil
	}
	n := l.left
	for i := 0; i < idx; i++ {
		n = n.next
	}
	return n
}

// LeftRange returns values start..end inclusive. Negative indexes count from the right.
func (l *LinkedList) LeftRange(start, end int) [][]byte {
	if start < 0 {
		start = l.size + start
	}
	if end < 0 {
		end = l.size + end
	}
	if start < 0 {
		start = 0
	}
	if end >= l.size {
		end = l.size - 1
	}
	if start >= l.size || end < start {
		return nil
	}
	n := l.getNode(start)
	result := make([][]byte, end-start+1)
	for i := 0; n != nil && i+start <= end; i++ {
		result[i] = n.value
		n = n.next
	}
	return result
}

func (l *LinkedList) ForEach(fun func(idx int, value []byte) bool) {
	n := l.left
	for i := 0; n != nil; i++ {
		if !fun(i, n.value) {
			break
		}
		n = n.next
	}
}
