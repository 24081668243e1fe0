// Package orderedindex provides an ordered set keyed by (timestamp, sequence)
// with O(log n) insert, delete and rank.
package orderedindex

import (
	"math/rand"
)

const (
	maxLevel    = 32
	probability = 0.25
)

// Key orders entries by arrival time, ties broken by a monotonic sequence.
type Key struct {
	At  int64
	Seq int64
}

// Less reports whether k sorts before o.
func (k Key) Less(o Key) bool {
	if k.At != o.At {
		return k.At < o.At
	}
	return k.Seq < o.Seq
}

type node struct {
	key    Key
	member string
	next   []*node
	// span[i] is the number of bottom-level hops covered by next[i].
	span []int
}

// SkipList is an indexable skip list. It is not safe for concurrent use.
type SkipList struct {
	head   *node
	level  int
	length int
	rnd    *rand.Rand
}

// New returns an empty skip list.
func New() *SkipList {
	return &SkipList{
		head:  &node{next: make([]*node, maxLevel), span: make([]int, maxLevel)},
		level: 1,
		rnd:   rand.New(rand.NewSource(1)),
	}
}

// Len returns the number of members.
func (s *SkipList) Len() int {
	return s.length
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rnd.Float64() < probability {
		lvl++
	}
	return lvl
}

// Insert adds member under key. Keys must be unique.
func (s *SkipList) Insert(key Key, member string) {
	var update [maxLevel]*node
	var rank [maxLevel]int

	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		if i < s.level-1 {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && x.next[i].key.Less(key) {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	lvl := s.randomLevel()
	if lvl > s.level {
		for i := s.level; i < lvl; i++ {
			rank[i] = 0
			update[i] = s.head
			update[i].span[i] = s.length
		}
		s.level = lvl
	}

	n := &node{key: key, member: member, next: make([]*node, lvl), span: make([]int, lvl)}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.level; i++ {
		update[i].span[i]++
	}
	s.length++
}

// Delete removes the member stored under key. It reports whether it existed.
func (s *SkipList) Delete(key Key) bool {
	var update [maxLevel]*node

	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		for x.next[i] != nil && x.next[i].key.Less(key) {
			x = x.next[i]
		}
		update[i] = x
	}

	target := x.next[0]
	if target == nil || target.key != key {
		return false
	}

	for i := 0; i < s.level; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for s.level > 1 && s.head.next[s.level-1] == nil {
		s.level--
	}
	s.length--
	return true
}

// Rank returns the number of members strictly before key, or -1 if key is absent.
func (s *SkipList) Rank(key Key) int {
	rank := 0
	x := s.head
	for i := s.level - 1; i >= 0; i-- {
		for x.next[i] != nil && (x.next[i].key.Less(key) || x.next[i].key == key) {
			rank += x.span[i]
			x = x.next[i]
		}
		if x != s.head && x.key == key {
			return rank - 1
		}
	}
	return -1
}

// Ascend calls fn for each member in order until fn returns false.
func (s *SkipList) Ascend(fn func(key Key, member string) bool) {
	for x := s.head.next[0]; x != nil; x = x.next[0] {
		if !fn(x.key, x.member) {
			return
		}
	}
}
