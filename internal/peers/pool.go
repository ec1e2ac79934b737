// Package peers maintains the universe of candidate peer addresses and
// exposes a bounded, ordered sequence of fixed-size peer groups. Groups
// are built once per session; the supervisor consumes them round-robin,
// rotating on stalls until the pool is exhausted.
package peers

import (
	"errors"
	"fmt"
)

// ErrExhausted is reported once every configured peer group has been
// consumed. The supervisor stops retrying when it sees this.
var ErrExhausted = errors.New("peer groups exhausted")

// Group is an ordered set of peer addresses tried together.
type Group struct {
	Index     int
	Addresses []string
}

func (g Group) String() string {
	return fmt.Sprintf("group %d %v", g.Index, g.Addresses)
}

// Pool holds the full ordered group list for a session. It has no
// mutable state and is safe to rebuild at any time, e.g. on a network
// switch.
type Pool struct {
	groups []Group
}

// NewPool partitions the address list into maxGroups groups of
// groupSize, preserving discovery order so the most likely-healthy
// peers are tried first. When the list is shorter than
// maxGroups*groupSize the selection wraps around, so later groups
// retry earlier addresses in shifted combinations.
func NewPool(addresses []string, groupSize, maxGroups int) (*Pool, error) {
	if len(addresses) == 0 {
		return nil, errors.New("no peer addresses available")
	}
	if groupSize <= 0 || maxGroups <= 0 {
		return nil, errors.New("group size and max groups must be positive")
	}

	groups := make([]Group, 0, maxGroups)
	for index := 0; index < maxGroups; index++ {
		start := (index * groupSize) % len(addresses)
		group := Group{Index: index}
		for i := 0; i < groupSize && i < len(addresses); i++ {
			group.Addresses = append(group.Addresses, addresses[(start+i)%len(addresses)])
		}
		groups = append(groups, group)
	}
	return &Pool{groups: groups}, nil
}

// Group returns the peer group at the given rotation index, or
// ErrExhausted once the index exceeds the configured maximum.
func (p *Pool) Group(index int) (Group, error) {
	if index < 0 || index >= len(p.groups) {
		return Group{}, ErrExhausted
	}
	return p.groups[index], nil
}

// Len returns the number of groups the pool will hand out.
func (p *Pool) Len() int {
	return len(p.groups)
}
