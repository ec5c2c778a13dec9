package core

import (
	"bytes"
	"sort"

	"github.com/google/btree"

	"github.com/eth2030/ledgercore/core/types"
)

// Candidate is a call waiting for inclusion together with the validity it
// was ordered by. Seq is the submission sequence number.
type Candidate struct {
	Call     Dispatchable
	Validity Validity
	Seq      uint64
}

// candidateLess is the inclusion order of calls from different origins:
// higher priority first, native calls before self-contained ones on equal
// priority, then lower nonce, then earlier submission.
func candidateLess(a, b *Candidate) bool {
	if a.Validity.Priority != b.Validity.Priority {
		return a.Validity.Priority > b.Validity.Priority
	}
	if an, bn := a.Call.Native(), b.Call.Native(); an != bn {
		return an
	}
	if a.Call.Nonce() != b.Call.Nonce() {
		return a.Call.Nonce() < b.Call.Nonce()
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	ao, bo := a.Call.Origin(), b.Call.Origin()
	if c := bytes.Compare(ao[:], bo[:]); c != 0 {
		return c < 0
	}
	ah, bh := a.Call.Hash(), b.Call.Hash()
	return bytes.Compare(ah[:], bh[:]) < 0
}

// OrderCandidates returns the deterministic inclusion order of cands. Calls
// from one origin always come out in nonce order; across origins the
// current head of each origin competes by candidateLess.
func OrderCandidates(cands []*Candidate) []*Candidate {
	groups := make(map[types.Address][]*Candidate)
	for _, c := range cands {
		origin := c.Call.Origin()
		groups[origin] = append(groups[origin], c)
	}
	heads := btree.NewG[*Candidate](8, candidateLess)
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Call.Nonce() != group[j].Call.Nonce() {
				return group[i].Call.Nonce() < group[j].Call.Nonce()
			}
			return candidateLess(group[i], group[j])
		})
		heads.ReplaceOrInsert(group[0])
	}

	next := make(map[types.Address]int, len(groups))
	ordered := make([]*Candidate, 0, len(cands))
	for heads.Len() > 0 {
		head, _ := heads.DeleteMin()
		ordered = append(ordered, head)

		origin := head.Call.Origin()
		next[origin]++
		if group := groups[origin]; next[origin] < len(group) {
			heads.ReplaceOrInsert(group[next[origin]])
		}
	}
	return ordered
}
