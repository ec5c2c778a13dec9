package core

import (
	"crypto/ecdsa"
	"math/rand"
	"testing"

	"github.com/eth2030/ledgercore/core/types"
)

func orderOf(cands []*Candidate) []Dispatchable {
	out := make([]Dispatchable, len(cands))
	for i, c := range OrderCandidates(cands) {
		out[i] = c.Call
	}
	return out
}

func TestOrderSameOriginByNonce(t *testing.T) {
	n0 := legacyCall(t, keyA, 0, 21000, 10, &recipient, 0, nil)
	n1 := legacyCall(t, keyA, 1, 21000, 50, &recipient, 0, nil)
	n2 := legacyCall(t, keyA, 2, 21000, 90, &recipient, 0, nil)

	// Later nonces carry higher priority and arrive first, yet must follow
	// their predecessors.
	got := orderOf([]*Candidate{
		{Call: n2, Validity: Validity{Priority: 90}, Seq: 0},
		{Call: n1, Validity: Validity{Priority: 50}, Seq: 1},
		{Call: n0, Validity: Validity{Priority: 10}, Seq: 2},
	})
	for i, want := range []Dispatchable{n0, n1, n2} {
		if got[i] != want {
			t.Fatalf("position %d: got nonce %d, want %d", i, got[i].Nonce(), want.Nonce())
		}
	}
}

func TestOrderAcrossOrigins(t *testing.T) {
	a0 := legacyCall(t, keyA, 0, 21000, 10, &recipient, 0, nil)
	a1 := legacyCall(t, keyA, 1, 21000, 10, &recipient, 0, nil)
	b0 := legacyCall(t, keyB, 0, 21000, 20, &recipient, 0, nil)
	c0 := nativeTransfer(t, keyC, 0, 0, recipient, 1)

	got := orderOf([]*Candidate{
		{Call: a0, Validity: Validity{Priority: 5}, Seq: 0},
		{Call: a1, Validity: Validity{Priority: 30}, Seq: 1},
		{Call: b0, Validity: Validity{Priority: 20}, Seq: 2},
		{Call: c0, Validity: Validity{Priority: 5}, Seq: 3},
	})
	// b0 leads on priority. a0 and c0 tie and the native call wins. a1 is
	// unlocked once a0 is out.
	want := []Dispatchable{b0, c0, a0, a1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s/%d, want %s/%d", i, got[i].Origin(), got[i].Nonce(), want[i].Origin(), want[i].Nonce())
		}
	}
}

func TestOrderTieBreakSubmission(t *testing.T) {
	a := legacyCall(t, keyA, 0, 21000, 10, &recipient, 0, nil)
	b := legacyCall(t, keyB, 0, 21000, 10, &recipient, 0, nil)
	got := orderOf([]*Candidate{
		{Call: b, Validity: Validity{Priority: 7}, Seq: 4},
		{Call: a, Validity: Validity{Priority: 7}, Seq: 9},
	})
	if got[0] != b {
		t.Fatal("earlier submission did not win the tie")
	}
}

func TestOrderDeterministic(t *testing.T) {
	var cands []*Candidate
	for i, key := range []*ecdsa.PrivateKey{keyA, keyB, keyC} {
		for nonce := uint64(0); nonce < 4; nonce++ {
			call := legacyCall(t, key, nonce, 21000, 10, &recipient, 0, nil)
			prio := uint64((i*7 + int(nonce)*3) % 5)
			cands = append(cands, &Candidate{Call: call, Validity: Validity{Priority: prio}, Seq: uint64(len(cands))})
		}
	}
	want := orderOf(cands)

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 20; round++ {
		shuffled := append([]*Candidate(nil), cands...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := orderOf(shuffled)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("round %d: order differs at %d", round, i)
			}
		}
		last := make(map[types.Address]uint64)
		for _, c := range got {
			if n, ok := last[c.Origin()]; ok && c.Nonce() != n+1 {
				t.Fatalf("origin %s: nonce %d after %d", c.Origin(), c.Nonce(), n)
			}
			last[c.Origin()] = c.Nonce()
		}
	}
}
