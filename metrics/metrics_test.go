package metrics

import "testing"

func TestNamesRegistered(t *testing.T) {
	names := Names()
	want := map[string]bool{
		"ledgercore/pipeline/height": false,
		"ledgercore/fee/basefee":     false,
		"ledgercore/txpool/pending":  false,
		"ledgercore/mapping/synced":  false,
	}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Errorf("metric %q not registered", n)
		}
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatal("names not sorted")
		}
	}
}
