package pgo

import "testing"

func TestBuiltinGroups(t *testing.T) {
	g := GlobalGroup{}
	if !g.UsePGO() || g.Name() != "__GLOBAL__" || g.Threshold() != 5000 {
		t.Fatalf("GlobalGroup = %+v, want UsePGO=true Name=__GLOBAL__ Threshold=5000", g)
	}

	d := DisabledGroup{}
	if d.UsePGO() {
		t.Fatal("DisabledGroup.UsePGO() = true, want false")
	}

	n := NamedGroup{GroupName: "per-callsite", GroupThreshold: 42}
	if !n.UsePGO() || n.Name() != "per-callsite" || n.Threshold() != 42 {
		t.Fatalf("NamedGroup = %+v, want matching accessors", n)
	}
}
