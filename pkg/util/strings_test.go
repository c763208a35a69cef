package util

import (
	"reflect"
	"testing"
)

func TestSplitList(t *testing.T) {
	got := SplitList(" EURUSD, ,GBPUSD,,usdjpy ")
	want := []string{"EURUSD", "GBPUSD", "usdjpy"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitList = %v, want %v", got, want)
	}
	if len(SplitList("")) != 0 {
		t.Fatalf("expected empty result")
	}
}

func TestDedupe(t *testing.T) {
	in := []string{"a", "b", "a", "c", "b"}
	got := Dedupe(in)
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("Dedupe = %v", got)
	}
	if in[1] != "b" {
		t.Fatalf("input modified: %v", in)
	}
}
