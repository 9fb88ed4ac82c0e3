package policy

import (
	"reflect"
	"testing"
)

func TestUnionDedupesAndPreservesOrder(t *testing.T) {
	got := union([]string{"a", "b"}, []string{"b", "c"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIntersectEmptyWhenDisjoint(t *testing.T) {
	got := intersect([]string{"a", "b"}, []string{"c", "d"})
	if len(got) != 0 {
		t.Fatalf("expected empty intersection, got %v", got)
	}
}

func TestIntersectKeepsCommonElements(t *testing.T) {
	got := intersect([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	want := map[string]bool{"b": true, "c": true}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
	for _, v := range got {
		if !want[v] {
			t.Fatalf("unexpected element %q in %v", v, got)
		}
	}
}

func TestContainsAll(t *testing.T) {
	if !containsAll([]string{"a", "b", "c"}, []string{"a", "c"}) {
		t.Fatal("expected containsAll true")
	}
	if containsAll([]string{"a", "b"}, []string{"a", "c"}) {
		t.Fatal("expected containsAll false")
	}
}

func TestToStringSliceHandlesShapes(t *testing.T) {
	if got := toStringSlice("a"); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("got %v", got)
	}
	if got := toStringSlice([]interface{}{"a", "b"}); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("got %v", got)
	}
	if got := toStringSlice(nil); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}
