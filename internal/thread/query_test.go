package thread

import (
	"fmt"
	"testing"
)

type draftOutput struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

func mk(slug string, out any) Stitch {
	return Stitch{ID: slug, Slug: slug, Form: FormCompute, Output: out}
}

func TestQuery_EmptyHistory(t *testing.T) {
	if _, ok := Query(nil, nil, Desc); ok {
		t.Fatal("expected no result for empty history")
	}
	if _, ok := Query([]Stitch{}, OutputHasContent, Asc); ok {
		t.Fatal("expected no result for empty history")
	}
}

func TestQuery_NoPredicateReturnsMostRecent(t *testing.T) {
	h := []Stitch{mk("a", 1), mk("b", "x"), mk("c", nil)}
	got, ok := Query(h, nil, Desc)
	if !ok || got.ID != "c" {
		t.Fatalf("expected c, got %#v ok=%v", got, ok)
	}
	got, ok = Query(h, nil, Asc)
	if !ok || got.ID != "a" {
		t.Fatalf("expected a for ASC, got %#v ok=%v", got, ok)
	}
}

func TestQuery_PredicateNeverTrue(t *testing.T) {
	h := []Stitch{mk("a", 1), mk("b", map[string]any{"notes": "x"})}
	if _, ok := Query(h, OutputHasContent, Desc); ok {
		t.Fatal("expected no match")
	}
}

func TestQuery_DescReturnsHighestIndexMatch(t *testing.T) {
	// Exhaustive over histories of length 6: the answer must be the highest
	// index whose output carries content.
	withContent := []any{map[string]any{"content": "m"}, draftOutput{Content: "s"}}
	without := []any{42, map[string]any{"content": 7}}
	for mask := 0; mask < 1<<6; mask++ {
		var h []Stitch
		want := -1
		for i := 0; i < 6; i++ {
			out := without[i%2]
			if mask&(1<<i) != 0 {
				out = withContent[i%2]
				want = i
			}
			h = append(h, mk(fmt.Sprint(i), out))
		}
		got, ok := Query(h, OutputHasContent, Desc)
		if want == -1 {
			if ok {
				t.Fatalf("mask %b: expected no match, got %s", mask, got.ID)
			}
			continue
		}
		if !ok || got.ID != fmt.Sprint(want) {
			t.Fatalf("mask %b: expected %d, got %q ok=%v", mask, want, got.ID, ok)
		}
	}
}

func TestContentOf(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{"map", map[string]any{"content": "a"}, "a", true},
		{"string map", map[string]string{"content": "b"}, "b", true},
		{"struct", draftOutput{Content: "c"}, "c", true},
		{"pointer", &draftOutput{Content: "d"}, "d", true},
		{"non-string", map[string]any{"content": 3}, "", false},
		{"nil", nil, "", false},
		{"scalar", "content", "", false},
	}
	for _, tc := range cases {
		got, ok := ContentOf(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("%s: ContentOf = %q, %v; want %q, %v", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestOutputMatchesSchema(t *testing.T) {
	pred, err := OutputMatchesSchema(`{
		"type": "object",
		"required": ["content", "model"],
		"properties": {"content": {"type": "string"}, "model": {"type": "string"}}
	}`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	h := []Stitch{
		mk("full", draftOutput{Content: "x", Model: "m"}),
		mk("partial", map[string]any{"content": "y"}),
	}
	got, ok := Query(h, pred, Desc)
	if !ok || got.ID != "full" {
		t.Fatalf("expected full, got %#v ok=%v", got, ok)
	}

	if _, err := OutputMatchesSchema(`{"type": 12}`); err == nil {
		t.Fatal("expected compile error for invalid schema")
	}
}

func TestThread_AppendAndLatest(t *testing.T) {
	th := New("thinker")
	if _, ok := th.Latest(nil); ok {
		t.Fatal("expected empty thread")
	}
	th.Append(mk("first", map[string]any{"content": "first"}))
	th.Append(mk("second", map[string]any{"content": "second"}))
	th.Append(mk("decide", map[string]any{"decision": "repeat"}))

	got, ok := th.Latest(OutputHasContent)
	if !ok || got.ID != "second" {
		t.Fatalf("expected second, got %#v", got)
	}
	if got.Role != "thinker" {
		t.Fatalf("expected role stamped, got %q", got.Role)
	}
	snap := th.Stitches()
	snap[0].ID = "mutated"
	if th.Stitches()[0].ID != "first" {
		t.Fatal("snapshot mutation leaked into thread")
	}
	if _, ok := th.Latest(All(FromSlug("decide"), OfForm(FormCompute))); !ok {
		t.Fatal("expected combined predicate to match")
	}
}
