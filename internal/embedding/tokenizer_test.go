package embedding

import (
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("hello world", 10)
	if len(ids) != 10 || len(types) != 10 {
		t.Errorf("len(ids)=%d", len(ids))
	}
	if ids[0] != clsToken {
		t.Errorf("expected CLS %d, got %d", clsToken, ids[0])
	}
	if ids[3] != sepToken {
		t.Errorf("expected SEP after two words, got %d", ids[3])
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention mask = %v", attn)
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, _, _ := tok.Tokenize("a b c d e f g h i j k l", 5)
	if ids[4] != sepToken {
		t.Errorf("last token should be SEP, got %v", ids)
	}
	for _, id := range ids[1:4] {
		if id < 1000 {
			t.Errorf("word id %d collides with special tokens", id)
		}
	}
}

func TestTerms(t *testing.T) {
	got := Terms("  Hello, WORLD!  co-op 42 ")
	want := []string{"hello", "world", "co", "op", "42"}
	if len(got) != len(want) {
		t.Fatalf("Terms = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Terms[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if len(Terms("")) != 0 {
		t.Error("empty string should have no terms")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == HashString("abd") {
		t.Error("different strings should usually hash differently")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a very long string that would overflow a naive hash") < 0 {
		t.Error("hash should be non-negative")
	}
}
