package token

import "testing"

func TestTokenize(t *testing.T) {
	src := `(module ;; comment
  (; block (; nested ;) ;)
  (func $f (export "f") (param i32) (i32.const -0x10)))`
	toks := Tokenize(src)

	want := []struct {
		value string
		typ   Type
		line  int
	}{
		{"(", LParen, 1}, {"module", Ident, 1},
		{"(", LParen, 3}, {"func", Ident, 3}, {"$f", Ident, 3},
		{"(", LParen, 3}, {"export", Ident, 3}, {"f", String, 3}, {")", RParen, 3},
		{"(", LParen, 3}, {"param", Ident, 3}, {"i32", Ident, 3}, {")", RParen, 3},
		{"(", LParen, 3}, {"i32.const", Ident, 3}, {"-0x10", Number, 3}, {")", RParen, 3},
		{")", RParen, 3}, {")", RParen, 3},
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i, w := range want {
		if toks[i].Value != w.value || toks[i].Type != w.typ || toks[i].Line != w.line {
			t.Errorf("token %d = %+v, want %+v", i, toks[i], w)
		}
	}
}

func TestTokenizeMemarg(t *testing.T) {
	toks := Tokenize("i32.load offset=8 align=2")
	if len(toks) != 3 || toks[1].Value != "offset=8" || toks[1].Type != Ident {
		t.Fatalf("tokens = %v", toks)
	}
}

func TestTokenizeUnterminatedString(t *testing.T) {
	toks := Tokenize(`"abc`)
	if len(toks) != 1 || toks[0].Value != "abc" || toks[0].Type != String {
		t.Fatalf("tokens = %v", toks)
	}
}
