package wat

import (
	"github.com/belagoesr/mun/wasm"
	"github.com/belagoesr/mun/wat/internal/token"
)

// Compile parses source and returns the encoded module.
func Compile(source string) ([]byte, error) {
	mod, err := Parse(source)
	if err != nil {
		return nil, err
	}
	return mod.Encode(), nil
}

// Parse parses source into a module without encoding it.
func Parse(source string) (*wasm.Module, error) {
	p := newParser(token.Tokenize(source))
	return p.parseModule()
}
