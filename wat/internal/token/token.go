package token

import "unicode"

type Type int

const (
	LParen Type = iota
	RParen
	Ident
	String
	Number
)

func (t Type) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Ident:
		return "identifier"
	case String:
		return "string"
	case Number:
		return "number"
	}
	return "unknown"
}

type Token struct {
	Value string
	Type  Type
	Line  int
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '$' || r == '-' || r == ':' || r == '='
}

// Tokenize splits WAT source into tokens. Line and block comments are
// dropped. String tokens carry their contents with escapes left in place.
func Tokenize(input string) []Token {
	var tokens []Token
	line := 1
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			line++

		case unicode.IsSpace(r):

		case r == ';' && i+1 < len(runes) && runes[i+1] == ';':
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}

		case r == '(' && i+1 < len(runes) && runes[i+1] == ';':
			depth := 1
			for i += 2; i < len(runes) && depth > 0; i++ {
				switch {
				case runes[i] == '\n':
					line++
				case runes[i] == '(' && i+1 < len(runes) && runes[i+1] == ';':
					depth++
					i++
				case runes[i] == ';' && i+1 < len(runes) && runes[i+1] == ')':
					depth--
					i++
				}
			}
			i--

		case r == '(':
			tokens = append(tokens, Token{"(", LParen, line})

		case r == ')':
			tokens = append(tokens, Token{")", RParen, line})

		case r == '"':
			start := i + 1
			for i++; i < len(runes) && runes[i] != '"'; i++ {
				if runes[i] == '\\' {
					i++
				}
			}
			tokens = append(tokens, Token{string(runes[start:min(i, len(runes))]), String, line})

		case r == '-' || r == '+' || unicode.IsDigit(r):
			start := i
			for i+1 < len(runes) && isIdentRune(runes[i+1]) {
				i++
			}
			tokens = append(tokens, Token{string(runes[start : i+1]), Number, line})

		default:
			start := i
			for i+1 < len(runes) && isIdentRune(runes[i+1]) {
				i++
			}
			tokens = append(tokens, Token{string(runes[start : i+1]), Ident, line})
		}
	}

	return tokens
}
