package asm

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind uint8

const (
	tokenIdent tokenKind = iota
	tokenNumber
	tokenString
	tokenBit      // .N bit selector
	tokenRelative // $ with optional signed offset
	tokenHash
	tokenComma
	tokenColon
)

type token struct {
	kind  tokenKind
	text  string
	value int
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '@' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// scanLine tokenizes a single source line. Comments start with a
// semicolon and extend to the end of the line.
func scanLine(line string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++

		case c == ';':
			return tokens, nil

		case c == '#':
			tokens = append(tokens, token{kind: tokenHash})
			i++

		case c == ',':
			tokens = append(tokens, token{kind: tokenComma})
			i++

		case c == ':':
			tokens = append(tokens, token{kind: tokenColon})
			i++

		case c == '$':
			start := i
			i++
			if i < len(line) && (line[i] == '+' || line[i] == '-') {
				i++
				for i < len(line) && isDigit(line[i]) {
					i++
				}
			}
			offset := 0
			if i > start+1 {
				var err error
				offset, err = strconv.Atoi(line[start+1 : i])
				if err != nil {
					return nil, fmt.Errorf("bad relative address %q: %w", line[start:i], err)
				}
			}
			tokens = append(tokens, token{kind: tokenRelative, value: offset})

		case c == '.':
			if i+1 < len(line) && isDigit(line[i+1]) {
				bit := int(line[i+1] - '0')
				if bit > 7 {
					return nil, fmt.Errorf("bad bit index %d", bit)
				}
				tokens = append(tokens, token{kind: tokenBit, value: bit})
				i += 2
				break
			}
			if i+1 < len(line) && isIdentStart(line[i+1]) {
				start := i
				i++
				for i < len(line) && isIdentPart(line[i]) {
					i++
				}
				tokens = append(tokens, token{kind: tokenIdent, text: line[start:i]})
				break
			}
			return nil, fmt.Errorf("unexpected character %q", c)

		case c == '\'':
			if i+2 >= len(line) || line[i+2] != '\'' {
				return nil, fmt.Errorf("malformed character literal")
			}
			tokens = append(tokens, token{kind: tokenNumber, value: int(line[i+1])})
			i += 3

		case c == '"':
			text, rest, err := scanString(line[i:])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenString, text: text})
			i = len(line) - len(rest)

		case isIdentStart(c):
			start := i
			for i < len(line) && isIdentPart(line[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenIdent, text: line[start:i]})

		case isDigit(c):
			start := i
			for i < len(line) && isIdentPart(line[i]) {
				i++
			}
			value, err := parseNumber(line[start:i])
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenNumber, value: value})

		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return tokens, nil
}

func scanString(text string) (string, string, error) {
	var b strings.Builder
	for i := 1; i < len(text); i++ {
		switch c := text[i]; c {
		case '"':
			return b.String(), text[i+1:], nil

		case '\\':
			i++
			if i >= len(text) {
				return "", "", fmt.Errorf("unterminated string escape")
			}
			switch text[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '0':
				b.WriteByte(0)
			default:
				b.WriteByte(text[i])
			}

		default:
			b.WriteByte(c)
		}
	}
	return "", "", fmt.Errorf("unterminated string")
}

// parseNumber accepts decimal, 0x hexadecimal and 0b binary literals.
func parseNumber(text string) (int, error) {
	base := 10
	digits := text
	if len(text) > 2 {
		switch text[:2] {
		case "0x", "0X":
			base = 16
			digits = text[2:]
		case "0b", "0B":
			base = 2
			digits = text[2:]
		}
	}
	value, err := strconv.ParseUint(digits, base, 16)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", text, err)
	}
	return int(value), nil
}
