package fetch

import (
	"strconv"
	"strings"
)

// wordGap is the TJ adjustment, in thousandths of a text unit, beyond which
// a gap between glyph runs is read as a space.
const wordGap = -200

// contentText pulls the text shown by a page content stream. Strings passed
// to Tj, TJ, ' and " are kept; line moves and text-object ends become line
// breaks. Fonts with custom encodings produce no readable text.
func contentText(data []byte) string {
	var out strings.Builder
	var operands []string
	lineStart := true

	newline := func() {
		if !lineStart {
			out.WriteByte('\n')
			lineStart = true
		}
	}
	show := func() {
		for _, s := range operands {
			if s != "" {
				out.WriteString(s)
				lineStart = false
			}
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, n := readLiteral(data[i:])
			operands = append(operands, s)
			i += n
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '<':
			s, n := readHex(data[i:])
			operands = append(operands, s)
			i += n
		case c == '[':
			s, n := readArray(data[i:])
			operands = append(operands, s)
			i += n
		case isDelimiter(c) || isSpace(c):
			i++
		default:
			tok, n := readToken(data[i:])
			i += n
			if tok == "" {
				i++
				continue
			}
			if tok[0] == '/' || isNumber(tok) {
				continue
			}
			switch tok {
			case "Tj", "TJ":
				show()
			case "'", "\"":
				newline()
				show()
			case "T*", "Td", "TD", "ET":
				newline()
			}
			operands = operands[:0]
		}
	}
	return strings.TrimSpace(out.String())
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}%", c) >= 0
}

func isNumber(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// readToken reads a name, number or operator. ' and " are operators on their
// own.
func readToken(data []byte) (string, int) {
	if data[0] == '\'' || data[0] == '"' {
		return string(data[:1]), 1
	}
	n := 0
	if data[0] == '/' {
		n = 1
	}
	for n < len(data) && !isSpace(data[n]) && !isDelimiter(data[n]) && (n == 0 || data[n] != '/') {
		n++
	}
	return string(data[:n]), n
}

// readLiteral decodes a (...) string starting at data[0]. Bytes are read as
// Latin-1.
func readLiteral(data []byte) (string, int) {
	var b strings.Builder
	depth := 0
	i := 0
	for i < len(data) {
		c := data[i]
		switch c {
		case '(':
			if depth > 0 {
				b.WriteByte(c)
			}
			depth++
			i++
		case ')':
			depth--
			i++
			if depth == 0 {
				return b.String(), i
			}
			b.WriteByte(c)
		case '\\':
			i++
			if i >= len(data) {
				return b.String(), i
			}
			esc := data[i]
			i++
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r':
				if i < len(data) && data[i] == '\n' {
					i++
				}
			case '\n':
			default:
				if esc >= '0' && esc <= '7' {
					v := int(esc - '0')
					for k := 0; k < 2 && i < len(data) && data[i] >= '0' && data[i] <= '7'; k++ {
						v = v*8 + int(data[i]-'0')
						i++
					}
					b.WriteRune(rune(v & 0xff))
				} else {
					b.WriteByte(esc)
				}
			}
		default:
			if c < 0x80 {
				b.WriteByte(c)
			} else {
				b.WriteRune(rune(c))
			}
			i++
		}
	}
	return b.String(), i
}

// readHex decodes a <...> string. Non-printable bytes are dropped, which
// discards two-byte glyph codes from composite fonts.
func readHex(data []byte) (string, int) {
	end := strings.IndexByte(string(data), '>')
	if end < 0 {
		return "", len(data)
	}
	var digits []byte
	for _, c := range data[1:end] {
		if !isSpace(c) {
			digits = append(digits, c)
		}
	}
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	var b strings.Builder
	for k := 0; k+1 < len(digits); k += 2 {
		v, err := strconv.ParseUint(string(digits[k:k+2]), 16, 8)
		if err != nil {
			return "", end + 1
		}
		if v >= 0x20 && v < 0x7f {
			b.WriteByte(byte(v))
		}
	}
	return b.String(), end + 1
}

// readArray concatenates the strings of a TJ array, inserting a space where
// the positioning adjustment is wide enough to be a word gap.
func readArray(data []byte) (string, int) {
	var b strings.Builder
	i := 1
	for i < len(data) {
		c := data[i]
		switch {
		case c == ']':
			return b.String(), i + 1
		case c == '(':
			s, n := readLiteral(data[i:])
			b.WriteString(s)
			i += n
		case c == '<':
			s, n := readHex(data[i:])
			b.WriteString(s)
			i += n
		case isSpace(c):
			i++
		default:
			tok, n := readToken(data[i:])
			if n == 0 {
				i++
				continue
			}
			i += n
			if v, err := strconv.ParseFloat(tok, 64); err == nil && v < wordGap {
				b.WriteByte(' ')
			}
		}
	}
	return b.String(), i
}
