package htmlx

// TokenHandler receives the tagged-variant stream emitted by Tokenize
// (spec §9 Design Notes: "each event is a tagged variant consumed by an
// explicit handler on the link extractor", not an untyped callback map).
// Byte slices passed to handler methods are views into the original
// input and are only valid for the duration of the call.
type TokenHandler interface {
	OnTagOpen(name []byte, isClosing bool)
	OnAttribute(name, value []byte)
	OnTagClose(name []byte, selfClosing bool)
}

type tokenizerState int

const (
	stateText tokenizerState = iota
	stateTagOpen
	stateTagName
	stateBeforeAttrName
	stateAttrName
	stateBeforeAttrValue
	stateAttrValueDouble
	stateAttrValueSingle
	stateAttrValueUnquoted
	stateTagClose
)

// Tokenize runs the single-pass byte-driven FSM described in spec §4.6
// Stage 2 over data, emitting events to h. It never allocates per byte:
// every emitted []byte is a sub-slice of data. Malformed input never
// aborts tokenization; unterminated constructs simply close at EOF.
func Tokenize(data []byte, h TokenHandler) {
	n := len(data)
	i := 0

	state := stateText
	var tagStart, tagEnd int
	var isClosing bool
	var attrNameStart, attrNameEnd int
	var attrValueStart int
	var haveAttr bool

	emitAttrIfPending := func(valueStart, valueEnd int) {
		if haveAttr {
			h.OnAttribute(data[attrNameStart:attrNameEnd], data[valueStart:valueEnd])
			haveAttr = false
		}
	}

	for i < n {
		b := data[i]
		switch state {
		case stateText:
			if b == '<' {
				state = stateTagOpen
				tagStart = i + 1
			}
			i++

		case stateTagOpen:
			switch {
			case b == '/':
				isClosing = true
				tagStart = i + 1
				state = stateTagName
				i++
			case isNameStart(b):
				isClosing = false
				state = stateTagName
				// don't advance i: re-enter tagName at this byte
			default:
				// malformed: not a real tag, bail back to text
				state = stateText
				i++
			}

		case stateTagName:
			if isNameChar(b) {
				i++
				continue
			}
			tagEnd = i
			h.OnTagOpen(data[tagStart:tagEnd], isClosing)
			if b == '>' {
				selfClosing := tagEnd > tagStart && data[tagEnd-1] == '/'
				h.OnTagClose(data[tagStart:tagEnd], selfClosing)
				state = stateText
				i++
			} else if isSpace(b) {
				state = stateBeforeAttrName
				i++
			} else {
				state = stateBeforeAttrName
			}

		case stateBeforeAttrName:
			switch {
			case isSpace(b):
				i++
			case b == '>':
				selfClosing := i > tagStart && data[i-1] == '/'
				h.OnTagClose(data[tagStart:tagEnd], selfClosing)
				state = stateText
				i++
			case b == '/':
				i++ // possible self-close marker, confirmed at '>'
			case isNameStart(b):
				attrNameStart = i
				state = stateAttrName
				i++
			default:
				i++
			}

		case stateAttrName:
			if isNameChar(b) {
				i++
				continue
			}
			attrNameEnd = i
			haveAttr = true
			if b == '=' {
				state = stateBeforeAttrValue
				i++
			} else if b == '>' {
				emitAttrIfPending(i, i)
				selfClosing := i > tagStart && data[i-1] == '/'
				h.OnTagClose(data[tagStart:tagEnd], selfClosing)
				state = stateText
				i++
			} else {
				// attribute without a value
				emitAttrIfPending(i, i)
				state = stateBeforeAttrName
			}

		case stateBeforeAttrValue:
			switch {
			case b == '"':
				attrValueStart = i + 1
				state = stateAttrValueDouble
				i++
			case b == '\'':
				attrValueStart = i + 1
				state = stateAttrValueSingle
				i++
			case b == '>':
				emitAttrIfPending(i, i)
				h.OnTagClose(data[tagStart:tagEnd], false)
				state = stateText
				i++
			default:
				attrValueStart = i
				state = stateAttrValueUnquoted
			}

		case stateAttrValueDouble:
			if b == '"' {
				emitAttrIfPending(attrValueStart, i)
				state = stateBeforeAttrName
			}
			i++

		case stateAttrValueSingle:
			if b == '\'' {
				emitAttrIfPending(attrValueStart, i)
				state = stateBeforeAttrName
			}
			i++

		case stateAttrValueUnquoted:
			if isSpace(b) || b == '>' {
				emitAttrIfPending(attrValueStart, i)
				if b == '>' {
					selfClosing := i > tagStart && data[i-1] == '/'
					h.OnTagClose(data[tagStart:tagEnd], selfClosing)
					state = stateText
				} else {
					state = stateBeforeAttrName
				}
				i++
			} else {
				i++
			}

		default:
			i++
		}
	}

	// EOF with an open tag: close it rather than leaving the handler
	// mid-tag (resilience rule: unterminated constructs close at EOF).
	switch state {
	case stateAttrValueDouble, stateAttrValueSingle:
		emitAttrIfPending(attrValueStart, n)
		h.OnTagClose(data[tagStart:tagEnd], false)
	case stateAttrValueUnquoted:
		emitAttrIfPending(attrValueStart, n)
		h.OnTagClose(data[tagStart:tagEnd], false)
	case stateAttrName, stateBeforeAttrName, stateBeforeAttrValue:
		if haveAttr {
			emitAttrIfPending(n, n)
		}
		h.OnTagClose(data[tagStart:tagEnd], false)
	case stateTagName:
		h.OnTagOpen(data[tagStart:n], isClosing)
		h.OnTagClose(data[tagStart:n], false)
	}
}

func isNameStart(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b == '!'
}

func isNameChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '-' || b == ':' || b == '_'
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}
