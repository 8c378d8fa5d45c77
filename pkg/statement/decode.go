package statement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decoded pairs a parsed statement with the exact bytes the client
// submitted. The exact bytes are what the exact format re-emits.
type Decoded struct {
	Statement *Statement
	Exact     json.RawMessage
}

// DecodeStatements parses a request body holding a single statement object
// or an array of them, preserving submission order. Nulls anywhere outside
// extensions values reject the whole body.
func DecodeStatements(body []byte) ([]Decoded, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("statements: empty body")
	}
	var raws []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("statements: %w", err)
		}
	} else {
		var one json.RawMessage
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("statements: %w", err)
		}
		raws = []json.RawMessage{one}
	}
	out := make([]Decoded, 0, len(raws))
	for i, raw := range raws {
		d, err := DecodeStatement(raw)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// DecodeStatement parses a single statement with full strictness.
func DecodeStatement(raw json.RawMessage) (Decoded, error) {
	if err := rejectNulls(raw); err != nil {
		return Decoded{}, err
	}
	s := &Statement{}
	if err := s.UnmarshalJSON(raw); err != nil {
		return Decoded{}, err
	}
	return Decoded{Statement: s, Exact: raw}, nil
}

// rejectNulls scans the raw JSON token stream and fails on any null value
// that is not nested under an "extensions" key. Values inside extensions are
// opaque and may be arbitrarily null.
func rejectNulls(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	type frame struct {
		isObject  bool
		key       string
		expectKey bool
		extension bool // true once inside an extensions subtree
	}
	var stack []frame

	inExtensions := func() bool {
		return len(stack) > 0 && stack[len(stack)-1].extension
	}
	childExtension := func(key string) bool {
		return inExtensions() || key == "extensions"
	}

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("statement: %w", err)
		}
		top := func() *frame {
			if len(stack) == 0 {
				return nil
			}
			return &stack[len(stack)-1]
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{', '[':
				ext := false
				if f := top(); f != nil {
					if f.isObject {
						ext = childExtension(f.key)
					} else {
						ext = f.extension
					}
				}
				stack = append(stack, frame{isObject: t == '{', expectKey: t == '{', extension: ext})
			case '}', ']':
				stack = stack[:len(stack)-1]
				if f := top(); f != nil && f.isObject {
					f.expectKey = true
				}
			}
		case string:
			if f := top(); f != nil && f.isObject && f.expectKey {
				f.key = t
				f.expectKey = false
			} else if f != nil && f.isObject {
				f.expectKey = true
			}
		default:
			f := top()
			if tok == nil {
				// Only values inside an extensions object may be null; the
				// extensions property itself must still be an object.
				allowed := f != nil && f.extension
				if !allowed {
					where := ""
					if f != nil && f.isObject {
						where = fmt.Sprintf(" at %q", f.key)
					}
					return fmt.Errorf("statement: null is only allowed inside extensions%s", where)
				}
			}
			if f != nil && f.isObject {
				f.expectKey = true
			}
		}
	}
}
