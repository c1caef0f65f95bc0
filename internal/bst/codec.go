package bst

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrCorrupt is returned when a decoded document is not a valid search tree.
var ErrCorrupt = errors.New("corrupt search tree")

type encodeFrame struct {
	node  *Node
	state uint8
}

// Encode serializes the tree as a nested JSON document:
//
//	{"stem":"elimin","resources":[3,9],"left":null,"right":{...}}
//
// An empty tree encodes as null.
func (t *Tree) Encode() ([]byte, error) {
	if t.root == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	stack := []encodeFrame{{node: t.root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		node := top.node
		switch top.state {
		case 0:
			stem, err := json.Marshal(node.Stem)
			if err != nil {
				return nil, fmt.Errorf("encode stem: %w", err)
			}
			ids := node.ResourceIDs
			if ids == nil {
				ids = []int64{}
			}
			resources, err := json.Marshal(ids)
			if err != nil {
				return nil, fmt.Errorf("encode resources: %w", err)
			}
			buf.WriteString(`{"stem":`)
			buf.Write(stem)
			buf.WriteString(`,"resources":`)
			buf.Write(resources)
			buf.WriteString(`,"left":`)
			top.state = 1
			if node.Left == nil {
				buf.WriteString("null")
			} else {
				stack = append(stack, encodeFrame{node: node.Left})
			}
		case 1:
			buf.WriteString(`,"right":`)
			top.state = 2
			if node.Right == nil {
				buf.WriteString("null")
			} else {
				stack = append(stack, encodeFrame{node: node.Right})
			}
		default:
			buf.WriteByte('}')
			stack = stack[:len(stack)-1]
		}
	}
	return buf.Bytes(), nil
}

// Decode rebuilds a tree from Encode output. Empty input and null both
// decode to an empty tree.
func Decode(data []byte) (*Tree, error) {
	t := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return t, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	if tok == nil {
		return t, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected object, got %v", ErrCorrupt, tok)
	}

	t.root = &Node{}
	stack := []*Node{t.root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode tree: %w", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == '}' {
			stack = stack[:len(stack)-1]
			t.size++
			continue
		}

		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected key, got %v", ErrCorrupt, tok)
		}
		switch key {
		case "stem":
			value, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("decode stem: %w", err)
			}
			stem, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: stem is %T", ErrCorrupt, value)
			}
			node.Stem = stem
		case "resources":
			ids, err := decodeIDs(dec)
			if err != nil {
				return nil, err
			}
			node.ResourceIDs = ids
		case "left", "right":
			value, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
			if value == nil {
				continue
			}
			if delim, ok := value.(json.Delim); !ok || delim != '{' {
				return nil, fmt.Errorf("%w: %s is %v", ErrCorrupt, key, value)
			}
			child := &Node{}
			if key == "left" {
				node.Left = child
			} else {
				node.Right = child
			}
			stack = append(stack, child)
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrCorrupt)
	}
	if err := t.checkOrder(); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeIDs(dec *json.Decoder) ([]int64, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode resources: %w", err)
	}
	if tok == nil {
		return []int64{}, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%w: resources is %v", ErrCorrupt, tok)
	}

	ids := make([]int64, 0, 4)
	seen := make(map[int64]struct{})
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode resources: %w", err)
		}
		if delim, ok := tok.(json.Delim); ok && delim == ']' {
			return ids, nil
		}
		number, ok := tok.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: resource id is %v", ErrCorrupt, tok)
		}
		id, err := number.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: resource id %s", ErrCorrupt, number)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
}

// checkOrder verifies that an in-order walk yields strictly ascending stems.
func (t *Tree) checkOrder() error {
	var (
		prev    string
		started bool
		err     error
	)
	t.Walk(func(n *Node) bool {
		if started && n.Stem <= prev {
			err = fmt.Errorf("%w: %q follows %q", ErrCorrupt, n.Stem, prev)
			return false
		}
		prev = n.Stem
		started = true
		return true
	})
	return err
}

// MarshalJSON implements json.Marshaler.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return t.Encode()
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tree) UnmarshalJSON(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}
