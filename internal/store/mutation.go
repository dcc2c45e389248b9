package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	challengesync "github.com/hyperengineering/seventyfive/internal/sync"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// mutation computes the next body of a document from its current one.
// Backends run apply inside their write transaction.
type mutation struct {
	op    string
	paths []string
	apply func(current []byte, exists bool) (next []byte, write bool, err error)

	// toggled holds the new value after a toggle mutation applied.
	toggled bool
}

func newCreateMutation(data []byte) (*mutation, error) {
	if err := checkDocument(data); err != nil {
		return nil, err
	}
	return &mutation{
		op: challengesync.OperationCreate,
		apply: func(current []byte, exists bool) ([]byte, bool, error) {
			if exists {
				return current, false, nil
			}
			return data, true, nil
		},
	}, nil
}

func newSetMutation(data []byte) (*mutation, error) {
	if err := checkDocument(data); err != nil {
		return nil, err
	}
	return &mutation{
		op: challengesync.OperationSet,
		apply: func(current []byte, exists bool) ([]byte, bool, error) {
			return data, true, nil
		},
	}, nil
}

func newUpdateMutation(updates []FieldUpdate) (*mutation, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no field updates", ErrInvalidPath)
	}

	type prepared struct {
		path string
		raw  []byte
	}
	steps := make([]prepared, 0, len(updates))
	paths := make([]string, 0, len(updates))
	for _, u := range updates {
		sp, err := sjsonPath(u.Path)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(u.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal value for %s: %w", u.Path, err)
		}
		steps = append(steps, prepared{path: sp, raw: raw})
		paths = append(paths, u.Path.String())
	}

	return &mutation{
		op:    challengesync.OperationUpdate,
		paths: paths,
		apply: func(current []byte, exists bool) ([]byte, bool, error) {
			if !exists {
				return nil, false, ErrNotFound
			}
			doc := current
			for _, s := range steps {
				next, err := sjson.SetRawBytes(doc, s.path, s.raw)
				if err != nil {
					return nil, false, fmt.Errorf("set %s: %w", s.path, err)
				}
				doc = next
			}
			return doc, true, nil
		},
	}, nil
}

func newToggleMutation(path Path) (*mutation, error) {
	sp, err := sjsonPath(path)
	if err != nil {
		return nil, err
	}
	gp := gjsonPath(path)

	m := &mutation{
		op:    challengesync.OperationToggle,
		paths: []string{path.String()},
	}
	m.apply = func(current []byte, exists bool) ([]byte, bool, error) {
		if !exists {
			return nil, false, ErrNotFound
		}
		var next bool
		switch res := gjson.GetBytes(current, gp); res.Type {
		case gjson.True:
			next = false
		case gjson.False, gjson.Null:
			next = true
		default:
			return nil, false, fmt.Errorf("%w: %s", ErrNotBoolean, path)
		}
		doc, err := sjson.SetBytes(current, sp, next)
		if err != nil {
			return nil, false, fmt.Errorf("set %s: %w", path, err)
		}
		m.toggled = next
		return doc, true, nil
	}
	return m, nil
}

// checkDocument requires a JSON object.
func checkDocument(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return ErrInvalidDocument
	}
	return nil
}

// sjsonPath renders a path for sjson. Each segment is prefixed with ':' so
// numeric segments such as day keys are always treated as object keys.
func sjsonPath(p Path) (string, error) {
	if len(p) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := make([]string, len(p))
	for i, seg := range p {
		if seg == "" {
			return "", fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, p.String())
		}
		parts[i] = ":" + escapeSegment(seg)
	}
	return strings.Join(parts, "."), nil
}

// gjsonPath renders a path for gjson lookups.
func gjsonPath(p Path) string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = escapeSegment(seg)
	}
	return strings.Join(parts, ".")
}

// escapeSegment backslash-escapes every ASCII punctuation byte so path syntax
// characters ('.', '*', '?', '#', '@', '|', ...) in keys are taken literally.
func escapeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func needsEscape(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '_', c == '-', c == ' ', c >= 0x80:
		return false
	}
	return true
}
