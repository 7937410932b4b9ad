package storage

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"
)

// Kind is the value type a column accepts.
type Kind int

const (
	KindInt Kind = iota
	KindText
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindTime:
		return "time"
	default:
		return "unknown"
	}
}

// Column describes one column of a collection.
type Column struct {
	Name     string
	Kind     Kind
	Required bool     // must be present and non-empty on create
	ReadOnly bool     // assigned by the store, never written
	Enum     []string // closed value set for text columns, empty means free-form
}

// Values maps column names to values. A nil value means NULL.
type Values map[string]any

// Schema binds a table to its closed column set.
type Schema struct {
	Table   string
	Key     string // primary key column
	Columns []Column

	// OrderBy is the default ordering column; the key breaks ties.
	OrderBy string

	// NaturalKey names the columns of a unique index used to detect
	// duplicates on insert. Nil values in it are stored as empty text.
	NaturalKey []string

	// CreateDefaults are merged into GetOrCreate inserts for absent columns.
	CreateDefaults Values
}

func (s Schema) column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (s Schema) columnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate checks the schema itself; repositories call it once at construction.
func (s Schema) Validate() error {
	if s.Table == "" || len(s.Columns) == 0 {
		return fmt.Errorf("schema needs a table and columns")
	}
	seen := map[string]bool{}
	for _, c := range s.Columns {
		if c.Name == "" || seen[c.Name] {
			return fmt.Errorf("schema %s: empty or duplicate column %q", s.Table, c.Name)
		}
		seen[c.Name] = true
	}
	if k, ok := s.column(s.Key); !ok || k.Kind != KindInt {
		return fmt.Errorf("schema %s: key %q must be an int column", s.Table, s.Key)
	}
	if _, ok := s.column(s.OrderBy); !ok {
		return fmt.Errorf("schema %s: unknown order column %q", s.Table, s.OrderBy)
	}
	for _, k := range s.NaturalKey {
		if c, ok := s.column(k); !ok || c.Kind != KindText {
			return fmt.Errorf("schema %s: natural key column %q must be text", s.Table, k)
		}
	}
	return nil
}

func (s Schema) invalid(col, format string, args ...any) *InvalidQueryError {
	return &InvalidQueryError{Table: s.Table, Column: col, Reason: fmt.Sprintf(format, args...)}
}

// checkFilter validates a where-set. Filters may target any column.
func (s Schema) checkFilter(where Values) (Values, error) {
	if len(where) == 0 {
		return nil, s.invalid("", "empty filter")
	}
	return s.normalize(where, false)
}

// checkPatch validates an update or insert set.
func (s Schema) checkPatch(patch Values) (Values, error) {
	if len(patch) == 0 {
		return nil, s.invalid("", "empty field set")
	}
	return s.normalize(patch, true)
}

// checkCreate validates an insert set. Missing required columns are reported
// as constraint failures.
func (s Schema) checkCreate(fields Values) (Values, error) {
	out, err := s.checkPatch(fields)
	if err != nil {
		return nil, err
	}
	// NULLs never collide in a unique index, so key members are kept non-null.
	for _, k := range s.NaturalKey {
		if out[k] == nil {
			out[k] = ""
		}
	}
	for _, c := range s.Columns {
		if !c.Required {
			continue
		}
		v, ok := out[c.Name]
		if !ok || v == nil || (c.Kind == KindText && strings.TrimSpace(v.(string)) == "") {
			return nil, newStorageError("create", s.Table, fmt.Errorf("%w: %s is required", ErrConstraint, c.Name))
		}
	}
	return out, nil
}

func (s Schema) normalize(in Values, write bool) (Values, error) {
	out := make(Values, len(in))
	for name, v := range in {
		c, ok := s.column(name)
		if !ok {
			return nil, s.invalid(name, "unknown column")
		}
		if write && c.ReadOnly {
			return nil, s.invalid(name, "column is read-only")
		}
		nv, err := coerce(c, v)
		if err != nil {
			return nil, s.invalid(name, "%v", err)
		}
		if nv != nil && len(c.Enum) > 0 && !slices.Contains(c.Enum, nv.(string)) {
			return nil, s.invalid(name, "value %q not in %v", nv, c.Enum)
		}
		out[name] = nv
	}
	return out, nil
}

// coerce maps a Go value onto the column's storage representation.
// Times are stored in UTC truncated to the second.
func coerce(c Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Kind {
	case KindInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case KindText:
		switch t := v.(type) {
		case string:
			return t, nil
		case *string:
			if t == nil {
				return nil, nil
			}
			return *t, nil
		case fmt.Stringer:
			return t.String(), nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			if t.IsZero() {
				return nil, nil
			}
			return t.UTC().Truncate(time.Second), nil
		case *time.Time:
			if t == nil || t.IsZero() {
				return nil, nil
			}
			return t.UTC().Truncate(time.Second), nil
		}
	}
	// Named types such as `type Status string`.
	rv := reflect.ValueOf(v)
	switch {
	case c.Kind == KindText && rv.Kind() == reflect.String:
		return rv.String(), nil
	case c.Kind == KindInt && rv.CanInt():
		return rv.Int(), nil
	}
	return nil, fmt.Errorf("want %s, got %T", c.Kind, v)
}

// sortedKeys keeps generated SQL deterministic.
func sortedKeys(v Values) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
