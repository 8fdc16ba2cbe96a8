package keys

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

// Key is a lookup or write key. The concrete types are Scalar, Composite,
// Collection and QueryKey.
type Key interface {
	isKey()
	String() string
}

// Kind is the runtime type of a Scalar.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindDate
	// KindNull marks a missing component of a composite or collection key.
	// It is never indexed.
	KindNull
)

var kindCodes = [...]byte{'s', 'i', 'l', 'f', 'd', 't', 'n'}

// Code is the one-letter encoding of k used in stored key signatures.
func (k Kind) Code() byte { return kindCodes[k] }

// KindFromCode reverses Code.
func KindFromCode(c byte) (Kind, bool) {
	for i, kc := range kindCodes {
		if kc == c {
			return Kind(i), true
		}
	}
	return 0, false
}

// Numeric reports whether values of k are indexed as numbers.
func (k Kind) Numeric() bool { return k != KindString && k != KindNull }

// Integral reports whether values of k are whole numbers. Their exact
// form is the decimal text, not the indexed float.
func (k Kind) Integral() bool { return k == KindInt || k == KindLong || k == KindDate }

// Scalar is a single typed value.
type Scalar struct {
	kind Kind
	str  string
	num  float64
	i64  int64
	t    time.Time
}

func (Scalar) isKey() {}

// NewScalar wraps a supported Go value: string, int, int32, int64,
// float32, float64 or time.Time.
func NewScalar(v any) (Scalar, error) {
	switch x := v.(type) {
	case Scalar:
		return x, nil
	case string:
		return String(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Long(x), nil
	case float32:
		return Float(x), nil
	case float64:
		return Double(x), nil
	case time.Time:
		return Date(x), nil
	default:
		return Scalar{}, ixerrors.InvalidKey(fmt.Sprintf("unsupported key value type %T", v))
	}
}

// Null is the missing component of a composite or collection key.
func Null() Scalar { return Scalar{kind: KindNull} }

// MustScalar is NewScalar that panics on unsupported types.
func MustScalar(v any) Scalar {
	s, err := NewScalar(v)
	if err != nil {
		panic(err)
	}
	return s
}

// String wraps a string value.
func String(s string) Scalar { return Scalar{kind: KindString, str: s} }

// Int wraps a 32-bit-range integer.
func Int(v int64) Scalar { return Scalar{kind: KindInt, i64: v, num: float64(v)} }

// Long wraps a 64-bit integer.
func Long(v int64) Scalar { return Scalar{kind: KindLong, i64: v, num: float64(v)} }

// Float wraps a float32.
func Float(v float32) Scalar { return Scalar{kind: KindFloat, num: float64(v)} }

// Double wraps a float64.
func Double(v float64) Scalar { return Scalar{kind: KindDouble, num: v} }

// Date wraps a timestamp. It is indexed as Unix milliseconds.
func Date(t time.Time) Scalar {
	ms := t.UnixMilli()
	return Scalar{kind: KindDate, t: t, i64: ms, num: float64(ms)}
}

func (s Scalar) Kind() Kind      { return s.kind }
func (s Scalar) Text() string    { return s.str }
func (s Scalar) Number() float64 { return s.num }
func (s Scalar) Time() time.Time { return s.t }
func (s Scalar) IsNumeric() bool { return s.kind.Numeric() }
func (s Scalar) IsNull() bool    { return s.kind == KindNull }

// Value returns the wrapped Go value.
func (s Scalar) Value() any {
	switch s.kind {
	case KindString:
		return s.str
	case KindInt:
		return int(s.i64)
	case KindLong:
		return s.i64
	case KindFloat:
		return float32(s.num)
	case KindDouble:
		return s.num
	case KindNull:
		return nil
	default:
		return s.t
	}
}

// ParseIntegral rebuilds an integral scalar of kind k from its decimal text.
func ParseIntegral(k Kind, text string) (Scalar, bool) {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Scalar{}, false
	}
	switch k {
	case KindInt:
		return Int(v), true
	case KindLong:
		return Long(v), true
	case KindDate:
		return Date(time.UnixMilli(v).UTC()), true
	default:
		return Scalar{}, false
	}
}

// FromNumber rebuilds a scalar of kind k from its indexed numeric form.
func FromNumber(k Kind, f float64) Scalar {
	switch k {
	case KindInt:
		return Int(int64(f))
	case KindLong:
		return Long(int64(f))
	case KindFloat:
		return Float(float32(f))
	case KindDate:
		return Date(time.UnixMilli(int64(f)).UTC())
	default:
		return Double(f)
	}
}

// String renders the canonical text form used for exact terms and labels.
func (s Scalar) String() string {
	switch s.kind {
	case KindString:
		return s.str
	case KindInt, KindLong, KindDate:
		return strconv.FormatInt(s.i64, 10)
	case KindFloat:
		return strconv.FormatFloat(s.num, 'g', -1, 32)
	case KindNull:
		return ""
	default:
		return strconv.FormatFloat(s.num, 'g', -1, 64)
	}
}

// Composite is an ordered tuple of scalars, one per index field.
type Composite struct {
	Parts []Scalar
}

func (Composite) isKey() {}

// NewComposite wraps values as a composite key. A nil value becomes a Null
// part that keeps its position but is neither indexed nor matched.
func NewComposite(values ...any) (Composite, error) {
	parts, err := scalars(values)
	if err != nil {
		return Composite{}, err
	}
	if !anyPresent(parts) {
		return Composite{}, ixerrors.InvalidKey("composite key must have at least one non-nil part")
	}
	return Composite{Parts: parts}, nil
}

func (c Composite) String() string { return joinParts(c.Parts) }

// Collection is the literal set of values written to a manual index.
// Values map to positional fields like a Composite.
type Collection struct {
	Values []Scalar
}

func (Collection) isKey() {}

// NewCollection wraps values as a collection key. Nil values are kept
// as Null parts like in NewComposite.
func NewCollection(values ...any) (Collection, error) {
	parts, err := scalars(values)
	if err != nil {
		return Collection{}, err
	}
	if !anyPresent(parts) {
		return Collection{}, ixerrors.InvalidKey("collection key must have at least one non-nil value")
	}
	return Collection{Values: parts}, nil
}

func (c Collection) String() string { return "{" + joinParts(c.Values) + "}" }

// ExecutionContext receives query-level variables such as the total hit count.
type ExecutionContext interface {
	SetVariable(name string, value any)
}

// QueryKey is a free-text query with parser options.
type QueryKey struct {
	Query   string
	Options map[string]any
	Context ExecutionContext
}

func (QueryKey) isKey() {}

// NewQueryKey builds a QueryKey. Option names are matched case-insensitively.
func NewQueryKey(query string, options map[string]any) (QueryKey, error) {
	if strings.TrimSpace(query) == "" {
		return QueryKey{}, ixerrors.New(ixerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	return QueryKey{Query: query, Options: options}, nil
}

// WithContext returns a copy bound to ctx.
func (q QueryKey) WithContext(ctx ExecutionContext) QueryKey {
	q.Context = ctx
	return q
}

func (q QueryKey) String() string { return q.Query }

// Parts returns the positional scalars of an exact key shape.
func Parts(k Key) ([]Scalar, bool) {
	switch v := k.(type) {
	case Scalar:
		return []Scalar{v}, true
	case Composite:
		return v.Parts, true
	case Collection:
		return v.Values, true
	default:
		return nil, false
	}
}

func scalars(values []any) ([]Scalar, error) {
	out := make([]Scalar, 0, len(values))
	for _, v := range values {
		if v == nil {
			out = append(out, Null())
			continue
		}
		s, err := NewScalar(v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func anyPresent(parts []Scalar) bool {
	for _, p := range parts {
		if !p.IsNull() {
			return true
		}
	}
	return false
}

func joinParts(parts []Scalar) string {
	ss := make([]string, len(parts))
	for i, p := range parts {
		ss[i] = p.String()
	}
	return strings.Join(ss, ",")
}
