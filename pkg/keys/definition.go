// Package keys defines the index data model: definitions, keys and identities.
package keys

import (
	"fmt"
	"slices"
	"strings"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

// Reserved document field names and suffixes.
const (
	// IdentityField holds the owning record's identity on every document.
	IdentityField = "rid"
	// KindsField stores the scalar kinds of a document's key, in field order.
	KindsField = "_kinds"
	// FacetField holds the dim/value facet labels of a document.
	FacetField = "$facets"
	// AllField is the composite catch-all field for unqualified single-field queries.
	AllField = "_all"
	// StoredSuffix marks the unanalyzed exact copy of a field.
	StoredSuffix = "_stored"
	// IntegralSuffix marks the decimal exact term of an integral field.
	IntegralSuffix = "_int"
	// DefaultField is the first positional field of a manual index.
	DefaultField = "k0"
)

// IndexType selects how keys are matched.
type IndexType int

const (
	// FullText indexes analyze text values and answer free-text queries.
	FullText IndexType = iota
	// Exact indexes additionally store every key so it can be read back by cursors.
	Exact
)

func (t IndexType) String() string {
	if t == Exact {
		return "exact"
	}
	return "fulltext"
}

// StoragePolicy decides whether a field's exact value is retrievable from a hit.
type StoragePolicy int

const (
	// Unstored values are indexed for matching only.
	Unstored StoragePolicy = iota
	// Stored values can be read back from the index.
	Stored
)

// Definition describes an index. It is immutable once the index is created;
// use Clone to take a private copy.
type Definition struct {
	Name      string
	Fields    []string
	Automatic bool
	Type      IndexType
	Storage   map[string]StoragePolicy
}

// DefinitionOption configures a Definition.
type DefinitionOption func(*Definition)

// WithAutomatic marks the index as maintained by record writes.
func WithAutomatic() DefinitionOption {
	return func(d *Definition) { d.Automatic = true }
}

// WithType sets the index type.
func WithType(t IndexType) DefinitionOption {
	return func(d *Definition) { d.Type = t }
}

// WithStorage sets the storage policy of one field.
func WithStorage(field string, p StoragePolicy) DefinitionOption {
	return func(d *Definition) {
		if d.Storage == nil {
			d.Storage = make(map[string]StoragePolicy)
		}
		d.Storage[field] = p
	}
}

// NewDefinition validates and builds a Definition. A manual index may have
// no fields; its keys are then written to positional fields k0..kn.
func NewDefinition(name string, fields []string, opts ...DefinitionOption) (Definition, error) {
	d := Definition{Name: name, Fields: slices.Clone(fields)}
	for _, opt := range opts {
		opt(&d)
	}
	if err := d.Validate(); err != nil {
		return Definition{}, err
	}
	return d, nil
}

// Validate checks name and field constraints.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ixerrors.ValidationError("index name must not be empty", nil)
	}
	if d.Automatic && len(d.Fields) == 0 {
		return ixerrors.ValidationError(fmt.Sprintf("automatic index %q needs at least one field", d.Name), nil)
	}

	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		switch {
		case strings.TrimSpace(f) == "":
			return ixerrors.ValidationError("field names must not be empty", nil)
		case f == IdentityField || f == KindsField || f == FacetField || f == AllField:
			return ixerrors.ValidationError(fmt.Sprintf("field name %q is reserved", f), nil)
		case strings.HasSuffix(f, StoredSuffix), strings.HasSuffix(f, IntegralSuffix):
			return ixerrors.ValidationError(fmt.Sprintf("field name %q must not end in %s or %s", f, StoredSuffix, IntegralSuffix), nil)
		case seen[f]:
			return ixerrors.ValidationError(fmt.Sprintf("duplicate field %q", f), nil)
		}
		seen[f] = true
	}
	for f := range d.Storage {
		if !seen[f] && !isPositional(f) {
			return ixerrors.ValidationError(fmt.Sprintf("storage policy for unknown field %q", f), nil)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	c := d
	c.Fields = slices.Clone(d.Fields)
	if d.Storage != nil {
		c.Storage = make(map[string]StoragePolicy, len(d.Storage))
		for k, v := range d.Storage {
			c.Storage[k] = v
		}
	}
	return c
}

// FieldsFor returns the document fields a key of n parts maps to: the
// declared fields of an automatic index, or positional k0..k(n-1) for a
// manual one whatever fields it declares.
func (d Definition) FieldsFor(n int) []string {
	if d.Automatic {
		return d.Fields
	}
	return PositionalFields(n)
}

// QueryFields returns the fields a multi-field free-text query spans.
// Manual indexes have none and fall back to the default field.
func (d Definition) QueryFields() []string {
	if d.Automatic {
		return d.Fields
	}
	return nil
}

// PolicyFor reports the storage policy of field. Exact indexes store everything.
func (d Definition) PolicyFor(field string) StoragePolicy {
	if d.Type == Exact {
		return Stored
	}
	return d.Storage[field]
}

// PositionalFields returns k0..k(n-1).
func PositionalFields(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("k%d", i)
	}
	return out
}

func isPositional(f string) bool {
	if len(f) < 2 || f[0] != 'k' {
		return false
	}
	for _, r := range f[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ExactField names the unanalyzed copy of field.
func ExactField(field string) string {
	return field + StoredSuffix
}

// IntegralField names the decimal exact term of an integral field. The
// float copy under ExactField serves ranges and sorting only, since
// integers beyond 2^53 share floats.
func IntegralField(field string) string {
	return field + IntegralSuffix
}
