// Package codec turns keys into storable documents and back.
//
// Every key value produces an analyzed entry under the field name and an
// unanalyzed exact entry under <field>_stored. Integral values also get
// their decimal text under <field>_int, which is what exact lookups match.
// Exact entries are always indexed; the storage policy only decides
// whether they can be read back. Null parts produce no entries.
package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/facet"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// EntryKind classifies the entries of a Record.
type EntryKind int

const (
	// EntryIdentity carries the owning record's identity.
	EntryIdentity EntryKind = iota
	// EntryAnalyzed is the searchable form of a value.
	EntryAnalyzed
	// EntryExact is the unanalyzed copy used for exact matching.
	EntryExact
	// EntryIntegral is the decimal term of an integral value.
	EntryIntegral
	// EntryFacet replaces the value entries of a facet-enabled field.
	EntryFacet
	// EntryKinds is the stored key signature.
	EntryKinds
)

// Entry is one field of a Record.
type Entry struct {
	Field  string
	Kind   EntryKind
	Value  keys.Scalar
	Stored bool
	Label  facet.Label
}

// Record is the codec's output: one storable document per identity.
type Record struct {
	ID       string
	Identity keys.Identity
	Entries  []Entry
}

// Encode maps key to one record per identity following def. Automatic
// indexes map key parts to the declared fields; manual indexes use
// positional fields k0..kn.
func Encode(key keys.Key, ids []keys.Identity, def keys.Definition, facets facet.Subsystem) ([]Record, error) {
	parts, ok := keys.Parts(key)
	if !ok {
		return nil, ixerrors.InvalidKey(fmt.Sprintf("key of type %T cannot be written to an index", key))
	}
	if len(ids) == 0 {
		return nil, ixerrors.InvalidKey("at least one identity is required")
	}
	fields := def.FieldsFor(len(parts))
	if len(fields) != len(parts) {
		return nil, ixerrors.InvalidKey(fmt.Sprintf("key has %d parts, index %q has %d fields", len(parts), def.Name, len(fields)))
	}

	entries := make([]Entry, 0, 3*len(parts)+1)
	kinds := make([]byte, len(parts))
	for i, p := range parts {
		f := fields[i]
		kinds[i] = p.Kind().Code()
		if p.IsNull() {
			continue
		}
		if facets.IsEnabled(f) {
			entries = append(entries, Entry{Field: keys.FacetField, Kind: EntryFacet, Label: facets.BuildLabel(f, p)})
			continue
		}
		stored := def.PolicyFor(f) == keys.Stored
		entries = append(entries,
			Entry{Field: f, Kind: EntryAnalyzed, Value: p},
			Entry{Field: keys.ExactField(f), Kind: EntryExact, Value: p, Stored: stored},
		)
		if p.Kind().Integral() {
			entries = append(entries, Entry{Field: keys.IntegralField(f), Kind: EntryIntegral, Value: p, Stored: stored})
		}
	}
	entries = append(entries, Entry{Field: keys.KindsField, Kind: EntryKinds, Value: keys.String(string(kinds)), Stored: true})

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return nil, err
		}
		withID := make([]Entry, 0, len(entries)+1)
		withID = append(withID, Entry{Field: keys.IdentityField, Kind: EntryIdentity, Value: keys.String(string(id)), Stored: true})
		withID = append(withID, entries...)
		records = append(records, Record{ID: DocumentID(id, withID), Identity: id, Entries: withID})
	}
	return records, nil
}

// DocumentID derives a deterministic id: re-encoding the same key and
// identity yields the same document, and the identity stays recoverable
// with keys.IdentityFromDocID.
func DocumentID(id keys.Identity, entries []Entry) string {
	h := xxhash.New()
	for _, e := range entries {
		_, _ = h.WriteString(e.Field)
		_, _ = h.Write([]byte{0, byte(e.Kind), e.Value.Kind().Code()})
		if e.Kind == EntryFacet {
			_, _ = h.WriteString(e.Label.Term())
		} else {
			_, _ = h.WriteString(e.Value.String())
		}
		_, _ = h.Write([]byte{0x1e})
	}
	var sum [8]byte
	return string(id) + keys.IDSeparator + hex.EncodeToString(h.Sum(sum[:0]))
}

// Document converts r to a store document, letting facets add its label entries.
func (r Record) Document(facets facet.Subsystem) (store.Document, error) {
	doc := store.Document{ID: r.ID, Fields: make([]store.Field, 0, len(r.Entries))}
	var labels []facet.Label

	for _, e := range r.Entries {
		switch e.Kind {
		case EntryIdentity:
			doc.Fields = append(doc.Fields, store.Field{
				Name: e.Field, Kind: store.FieldKeyword, Text: e.Value.String(), Index: true, Store: true,
			})
		case EntryAnalyzed:
			if e.Value.IsNumeric() {
				doc.Fields = append(doc.Fields, store.Field{
					Name: e.Field, Kind: store.FieldNumeric, Number: e.Value.Number(), Index: true,
				})
			} else {
				doc.Fields = append(doc.Fields, store.Field{
					Name: e.Field, Kind: store.FieldText, Text: e.Value.String(), Index: true, InAll: true,
				})
			}
		case EntryExact:
			f := store.Field{Name: e.Field, Index: true, Store: e.Stored, DocValues: true}
			if e.Value.IsNumeric() {
				f.Kind, f.Number = store.FieldNumeric, e.Value.Number()
			} else {
				f.Kind, f.Text = store.FieldKeyword, e.Value.String()
			}
			doc.Fields = append(doc.Fields, f)
		case EntryIntegral:
			doc.Fields = append(doc.Fields, store.Field{
				Name: e.Field, Kind: store.FieldKeyword, Text: e.Value.String(), Index: true, Store: e.Stored,
			})
		case EntryKinds:
			doc.Fields = append(doc.Fields, store.Field{
				Name: e.Field, Kind: store.FieldKeyword, Text: e.Value.String(), Store: true,
			})
		case EntryFacet:
			labels = append(labels, e.Label)
		}
	}

	if len(labels) > 0 {
		if err := facets.Decorate(&doc, labels); err != nil {
			return store.Document{}, err
		}
	}
	return doc, nil
}

// Decode rebuilds the key and identity of a document from its stored
// fields. It reports false when a key part was not stored.
func Decode(fields map[string][]store.StoredValue, def keys.Definition) (keys.Key, keys.Identity, bool) {
	id := firstText(fields[keys.IdentityField])
	codes := firstText(fields[keys.KindsField])
	if id == "" || codes == "" {
		return nil, "", false
	}

	names := def.FieldsFor(len(codes))
	if len(names) != len(codes) {
		return nil, "", false
	}
	parts := make([]keys.Scalar, len(codes))
	for i := range codes {
		kind, ok := keys.KindFromCode(codes[i])
		if !ok {
			return nil, "", false
		}
		if kind == keys.KindNull {
			parts[i] = keys.Null()
			continue
		}
		if kind.Integral() {
			if text := firstText(fields[keys.IntegralField(names[i])]); text != "" {
				if parts[i], ok = keys.ParseIntegral(kind, text); !ok {
					return nil, "", false
				}
				continue
			}
		}
		vals := fields[keys.ExactField(names[i])]
		if len(vals) == 0 {
			return nil, "", false
		}
		switch v := vals[0].(type) {
		case float64:
			parts[i] = keys.FromNumber(kind, v)
		case string:
			if kind != keys.KindString {
				return nil, "", false
			}
			parts[i] = keys.String(v)
		default:
			return nil, "", false
		}
	}

	if len(parts) == 1 && len(def.FieldsFor(1)) <= 1 {
		return parts[0], keys.Identity(id), true
	}
	if !def.Automatic {
		return keys.Collection{Values: parts}, keys.Identity(id), true
	}
	return keys.Composite{Parts: parts}, keys.Identity(id), true
}

func firstText(vals []store.StoredValue) string {
	if len(vals) == 0 {
		return ""
	}
	s, _ := vals[0].(string)
	return s
}
