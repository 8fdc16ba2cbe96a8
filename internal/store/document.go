package store

import (
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/document"
	index "github.com/blevesearch/bleve_index_api"
)

// AllField is the composite field searched by queries without a field.
const AllField = "_all"

// FieldKind selects how a field value is indexed.
type FieldKind int

const (
	// FieldText is analyzed with the index's default analyzer.
	FieldText FieldKind = iota
	// FieldKeyword is indexed as a single unanalyzed term.
	FieldKeyword
	// FieldNumeric is indexed as a numeric value.
	FieldNumeric
)

// Field is one field of a Document.
type Field struct {
	Name   string
	Kind   FieldKind
	Text   string
	Number float64

	Index     bool
	Store     bool
	DocValues bool
	// InAll adds the field's terms to the catch-all field.
	InAll bool
}

// Document is a storable set of fields addressed by ID.
type Document struct {
	ID     string
	Fields []Field
}

// Batch is a set of writes applied atomically to the writer.
type Batch struct {
	Index  []Document
	Delete []string
}

// Empty reports whether the batch holds no writes.
func (b *Batch) Empty() bool { return len(b.Index) == 0 && len(b.Delete) == 0 }

// Reset clears the batch for reuse.
func (b *Batch) Reset() {
	b.Index = b.Index[:0]
	b.Delete = b.Delete[:0]
}

func (f Field) options() index.FieldIndexingOptions {
	var opts index.FieldIndexingOptions
	if f.Index {
		opts |= index.IndexField
		if f.Kind == FieldText {
			opts |= index.IncludeTermVectors
		}
	}
	if f.Store {
		opts |= index.StoreField
	}
	if f.DocValues {
		opts |= index.DocValues
	}
	return opts
}

// toBleve converts d into a bleve document. Text fields use textAnalyzer,
// keyword fields keywordAnalyzer.
func toBleve(d Document, textAnalyzer, keywordAnalyzer analysis.Analyzer) *document.Document {
	doc := document.NewDocument(d.ID)

	var inAll []string
	for _, f := range d.Fields {
		switch f.Kind {
		case FieldNumeric:
			doc.AddField(document.NewNumericFieldWithIndexingOptions(f.Name, nil, f.Number, f.options()))
		case FieldKeyword:
			doc.AddField(document.NewTextFieldCustom(f.Name, nil, []byte(f.Text), f.options(), keywordAnalyzer))
		default:
			doc.AddField(document.NewTextFieldCustom(f.Name, nil, []byte(f.Text), f.options(), textAnalyzer))
		}
		if f.InAll && f.Index {
			inAll = append(inAll, f.Name)
		}
	}
	if len(inAll) > 0 {
		doc.AddField(document.NewCompositeField(AllField, false, inAll, nil))
	}
	return doc
}
