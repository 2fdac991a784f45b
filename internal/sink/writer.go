package sink

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/model"
)

// ErrSchemaDrift is returned when a batch's columns differ from the schema
// the destination relation was created with.
var ErrSchemaDrift = eris.New("sink: schema drift")

// DefaultIndexColumns are indexed on the destination after the first write.
var DefaultIndexColumns = []string{match.ColNormalizedID, match.ColBasicID}

// Writer persists batches to one relation: the first write replaces it and
// later writes append, provided the schema stays the same.
type Writer struct {
	sink         Sink
	relation     string
	indexColumns []string

	schema []model.Column
	// namesOnly is set when the schema was read back from the store, whose
	// type names do not round-trip exactly.
	namesOnly bool
}

// NewWriter creates a writer for relation. indexColumns defaults to
// DefaultIndexColumns when empty.
func NewWriter(s Sink, relation string, indexColumns ...string) *Writer {
	if len(indexColumns) == 0 {
		indexColumns = DefaultIndexColumns
	}
	return &Writer{sink: s, relation: relation, indexColumns: indexColumns}
}

// Relation returns the destination relation name.
func (w *Writer) Relation() string { return w.relation }

// Resume loads the persisted schema of the relation so that a run continuing
// from a checkpoint appends with the same drift check.
func (w *Writer) Resume(ctx context.Context) error {
	cols, err := w.sink.Columns(ctx, w.relation)
	if err != nil {
		return eris.Wrapf(err, "sink: resume %s", w.relation)
	}
	if len(cols) == 0 {
		return eris.Errorf("sink: resume: relation %s does not exist", w.relation)
	}
	w.schema = cols
	w.namesOnly = true
	return nil
}

// Write persists t. With isFirst the relation is replaced and indexed;
// otherwise t is appended after the drift check. Tables without columns
// carry nothing to write and are ignored.
func (w *Writer) Write(ctx context.Context, t *model.Table, isFirst bool) error {
	if t == nil || len(t.Columns) == 0 {
		return nil
	}

	if isFirst {
		if err := w.sink.Replace(ctx, w.relation, t); err != nil {
			return eris.Wrapf(err, "sink: replace %s", w.relation)
		}
		w.schema = t.Columns
		w.namesOnly = false
		for _, col := range w.indexColumns {
			if t.Index(col) < 0 {
				continue
			}
			if err := w.sink.CreateIndex(ctx, w.relation, col); err != nil {
				return err
			}
		}
		return nil
	}

	if w.schema == nil {
		return eris.Errorf("sink: append to %s before first write", w.relation)
	}
	if !w.compatible(t.Columns) {
		return eris.Wrapf(ErrSchemaDrift, "sink: append to %s", w.relation)
	}
	if err := w.sink.Append(ctx, w.relation, t); err != nil {
		return eris.Wrapf(err, "sink: append %s", w.relation)
	}
	return nil
}

func (w *Writer) compatible(cols []model.Column) bool {
	if !w.namesOnly {
		return model.SameSchema(w.schema, cols)
	}
	if len(cols) != len(w.schema) {
		return false
	}
	for i := range cols {
		if cols[i].Name != w.schema[i].Name {
			return false
		}
	}
	return true
}
