// Package sink persists enriched tables with replace/append semantics and
// tracks the schema a run committed to.
package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sells-group/comex-enrich/internal/db"
	"github.com/sells-group/comex-enrich/internal/match"
	"github.com/sells-group/comex-enrich/internal/model"
)

// Sink is a relational destination. Replace and Append are each atomic for
// concurrent readers of the relation.
type Sink interface {
	// Replace drops relation if present and recreates it with t's schema and rows.
	Replace(ctx context.Context, relation string, t *model.Table) error

	// Append inserts t's rows into an existing relation.
	Append(ctx context.Context, relation string, t *model.Table) error

	// Columns returns the persisted columns of relation, or nil if it does not exist.
	Columns(ctx context.Context, relation string) ([]model.Column, error)

	// CreateIndex adds a single-column index to relation if missing.
	CreateIndex(ctx context.Context, relation, column string) error

	// Consolidate builds target with one row per trade record from relation,
	// preferring exact matches, then basic matches. Returns the row count.
	Consolidate(ctx context.Context, relation, target string) (int64, error)
}

func indexName(relation, column string) string {
	base := strings.ReplaceAll(relation, ".", "_")
	return fmt.Sprintf("idx_%s_%s", base, column)
}

func createIndexSQL(relation, column string) string {
	parts := db.Identifier(relation)
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		pgx.Identifier{indexName(parts[len(parts)-1], column)}.Sanitize(),
		db.SanitizeTable(relation),
		pgx.Identifier{column}.Sanitize(),
	)
}

// consolidateSelect ranks rows of relation per trade record. Exact matches
// rank first, basic matches second, unmatched rows last.
func consolidateSelect(relation string) string {
	key := pgx.Identifier{match.TradePrefix + model.ColRecordKey}.Sanitize()
	return fmt.Sprintf(`SELECT * FROM (
	SELECT s.*, ROW_NUMBER() OVER (
		PARTITION BY s.%[2]s
		ORDER BY CASE
			WHEN s.%[3]s = '%[5]s' THEN 1
			WHEN s.%[4]s THEN 0
			ELSE 2
		END, s.%[6]s
	) AS match_rank
	FROM %[1]s s
) ranked WHERE match_rank = 1`,
		db.SanitizeTable(relation),
		key,
		pgx.Identifier{match.ColDataOriginRegistry}.Sanitize(),
		pgx.Identifier{match.ColRegistryMatched}.Sanitize(),
		model.OriginBasic,
		pgx.Identifier{match.ColRegistryFullID}.Sanitize(),
	)
}
