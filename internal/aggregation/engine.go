package aggregation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/clearance-reports/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// ErrMissingDatabase indicates that the engine was constructed without a connection.
var ErrMissingDatabase = errors.New("aggregation: database handle is required")

// Config describes the collaborators of the engine.
type Config struct {
	// Naming resolves field names to columns. It must match the strategy the schema was
	// migrated with; the connection's own strategy is used when nil.
	Naming schema.Namer
}

// Engine answers read-only report queries over the fact collections.
type Engine struct {
	db            *gorm.DB
	requests      reduction
	decisions     reduction
	finalisations reduction
	notifications reduction
	columns       factColumns
}

// factColumns holds the quoted category-specific columns used outside the reduction.
type factColumns struct {
	releaseType      string
	match            string
	notificationType string
}

// reduction describes one latest-per-key query shape.
type reduction struct {
	table  string
	id     string
	key    string
	window string
	order  string
}

// New constructs an Engine bound to the given connection.
func New(db *gorm.DB, cfg Config) (*Engine, error) {
	if db == nil {
		return nil, ErrMissingDatabase
	}
	naming := cfg.Naming
	if naming == nil {
		naming = db.NamingStrategy
	}
	quote := func(name string) string {
		return db.Statement.Quote(name)
	}
	column := func(table, field string) string {
		return quote(naming.ColumnName(table, field))
	}
	describe := func(table, key, window, order string) reduction {
		return reduction{
			table:  quote(table),
			id:     column(table, "ID"),
			key:    column(table, key),
			window: column(table, window),
			order:  column(table, order),
		}
	}

	return &Engine{
		db:            db,
		requests:      describe(entity.CollectionRequests, "Mrn", "Timestamp", "Timestamp"),
		decisions:     describe(entity.CollectionDecisions, "Mrn", "MrnCreated", "Timestamp"),
		finalisations: describe(entity.CollectionFinalisations, "Mrn", "Timestamp", "Timestamp"),
		notifications: describe(entity.CollectionNotifications, "ReferenceNumber", "NotificationCreated", "Timestamp"),
		columns: factColumns{
			releaseType:      column(entity.CollectionFinalisations, "ReleaseType"),
			match:            column(entity.CollectionDecisions, "Match"),
			notificationType: column(entity.CollectionNotifications, "NotificationType"),
		},
	}, nil
}

// latestQuery renders a common table expression named latest holding every row of the
// window ranked per key, and per bucket when unit is set. rn = 1 marks the latest row;
// ties on the ordering field fall to the greatest id.
func (r reduction) latestQuery(from, to time.Time, unit Unit, filter string, filterArgs ...any) (string, []any) {
	var builder strings.Builder
	partition := r.key
	builder.WriteString("WITH latest AS (SELECT ")
	builder.WriteString(r.table)
	builder.WriteString(".*, ")
	if unit != "" {
		bucket := fmt.Sprintf("(%s - %s %% %d)", r.window, r.window, unit.millis())
		builder.WriteString(bucket)
		builder.WriteString(" AS bucket, ")
		partition = bucket + ", " + r.key
	}
	fmt.Fprintf(&builder, "ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s DESC, %s DESC) AS rn", partition, r.order, r.id)
	fmt.Fprintf(&builder, " FROM %s WHERE %s >= ? AND %s < ?", r.table, r.window, r.window)
	args := []any{entity.MillisOf(from).Int64(), entity.MillisOf(to).Int64()}
	if filter != "" {
		builder.WriteString(" AND ")
		builder.WriteString(filter)
		args = append(args, filterArgs...)
	}
	builder.WriteString(") ")
	return builder.String(), args
}

func (e *Engine) scan(ctx context.Context, dest any, query string, args ...any) error {
	return e.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

func bucketTime(millis int64) time.Time {
	return entity.Millis(millis).Time()
}
