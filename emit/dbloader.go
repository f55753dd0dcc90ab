package emit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/darianmavgo/rwmigrate/catalog"
	"github.com/darianmavgo/rwmigrate/dialect"
	"github.com/darianmavgo/rwmigrate/logging"
	"github.com/darianmavgo/rwmigrate/materialize"
	"github.com/darianmavgo/rwmigrate/schema"
)

// WarningsTable receives the run's warnings next to the catalog data.
const WarningsTable = "_rwmigrate_warnings"

var driverNames = map[string]string{
	dialect.SQLite:   "sqlite",
	dialect.Postgres: "pgx",
	dialect.MySQL:    "mysql",
}

// DBOptions configures a DBLoader.
type DBOptions struct {
	// BatchSize is the number of items per transaction for SQLite, whose
	// database is built in a temp file. Server databases load in one
	// transaction so a failure leaves nothing committed.
	BatchSize int
	Logger    *slog.Logger
}

// DBLoader inserts the run into a database through database/sql with
// parameterized statements.
type DBLoader struct {
	d    *dialect.Dialect
	db   *sql.DB
	opts DBOptions
	log  *slog.Logger

	// txCtx outlives the per-call contexts of WriteItem; the transaction
	// ends only through Commit or Abort.
	txCtx    context.Context
	tx       *sql.Tx
	primary  *sql.Stmt
	junction []*sql.Stmt
	inTx     int
	s        *schema.Schema
	created  []string

	// SQLite only: the database is built at tmpPath and renamed to finalPath.
	tmpPath   string
	finalPath string
}

// Ensure DBLoader implements Sink
var _ Sink = (*DBLoader)(nil)

// OpenDB connects to target. For SQLite target is the database file path,
// otherwise it is a driver DSN.
func OpenDB(ctx context.Context, d *dialect.Dialect, target string, opts DBOptions) (*DBLoader, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	l := &DBLoader{d: d, opts: opts, log: logging.Component(opts.Logger, "dbloader")}

	dsn := target
	if d.Name() == dialect.SQLite {
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		tmpFile, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp file: %w", err)
		}
		l.tmpPath = tmpFile.Name()
		l.finalPath = target
		tmpFile.Close() // Close it so sql.Open can use it
		dsn = l.tmpPath
		l.log.Debug("building database in temp file", "path", l.tmpPath)
	}

	db, err := sql.Open(driverNames[d.Name()], dsn)
	if err != nil {
		l.removeTemp()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	l.db = db

	if d.Name() == dialect.SQLite {
		// Limit to 1 connection to avoid locking issues and improve tx.Stmt performance
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA page_size = 65536; PRAGMA cache_size = -2000; PRAGMA foreign_keys = ON;"); err != nil {
			l.Abort()
			return nil, fmt.Errorf("failed to set PRAGMAs: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		l.Abort()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return l, nil
}

func (l *DBLoader) Begin(ctx context.Context, s *schema.Schema) error {
	l.s = s
	l.txCtx = context.WithoutCancel(ctx)
	if err := l.begin(); err != nil {
		return err
	}
	for i, stmt := range s.Statements(l.d) {
		if _, err := l.tx.ExecContext(ctx, strings.TrimSuffix(stmt, ";")); err != nil {
			return fmt.Errorf("failed to create table %s: %w", s.TableNames()[i], err)
		}
		l.created = append(l.created, s.TableNames()[i])
	}
	return l.prepare(ctx)
}

func (l *DBLoader) begin() error {
	tx, err := l.db.BeginTx(l.txCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	l.tx = tx
	l.inTx = 0
	return nil
}

func (l *DBLoader) prepare(ctx context.Context) error {
	var err error
	l.primary, err = l.tx.PrepareContext(ctx, l.d.InsertStmt(l.s.Table, l.s.PrimaryColumns()))
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement for table %s: %w", l.s.Table, err)
	}
	l.junction = make([]*sql.Stmt, len(l.s.Junctions))
	for i, j := range l.s.Junctions {
		l.junction[i], err = l.tx.PrepareContext(ctx, l.d.InsertStmt(j.Table, junctionColumns))
		if err != nil {
			return fmt.Errorf("failed to prepare insert statement for table %s: %w", j.Table, err)
		}
	}
	return nil
}

func (l *DBLoader) closeStmts() {
	if l.primary != nil {
		l.primary.Close()
		l.primary = nil
	}
	for _, st := range l.junction {
		if st != nil {
			st.Close()
		}
	}
	l.junction = nil
}

// WriteItem inserts the item's primary row and then its junction rows.
func (l *DBLoader) WriteItem(ctx context.Context, it *materialize.Item) error {
	if _, err := l.primary.ExecContext(ctx, it.Values...); err != nil {
		return fmt.Errorf("failed to insert item %d into %s: %w", it.ID, l.s.Table, err)
	}
	for i, rows := range it.Junctions {
		for _, r := range rows {
			if _, err := l.junction[i].ExecContext(ctx, it.ID, r.Seq, r.Value); err != nil {
				return fmt.Errorf("failed to insert item %d into %s: %w", it.ID, l.s.Junctions[i].Table, err)
			}
		}
	}

	l.inTx++
	if l.d.Name() == dialect.SQLite && l.inTx >= l.opts.BatchSize {
		l.closeStmts()
		if err := l.tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit batch: %w", err)
		}
		if err := l.begin(); err != nil {
			return err
		}
		return l.prepare(l.txCtx)
	}
	return nil
}

// Commit stores the warnings, syncs the identity generator and commits.
// For SQLite the finished file is then moved into place.
func (l *DBLoader) Commit(ctx context.Context, summary *catalog.Summary) error {
	l.closeStmts()
	if err := l.writeWarnings(ctx, summary); err != nil {
		return err
	}
	if sync := l.d.SyncIdentity(l.s.Table, l.s.Identity); sync != "" {
		if _, err := l.tx.ExecContext(ctx, strings.TrimSuffix(sync, ";")); err != nil {
			return fmt.Errorf("failed to sync identity: %w", err)
		}
	}
	if err := l.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	l.tx = nil
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	if l.tmpPath != "" {
		if err := os.Rename(l.tmpPath, l.finalPath); err != nil {
			l.removeTemp()
			return fmt.Errorf("failed to move database into place: %w", err)
		}
		l.tmpPath = ""
	}
	l.log.Info("database load committed", "dialect", l.d.Name(), "tables", len(l.created))
	return nil
}

func (l *DBLoader) writeWarnings(ctx context.Context, summary *catalog.Summary) error {
	if summary == nil {
		return nil
	}
	q := l.d.QuoteIdent
	create := fmt.Sprintf("CREATE TABLE %s (%s %s, %s %s, %s %s, %s %s, %s %s)",
		q(WarningsTable),
		q("position"), l.d.IntegerType(),
		q("item_id"), l.d.IntegerType(),
		q("field"), l.d.TextType(),
		q("kind"), l.d.TextType(),
		q("message"), l.d.TextType(),
	)
	if _, err := l.tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create warnings table: %w", err)
	}
	l.created = append(l.created, WarningsTable)

	insert := l.d.InsertStmt(WarningsTable, []string{"position", "item_id", "field", "kind", "message"})
	stmt, err := l.tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare log statement: %w", err)
	}
	defer stmt.Close()
	for _, w := range summary.Warnings() {
		if _, err := stmt.ExecContext(ctx, w.Position, w.ItemID, w.Field, string(w.Kind), w.Msg); err != nil {
			return fmt.Errorf("failed to log warning: %w", err)
		}
	}
	return nil
}

// Abort rolls back. SQLite's temp file is removed; on MySQL, whose DDL
// commits implicitly, the created tables are dropped.
func (l *DBLoader) Abort() error {
	l.closeStmts()
	if l.tx != nil {
		l.tx.Rollback()
		l.tx = nil
	}
	if l.d.Name() == dialect.MySQL && l.db != nil {
		for i := len(l.created) - 1; i >= 0; i-- {
			if _, err := l.db.Exec("DROP TABLE IF EXISTS " + l.d.QuoteIdent(l.created[i])); err != nil {
				l.log.Warn("failed to drop table after abort", "table", l.created[i], "error", err)
			}
		}
	}
	if l.db != nil {
		l.db.Close()
		l.db = nil
	}
	l.removeTemp()
	return nil
}

func (l *DBLoader) removeTemp() {
	if l.tmpPath != "" {
		os.Remove(l.tmpPath)
		l.tmpPath = ""
	}
}
