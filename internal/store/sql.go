package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver.
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"weinstein/internal/domain"
)

// Compile-time interface check.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on SQLite or Postgres through sqlx. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLStore struct {
	db      *sqlx.DB
	dialect string
}

// Open opens a store for the given dialect. For sqlite dsn is a file path
// (or ":memory:"); for postgres it is a connection string.
func Open(dialect, dsn string) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, "":
		return OpenSQLite(dsn)
	case DialectPostgres:
		return OpenPostgres(dsn)
	}
	return nil, fmt.Errorf("unknown storage driver %q", dialect)
}

// OpenSQLite opens (or creates) a SQLite database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &SQLStore{db: db, dialect: DialectSQLite}
	if err := s.migrate(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres and applies the schema.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &SQLStore{db: db, dialect: DialectPostgres}
	if err := s.migrate(postgresSchema); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(stmts []string) error {
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Dialect returns the SQL dialect in use.
func (s *SQLStore) Dialect() string { return s.dialect }

func (s *SQLStore) q(query string) string {
	return s.db.Rebind(query)
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// ---------------------------------------------------------------------------
// StockStore implementation
// ---------------------------------------------------------------------------

// UpsertStock inserts a stock or updates the existing row for its ticker.
func (s *SQLStore) UpsertStock(ctx context.Context, st *domain.Stock) error {
	st.Ticker = strings.ToUpper(strings.TrimSpace(st.Ticker))
	if st.Ticker == "" {
		return errors.New("stock ticker is required")
	}
	query := s.q(`INSERT INTO stocks (ticker, name, exchange, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			name = excluded.name, exchange = excluded.exchange, active = excluded.active
		RETURNING id`)
	if err := s.db.GetContext(ctx, &st.ID, query, st.Ticker, st.Name, st.Exchange, st.Active); err != nil {
		return fmt.Errorf("upserting stock %s: %w", st.Ticker, err)
	}
	return nil
}

// GetStock returns the stock with the given ticker.
func (s *SQLStore) GetStock(ctx context.Context, ticker string) (*domain.Stock, error) {
	var st domain.Stock
	err := s.db.GetContext(ctx, &st,
		s.q(`SELECT id, ticker, name, exchange, active FROM stocks WHERE ticker = ?`),
		strings.ToUpper(ticker))
	if err != nil {
		return nil, notFound(err, "stock "+ticker)
	}
	return &st, nil
}

// GetStockByID returns the stock with the given ID.
func (s *SQLStore) GetStockByID(ctx context.Context, id int64) (*domain.Stock, error) {
	var st domain.Stock
	err := s.db.GetContext(ctx, &st,
		s.q(`SELECT id, ticker, name, exchange, active FROM stocks WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("stock %d", id))
	}
	return &st, nil
}

// ListStocks returns stocks ordered by ticker.
func (s *SQLStore) ListStocks(ctx context.Context, activeOnly bool) ([]domain.Stock, error) {
	query := `SELECT id, ticker, name, exchange, active FROM stocks`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY ticker`
	var out []domain.Stock
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("listing stocks: %w", err)
	}
	return out, nil
}

// UpdateStock overwrites name, exchange and active flag.
func (s *SQLStore) UpdateStock(ctx context.Context, st *domain.Stock) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE stocks SET name = ?, exchange = ?, active = ? WHERE id = ?`),
		st.Name, st.Exchange, st.Active, st.ID)
	if err != nil {
		return fmt.Errorf("updating stock %d: %w", st.ID, err)
	}
	return requireRow(res, fmt.Sprintf("stock %d", st.ID))
}

// DeleteStock removes a stock with its bars, weeks, signals and positions.
func (s *SQLStore) DeleteStock(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"daily_data", "weekly_data", "signals", "positions"} {
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE stock_id = ?`), id); err != nil {
			return fmt.Errorf("deleting %s of stock %d: %w", table, id, err)
		}
	}
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM stocks WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("deleting stock %d: %w", id, err)
	}
	if err := requireRow(res, fmt.Sprintf("stock %d", id)); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteDailyBars upserts bars keyed by (stock, date) in one transaction.
func (s *SQLStore) WriteDailyBars(ctx context.Context, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.q(`INSERT INTO daily_data
		(stock_id, date, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stock_id, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`))
	if err != nil {
		return fmt.Errorf("preparing bar insert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.StockID, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("writing bar %d/%s: %w", b.StockID, b.Date, err)
		}
	}
	return tx.Commit()
}

// ReadDailyBars returns bars for a stock within [start, end], ascending.
func (s *SQLStore) ReadDailyBars(ctx context.Context, stockID int64, start, end domain.Date) ([]domain.DailyBar, error) {
	query := `SELECT stock_id, date, open, high, low, close, volume FROM daily_data WHERE stock_id = ?`
	args := []any{stockID}
	if !start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, start)
	}
	if !end.IsZero() {
		query += ` AND date <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY date`

	var out []domain.DailyBar
	if err := s.db.SelectContext(ctx, &out, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("reading bars of stock %d: %w", stockID, err)
	}
	return out, nil
}

// LastBarDate returns the most recent bar date of a stock.
func (s *SQLStore) LastBarDate(ctx context.Context, stockID int64) (domain.Date, error) {
	var d domain.Date
	err := s.db.GetContext(ctx, &d, s.q(`SELECT MAX(date) FROM daily_data WHERE stock_id = ?`), stockID)
	if err != nil {
		return domain.Date{}, fmt.Errorf("last bar date of stock %d: %w", stockID, err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// WeeklyStore implementation
// ---------------------------------------------------------------------------

const weeklyColumns = `stock_id, week_end_date, open, high, low, close, volume, ma30, ma30_slope, rs, stage`

// WriteWeekly upserts weekly records keyed by (stock, week end date).
func (s *SQLStore) WriteWeekly(ctx context.Context, recs []domain.WeeklyRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, s.q(`INSERT INTO weekly_data (`+weeklyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stock_id, week_end_date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume, ma30 = excluded.ma30,
			ma30_slope = excluded.ma30_slope, rs = excluded.rs, stage = excluded.stage`))
	if err != nil {
		return fmt.Errorf("preparing weekly insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		_, err := stmt.ExecContext(ctx, r.StockID, r.WeekEndDate, r.Open, r.High, r.Low, r.Close,
			r.Volume, r.MA30, r.MA30Slope, r.RS, r.Stage)
		if err != nil {
			return fmt.Errorf("writing week %d/%s: %w", r.StockID, r.WeekEndDate, err)
		}
	}
	return tx.Commit()
}

// ReadWeekly returns the last limit weeks of a stock, ascending.
func (s *SQLStore) ReadWeekly(ctx context.Context, stockID int64, limit int) ([]domain.WeeklyRecord, error) {
	query := `SELECT ` + weeklyColumns + ` FROM weekly_data WHERE stock_id = ? ORDER BY week_end_date DESC`
	args := []any{stockID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var out []domain.WeeklyRecord
	if err := s.db.SelectContext(ctx, &out, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("reading weeks of stock %d: %w", stockID, err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type snapshotRow struct {
	ID       int64  `db:"id"`
	Ticker   string `db:"ticker"`
	Name     string `db:"name"`
	Exchange string `db:"exchange"`
	Active   bool   `db:"active"`
	domain.WeeklyRecord
}

const latestFrom = ` FROM stocks s
	JOIN weekly_data w ON w.stock_id = s.id
	WHERE s.active = TRUE
	AND w.week_end_date = (SELECT MAX(w2.week_end_date) FROM weekly_data w2 WHERE w2.stock_id = s.id)`

// ListLatest returns active stocks with their latest week, ordered by MA30
// slope descending, plus the total number of matches ignoring pagination.
func (s *SQLStore) ListLatest(ctx context.Context, f LatestFilter) ([]Snapshot, int, error) {
	where := ""
	var args []any
	if f.Stage.Valid() {
		where += ` AND w.stage = ?`
		args = append(args, int64(f.Stage))
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		where += ` AND (LOWER(s.ticker) LIKE ? OR LOWER(s.name) LIKE ?)`
		like := "%" + strings.ToLower(search) + "%"
		args = append(args, like, like)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.q(`SELECT COUNT(*)`+latestFrom+where), args...); err != nil {
		return nil, 0, fmt.Errorf("counting latest weeks: %w", err)
	}

	query := `SELECT s.id, s.ticker, s.name, s.exchange, s.active,
		w.stock_id, w.week_end_date, w.open, w.high, w.low, w.close, w.volume,
		w.ma30, w.ma30_slope, w.rs, w.stage` + latestFrom + where +
		` ORDER BY w.ma30_slope DESC NULLS LAST, s.ticker`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, max(f.Offset, 0))
	}
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, 0, fmt.Errorf("listing latest weeks: %w", err)
	}
	out := make([]Snapshot, len(rows))
	for i, r := range rows {
		out[i] = Snapshot{
			Stock:  domain.Stock{ID: r.ID, Ticker: r.Ticker, Name: r.Name, Exchange: r.Exchange, Active: r.Active},
			Latest: r.WeeklyRecord,
		}
	}
	return out, total, nil
}

// StageDistribution counts active stocks by their latest stage.
func (s *SQLStore) StageDistribution(ctx context.Context) (map[domain.Stage]int, error) {
	var rows []struct {
		Stage domain.Stage `db:"stage"`
		Count int          `db:"n"`
	}
	query := `SELECT w.stage AS stage, COUNT(*) AS n` + latestFrom + ` GROUP BY w.stage`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("stage distribution: %w", err)
	}
	out := make(map[domain.Stage]int, len(rows))
	for _, r := range rows {
		out[r.Stage] += r.Count
	}
	return out, nil
}

// LastUpdate returns the most recent week end date stored.
func (s *SQLStore) LastUpdate(ctx context.Context) (domain.Date, error) {
	var d domain.Date
	if err := s.db.GetContext(ctx, &d, `SELECT MAX(week_end_date) FROM weekly_data`); err != nil {
		return domain.Date{}, fmt.Errorf("last update: %w", err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

type signalRow struct {
	ID        int64             `db:"id"`
	StockID   int64             `db:"stock_id"`
	Ticker    sql.NullString    `db:"ticker"`
	Name      sql.NullString    `db:"name"`
	Date      domain.Date       `db:"signal_date"`
	Type      domain.SignalType `db:"signal_type"`
	FromStage domain.Stage      `db:"stage_from"`
	ToStage   domain.Stage      `db:"stage_to"`
	Price     float64           `db:"price"`
	MA30      *float64          `db:"ma30"`
	Notified  bool              `db:"notified"`
	CreatedAt int64             `db:"created_at"`
}

func (r signalRow) signal() domain.Signal {
	return domain.Signal{
		ID:        r.ID,
		StockID:   r.StockID,
		Ticker:    r.Ticker.String,
		Name:      r.Name.String,
		Date:      r.Date,
		Type:      r.Type,
		FromStage: r.FromStage,
		ToStage:   r.ToStage,
		Price:     r.Price,
		MA30:      r.MA30,
		Notified:  r.Notified,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
}

// SaveSignals inserts signals, skipping duplicates on (stock, date, type).
// Inserted signals get their ID filled in.
func (s *SQLStore) SaveSignals(ctx context.Context, sigs []domain.Signal) (int, error) {
	if len(sigs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.q(`INSERT INTO signals
		(stock_id, signal_date, signal_type, stage_from, stage_to, price, ma30, notified, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stock_id, signal_date, signal_type) DO NOTHING
		RETURNING id`)
	now := time.Now().UTC()
	inserted := 0
	for i := range sigs {
		sig := &sigs[i]
		if sig.CreatedAt.IsZero() {
			sig.CreatedAt = now
		}
		var id int64
		err := tx.GetContext(ctx, &id, query, sig.StockID, sig.Date, string(sig.Type),
			sig.FromStage, sig.ToStage, sig.Price, sig.MA30, sig.Notified, sig.CreatedAt.Unix())
		if errors.Is(err, sql.ErrNoRows) {
			continue // already recorded
		}
		if err != nil {
			return 0, fmt.Errorf("saving signal %d/%s/%s: %w", sig.StockID, sig.Date, sig.Type, err)
		}
		sig.ID = id
		inserted++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListSignals returns signals newest first, joined with their stock.
func (s *SQLStore) ListSignals(ctx context.Context, f SignalFilter) ([]domain.Signal, error) {
	query := `SELECT g.id, g.stock_id, s.ticker, s.name, g.signal_date, g.signal_type,
		g.stage_from, g.stage_to, g.price, g.ma30, g.notified, g.created_at
		FROM signals g LEFT JOIN stocks s ON s.id = g.stock_id WHERE 1 = 1`
	var args []any
	if f.StockID != 0 {
		query += ` AND g.stock_id = ?`
		args = append(args, f.StockID)
	}
	if f.Type != "" {
		query += ` AND g.signal_type = ?`
		args = append(args, string(f.Type))
	}
	if !f.Since.IsZero() {
		query += ` AND g.signal_date >= ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY g.signal_date DESC, g.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []signalRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing signals: %w", err)
	}
	out := make([]domain.Signal, len(rows))
	for i, r := range rows {
		out[i] = r.signal()
	}
	return out, nil
}

// CountSignalsSince counts signals by type on or after since.
func (s *SQLStore) CountSignalsSince(ctx context.Context, since domain.Date) (map[domain.SignalType]int, error) {
	var rows []struct {
		Type  domain.SignalType `db:"signal_type"`
		Count int               `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows,
		s.q(`SELECT signal_type, COUNT(*) AS n FROM signals WHERE signal_date >= ? GROUP BY signal_type`), since)
	if err != nil {
		return nil, fmt.Errorf("counting signals: %w", err)
	}
	out := make(map[domain.SignalType]int, len(rows))
	for _, r := range rows {
		out[r.Type] = r.Count
	}
	return out, nil
}

// MarkNotified flags the given signals as delivered.
func (s *SQLStore) MarkNotified(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE signals SET notified = TRUE WHERE id IN (?)`, ids)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.q(query), args...); err != nil {
		return fmt.Errorf("marking signals notified: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

type positionRow struct {
	ID         string                `db:"id"`
	StockID    int64                 `db:"stock_id"`
	Ticker     sql.NullString        `db:"ticker"`
	Name       sql.NullString        `db:"name"`
	EntryDate  domain.Date           `db:"entry_date"`
	EntryPrice float64               `db:"entry_price"`
	Quantity   float64               `db:"quantity"`
	StopLoss   float64               `db:"stop_loss"`
	ExitDate   domain.Date           `db:"exit_date"`
	ExitPrice  *float64              `db:"exit_price"`
	Status     domain.PositionStatus `db:"status"`
	Notes      string                `db:"notes"`
	CreatedAt  int64                 `db:"created_at"`
}

func (r positionRow) position() domain.Position {
	return domain.Position{
		ID:         r.ID,
		StockID:    r.StockID,
		Ticker:     r.Ticker.String,
		Name:       r.Name.String,
		EntryDate:  r.EntryDate,
		EntryPrice: r.EntryPrice,
		Quantity:   r.Quantity,
		StopLoss:   r.StopLoss,
		ExitDate:   r.ExitDate,
		ExitPrice:  r.ExitPrice,
		Status:     r.Status,
		Notes:      r.Notes,
		CreatedAt:  time.Unix(r.CreatedAt, 0).UTC(),
	}
}

const positionSelect = `SELECT p.id, p.stock_id, s.ticker, s.name, p.entry_date, p.entry_price,
	p.quantity, p.stop_loss, p.exit_date, p.exit_price, p.status, p.notes, p.created_at
	FROM positions p LEFT JOIN stocks s ON s.id = p.stock_id`

// CreatePosition inserts a new position. ID and status must be set.
func (s *SQLStore) CreatePosition(ctx context.Context, p *domain.Position) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO positions
		(id, stock_id, entry_date, entry_price, quantity, stop_loss, exit_date, exit_price, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.StockID, p.EntryDate, p.EntryPrice, p.Quantity, p.StopLoss,
		p.ExitDate, p.ExitPrice, string(p.Status), p.Notes, p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("creating position: %w", err)
	}
	return nil
}

// GetPosition returns a position by ID.
func (s *SQLStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	var r positionRow
	if err := s.db.GetContext(ctx, &r, s.q(positionSelect+` WHERE p.id = ?`), id); err != nil {
		return nil, notFound(err, "position "+id)
	}
	p := r.position()
	return &p, nil
}

// ListPositions returns positions with the given status. Open positions are
// ordered by entry date, closed ones by exit date, newest first.
func (s *SQLStore) ListPositions(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	order := ` ORDER BY p.entry_date DESC, p.created_at DESC`
	if status == domain.PositionClosed {
		order = ` ORDER BY p.exit_date DESC, p.created_at DESC`
	}
	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows, s.q(positionSelect+` WHERE p.status = ?`+order), string(status)); err != nil {
		return nil, fmt.Errorf("listing %s positions: %w", status, err)
	}
	out := make([]domain.Position, len(rows))
	for i, r := range rows {
		out[i] = r.position()
	}
	return out, nil
}

// UpdateStop moves the stop loss of an open position.
func (s *SQLStore) UpdateStop(ctx context.Context, id string, stop float64) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE positions SET stop_loss = ? WHERE id = ? AND status = ?`),
		stop, id, string(domain.PositionOpen))
	if err != nil {
		return fmt.Errorf("updating stop of %s: %w", id, err)
	}
	return requireRow(res, "open position "+id)
}

// ClosePosition records the exit of an open position.
func (s *SQLStore) ClosePosition(ctx context.Context, id string, exitDate domain.Date, exitPrice float64) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE positions SET status = ?, exit_date = ?, exit_price = ? WHERE id = ? AND status = ?`),
		string(domain.PositionClosed), exitDate, exitPrice, id, string(domain.PositionOpen))
	if err != nil {
		return fmt.Errorf("closing %s: %w", id, err)
	}
	return requireRow(res, "open position "+id)
}

// DeleteClosed removes every closed position and returns how many.
func (s *SQLStore) DeleteClosed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM positions WHERE status = ?`), string(domain.PositionClosed))
	if err != nil {
		return 0, fmt.Errorf("deleting closed positions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
