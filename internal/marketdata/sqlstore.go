package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/core"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS daily (
		ts_code    TEXT NOT NULL,
		trade_date TEXT NOT NULL,
		open       DOUBLE PRECISION,
		high       DOUBLE PRECISION,
		low        DOUBLE PRECISION,
		close      DOUBLE PRECISION,
		pre_close  DOUBLE PRECISION,
		vol        DOUBLE PRECISION,
		amount     DOUBLE PRECISION,
		PRIMARY KEY (ts_code, trade_date)
	)`,
	`CREATE TABLE IF NOT EXISTS stocks (
		ts_code TEXT PRIMARY KEY,
		name    TEXT,
		market  TEXT
	)`,
}

// SQLStore is a price store backed by SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// OpenSQL opens the database and creates the tables if needed.
func OpenSQL(driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, core.Errorf(core.ErrConfigInvalid, "unsupported data driver %q", driver)
	}
	if dsn == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "data.dsn")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("connecting to %s: %w", driver, err))
	}

	s := &SQLStore{db: db, driver: driver, logger: logger}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("creating schema: %w", err))
		}
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_daily_date ON daily(trade_date)`); err != nil {
		s.logger.Warn("creating index failed", zap.Error(err))
	}
	return s, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// symbolFilter returns the WHERE fragment and arguments matching symbols.
func (s *SQLStore) symbolFilter(symbols []string) (string, []any) {
	if s.driver == DriverPostgres {
		return "ts_code = ANY(?)", []any{pq.Array(symbols)}
	}
	args := make([]any, len(symbols))
	for i, sym := range symbols {
		args[i] = sym
	}
	return "ts_code IN (?" + strings.Repeat(",?", len(symbols)-1) + ")", args
}

// LoadHistory reads bars for all symbols in one query, ordered by date.
func (s *SQLStore) LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, error) {
	out := make(map[string][]core.OHLCV)
	if len(symbols) == 0 {
		return out, nil
	}

	filter, args := s.symbolFilter(symbols)
	query := `SELECT ts_code, trade_date, open, high, low, close, vol FROM daily WHERE ` + filter
	if !start.IsZero() {
		query += ` AND trade_date >= ?`
		args = append(args, start.Format(DateLayout))
	}
	if !end.IsZero() {
		query += ` AND trade_date <= ?`
		args = append(args, end.Format(DateLayout))
	}
	query += ` ORDER BY ts_code, trade_date`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("querying daily: %w", err))
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var (
			code, date                  string
			open, high, low, closePrice sql.NullFloat64
			vol                         sql.NullFloat64
		)
		if err := rows.Scan(&code, &date, &open, &high, &low, &closePrice, &vol); err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
		t, err := parseDate(date)
		if err != nil {
			skipped++
			continue
		}
		out[code] = append(out[code], core.OHLCV{
			Symbol:   code,
			Interval: "1d",
			Time:     t,
			Open:     open.Float64,
			High:     high.Float64,
			Low:      low.Float64,
			Close:    closePrice.Float64,
			Volume:   int64(vol.Float64),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}

	if skipped > 0 {
		s.logger.Warn("skipped rows with unparseable trade_date", zap.Int("rows", skipped))
	}
	s.logger.Debug("history loaded",
		zap.Int("symbols", len(out)),
		zap.String("start", start.Format(DateLayout)),
		zap.String("end", end.Format(DateLayout)),
	)
	return out, nil
}

// Instruments lists the known securities.
func (s *SQLStore) Instruments(ctx context.Context) ([]core.Instrument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ts_code, name, market FROM stocks ORDER BY ts_code`)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("querying stocks: %w", err))
	}
	defer rows.Close()

	var out []core.Instrument
	for rows.Next() {
		var code string
		var name, market sql.NullString
		if err := rows.Scan(&code, &name, &market); err != nil {
			return nil, core.WrapError(core.ErrStorageFailed, err)
		}
		out = append(out, core.Instrument{Symbol: code, Name: name.String, Market: core.Market(market.String)})
	}
	if err := rows.Err(); err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	return out, nil
}

// SaveInstrument upserts one instrument. An empty name keeps the stored one.
func (s *SQLStore) SaveInstrument(ctx context.Context, inst core.Instrument) error {
	market := inst.Market
	if market == "" {
		market = core.MarketOf(inst.Symbol)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO stocks (ts_code, name, market) VALUES (?, ?, ?)
		ON CONFLICT (ts_code) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), stocks.name),
			market = excluded.market`),
		inst.Symbol, inst.Name, string(market),
	)
	if err != nil {
		return core.WrapError(core.ErrStorageFailed, fmt.Errorf("saving %s: %w", inst.Symbol, err))
	}
	return nil
}

// SaveBars upserts bars for one symbol in a single transaction and returns
// the number written. Invalid bars are skipped.
func (s *SQLStore) SaveBars(ctx context.Context, symbol string, bars []core.OHLCV) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, core.WrapError(core.ErrStorageFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO daily (ts_code, trade_date, open, high, low, close, vol)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (ts_code, trade_date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			vol = excluded.vol`))
	if err != nil {
		return 0, core.WrapError(core.ErrStorageFailed, err)
	}
	defer stmt.Close()

	written := 0
	for _, b := range bars {
		if !b.IsValid() {
			continue
		}
		if _, err := stmt.ExecContext(ctx, symbol, b.Time.Format(DateLayout),
			b.Open, b.High, b.Low, b.Close, float64(b.Volume)); err != nil {
			return 0, core.WrapError(core.ErrStorageFailed, fmt.Errorf("saving %s %s: %w",
				symbol, b.Time.Format(DateLayout), err))
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, core.WrapError(core.ErrStorageFailed, err)
	}
	return written, nil
}
