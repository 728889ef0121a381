package store

// Dialect names accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker   TEXT NOT NULL UNIQUE,
		name     TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT '',
		active   BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS daily_data (
		stock_id INTEGER NOT NULL,
		date     TEXT NOT NULL,
		open     REAL NOT NULL,
		high     REAL NOT NULL,
		low      REAL NOT NULL,
		close    REAL NOT NULL,
		volume   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (stock_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS weekly_data (
		stock_id      INTEGER NOT NULL,
		week_end_date TEXT NOT NULL,
		open          REAL,
		high          REAL,
		low           REAL,
		close         REAL,
		volume        INTEGER,
		ma30          REAL,
		ma30_slope    REAL,
		rs            REAL,
		stage         INTEGER,
		PRIMARY KEY (stock_id, week_end_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weekly_date ON weekly_data(week_end_date)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		stock_id    INTEGER NOT NULL,
		signal_date TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		stage_from  INTEGER,
		stage_to    INTEGER,
		price       REAL NOT NULL,
		ma30        REAL,
		notified    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  INTEGER NOT NULL,
		UNIQUE (stock_id, signal_date, signal_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_date ON signals(signal_date)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id          TEXT PRIMARY KEY,
		stock_id    INTEGER NOT NULL,
		entry_date  TEXT NOT NULL,
		entry_price REAL NOT NULL,
		quantity    REAL NOT NULL,
		stop_loss   REAL NOT NULL,
		exit_date   TEXT,
		exit_price  REAL,
		status      TEXT NOT NULL,
		notes       TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id       BIGSERIAL PRIMARY KEY,
		ticker   TEXT NOT NULL UNIQUE,
		name     TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT '',
		active   BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS daily_data (
		stock_id BIGINT NOT NULL,
		date     DATE NOT NULL,
		open     DOUBLE PRECISION NOT NULL,
		high     DOUBLE PRECISION NOT NULL,
		low      DOUBLE PRECISION NOT NULL,
		close    DOUBLE PRECISION NOT NULL,
		volume   BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (stock_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS weekly_data (
		stock_id      BIGINT NOT NULL,
		week_end_date DATE NOT NULL,
		open          DOUBLE PRECISION,
		high          DOUBLE PRECISION,
		low           DOUBLE PRECISION,
		close         DOUBLE PRECISION,
		volume        BIGINT,
		ma30          DOUBLE PRECISION,
		ma30_slope    DOUBLE PRECISION,
		rs            DOUBLE PRECISION,
		stage         INTEGER,
		PRIMARY KEY (stock_id, week_end_date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_weekly_date ON weekly_data(week_end_date)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id          BIGSERIAL PRIMARY KEY,
		stock_id    BIGINT NOT NULL,
		signal_date DATE NOT NULL,
		signal_type TEXT NOT NULL,
		stage_from  INTEGER,
		stage_to    INTEGER,
		price       DOUBLE PRECISION NOT NULL,
		ma30        DOUBLE PRECISION,
		notified    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  BIGINT NOT NULL,
		UNIQUE (stock_id, signal_date, signal_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_date ON signals(signal_date)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id          TEXT PRIMARY KEY,
		stock_id    BIGINT NOT NULL,
		entry_date  DATE NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		quantity    DOUBLE PRECISION NOT NULL,
		stop_loss   DOUBLE PRECISION NOT NULL,
		exit_date   DATE,
		exit_price  DOUBLE PRECISION,
		status      TEXT NOT NULL,
		notes       TEXT NOT NULL DEFAULT '',
		created_at  BIGINT NOT NULL
	)`,
}
