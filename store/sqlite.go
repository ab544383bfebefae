// Package store persists gateway configurations, transactions and
// installment options in SQLite. The database is tuned for WAL mode so
// several processes can share one file; busy errors are retried with
// exponential backoff.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tahsilat/sanalpos/gateway"
	"github.com/tahsilat/sanalpos/installment"
	"github.com/tahsilat/sanalpos/txn"
)

// SQLiteStore is the SQLite-backed persistence layer.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// retryOperation executes a database operation with retry logic for SQLITE_BUSY errors
func (s *SQLiteStore) retryOperation(operation func() error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		// Check if it's a busy error
		if strings.Contains(err.Error(), "SQLITE_BUSY") || strings.Contains(err.Error(), "database is locked") {
			lastErr = err
			if attempt < maxRetries {
				// Exponential backoff: 10ms, 20ms, 40ms, 80ms
				backoff := time.Duration(10*(1<<attempt)) * time.Millisecond
				log.Printf("SQLite busy, retrying in %v (attempt %d/%d)", backoff, attempt+1, maxRetries+1)
				time.Sleep(backoff)
				continue
			}
		} else {
			// Not a retry-able error
			return err
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries+1, lastErr)
}

// NewSQLiteStore creates a new SQLite store optimized for multiple processes
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// SQLite connection string with multi-process optimizations
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=1000&_timeout=20000&_txlock=immediate", dbPath)

	// Open database connection
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for multi-replica environment
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:   db,
		path: dbPath,
	}

	// Initialize database schema and optimizations
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Apply additional performance optimizations
	if err := store.optimizeForMultiProcess(); err != nil {
		log.Printf("Warning: Failed to apply optimizations: %v", err)
	}

	log.Printf("SQLite store initialized at: %s (multi-process optimized)", dbPath)
	return store, nil
}

// initSchema creates the necessary tables
func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS gateway_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		gateway_type TEXT NOT NULL,
		config_data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_gateway_configs_type ON gateway_configs(gateway_type);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		config_id INTEGER NOT NULL,
		gateway TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		installment_count INTEGER NOT NULL DEFAULT 1,
		installment_amount REAL NOT NULL DEFAULT 0,
		total_amount REAL NOT NULL DEFAULT 0,
		commission_amount REAL NOT NULL DEFAULT 0,
		secure_3d INTEGER NOT NULL DEFAULT 0,
		md_status TEXT,
		masked_card TEXT,
		card_brand TEXT,
		card_issuer TEXT,
		state TEXT NOT NULL,
		gateway_order_id TEXT,
		gateway_txn_id TEXT,
		auth_code TEXT,
		rrn TEXT,
		stan TEXT,
		refunded_amount REAL NOT NULL DEFAULT 0,
		error_code TEXT,
		error_message TEXT,
		request_snapshot TEXT,
		response_snapshot TEXT,
		customer_email TEXT,
		client_ip TEXT,
		payment_date DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state);
	CREATE INDEX IF NOT EXISTS idx_transactions_gateway_order ON transactions(gateway_order_id);

	CREATE TABLE IF NOT EXISTS transaction_history (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		actor TEXT NOT NULL,
		code TEXT,
		message TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_reference ON transaction_history(reference);

	CREATE TABLE IF NOT EXISTS installment_options (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		config_id INTEGER NOT NULL,
		count INTEGER NOT NULL,
		commission_rate REAL NOT NULL DEFAULT 0,
		interest_rate REAL NOT NULL DEFAULT 0,
		min_amount REAL NOT NULL DEFAULT 0,
		max_amount REAL NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		description TEXT,
		UNIQUE(config_id, count)
	);

	CREATE INDEX IF NOT EXISTS idx_installment_options_config ON installment_options(config_id);

	-- Trigger to update updated_at column
	CREATE TRIGGER IF NOT EXISTS update_gateway_configs_updated_at
		AFTER UPDATE ON gateway_configs
	BEGIN
		UPDATE gateway_configs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := s.db.Exec(query)
	return err
}

// optimizeForMultiProcess applies SQLite optimizations for multi-process access
func (s *SQLiteStore) optimizeForMultiProcess() error {
	optimizations := []string{
		"PRAGMA journal_mode = WAL;",    // Write-Ahead Logging for better concurrency
		"PRAGMA synchronous = NORMAL;",  // Balance between safety and speed
		"PRAGMA cache_size = 1000;",     // Increase cache size
		"PRAGMA busy_timeout = 30000;",  // 30 second timeout for lock waits
		"PRAGMA temp_store = memory;",   // Store temp tables in memory
		"PRAGMA mmap_size = 268435456;", // 256MB memory mapping
		"PRAGMA optimize;",              // Optimize database
	}

	for _, pragma := range optimizations {
		if _, err := s.db.Exec(pragma); err != nil {
			log.Printf("Warning: Failed to execute %s: %v", pragma, err)
		}
	}

	// Test WAL mode is actually enabled
	var journalMode string
	err := s.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode)
	if err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	log.Printf("SQLite journal mode: %s", journalMode)
	return nil
}

// SaveGatewayConfig inserts or updates a gateway configuration and
// returns its id. The config is stored as JSON; the name is the unique
// operator-facing key.
func (s *SQLiteStore) SaveGatewayConfig(cfg gateway.Config) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal config: %w", err)
	}

	var id int64
	err = s.retryOperation(func() error {
		query := `
		INSERT INTO gateway_configs (name, gateway_type, config_data, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name)
		DO UPDATE SET
			gateway_type = excluded.gateway_type,
			config_data = excluded.config_data,
			updated_at = CURRENT_TIMESTAMP
		`

		if _, err := s.db.Exec(query, cfg.Name, string(cfg.Type), string(configJSON)); err != nil {
			return fmt.Errorf("failed to save gateway config: %w", err)
		}
		return s.db.QueryRow("SELECT id FROM gateway_configs WHERE name = ?", cfg.Name).Scan(&id)
	}, 3)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetGatewayConfig loads a gateway configuration by id.
func (s *SQLiteStore) GetGatewayConfig(id int64) (gateway.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg gateway.Config
	err := s.retryOperation(func() error {
		var configJSON string
		err := s.db.QueryRow("SELECT config_data FROM gateway_configs WHERE id = ?", id).Scan(&configJSON)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("no gateway config with id %d", id)
			}
			return fmt.Errorf("failed to load gateway config: %w", err)
		}
		if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		cfg.ID = id
		return nil
	}, 3)

	return cfg, err
}

// ListGatewayConfigs loads every stored gateway configuration.
func (s *SQLiteStore) ListGatewayConfigs() ([]gateway.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var configs []gateway.Config
	err := s.retryOperation(func() error {
		rows, err := s.db.Query("SELECT id, config_data FROM gateway_configs ORDER BY name")
		if err != nil {
			return fmt.Errorf("failed to query gateway configs: %w", err)
		}
		defer rows.Close()

		configs = configs[:0]
		for rows.Next() {
			var id int64
			var configJSON string
			if err := rows.Scan(&id, &configJSON); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			var cfg gateway.Config
			if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
				log.Printf("Warning: failed to unmarshal config %d: %v", id, err)
				continue
			}
			cfg.ID = id
			configs = append(configs, cfg)
		}
		return rows.Err()
	}, 3)

	return configs, err
}

// DeleteGatewayConfig removes a gateway configuration by id.
func (s *SQLiteStore) DeleteGatewayConfig(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		result, err := s.db.Exec("DELETE FROM gateway_configs WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete gateway config: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("no gateway config with id %d", id)
		}
		return nil
	}, 3)
}

// SaveTransaction inserts a new transaction row. The unique reference
// constraint rejects duplicate payment attempts at the storage layer.
func (s *SQLiteStore) SaveTransaction(_ context.Context, t *txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		query := `
		INSERT INTO transactions (
			id, reference, config_id, gateway, amount, currency,
			installment_count, installment_amount, total_amount, commission_amount,
			secure_3d, md_status, masked_card, card_brand, card_issuer, state,
			gateway_order_id, gateway_txn_id, auth_code, rrn, stan,
			refunded_amount, error_code, error_message,
			request_snapshot, response_snapshot, customer_email, client_ip,
			payment_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := s.db.Exec(query,
			t.ID, t.Reference, t.ConfigID, t.Gateway, t.Amount, t.Currency,
			t.InstallmentCount, t.InstallmentAmount, t.TotalAmount, t.CommissionAmount,
			boolToInt(t.Secure3D), t.MDStatus, t.MaskedCard, t.CardBrand, t.CardIssuer, string(t.State),
			t.GatewayOrderID, t.GatewayTxnID, t.AuthCode, t.RRN, t.Stan,
			t.RefundedAmount, t.ErrorCode, t.ErrorMessage,
			t.RequestSnapshot, t.ResponseSnapshot, t.CustomerEmail, t.ClientIP,
			nullableTime(t.PaymentDate), t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		return nil
	}, 3)
}

// GetTransaction loads a transaction by its merchant reference.
func (s *SQLiteStore) GetTransaction(_ context.Context, reference string) (*txn.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t txn.Transaction
	err := s.retryOperation(func() error {
		query := `
		SELECT id, reference, config_id, gateway, amount, currency,
			installment_count, installment_amount, total_amount, commission_amount,
			secure_3d, md_status, masked_card, card_brand, card_issuer, state,
			gateway_order_id, gateway_txn_id, auth_code, rrn, stan,
			refunded_amount, error_code, error_message,
			request_snapshot, response_snapshot, customer_email, client_ip,
			payment_date, created_at, updated_at
		FROM transactions WHERE reference = ?
		`

		var secure3D int
		var state string
		var mdStatus, maskedCard, cardBrand, cardIssuer sql.NullString
		var gatewayOrderID, gatewayTxnID, authCode, rrn, stan sql.NullString
		var errorCode, errorMessage, reqSnap, respSnap, email, clientIP sql.NullString
		var paymentDate sql.NullTime

		err := s.db.QueryRow(query, reference).Scan(
			&t.ID, &t.Reference, &t.ConfigID, &t.Gateway, &t.Amount, &t.Currency,
			&t.InstallmentCount, &t.InstallmentAmount, &t.TotalAmount, &t.CommissionAmount,
			&secure3D, &mdStatus, &maskedCard, &cardBrand, &cardIssuer, &state,
			&gatewayOrderID, &gatewayTxnID, &authCode, &rrn, &stan,
			&t.RefundedAmount, &errorCode, &errorMessage,
			&reqSnap, &respSnap, &email, &clientIP,
			&paymentDate, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("transaction %s not found", reference)
			}
			return fmt.Errorf("failed to load transaction: %w", err)
		}

		t.Secure3D = secure3D != 0
		t.State = txn.State(state)
		t.MDStatus = mdStatus.String
		t.MaskedCard = maskedCard.String
		t.CardBrand = cardBrand.String
		t.CardIssuer = cardIssuer.String
		t.GatewayOrderID = gatewayOrderID.String
		t.GatewayTxnID = gatewayTxnID.String
		t.AuthCode = authCode.String
		t.RRN = rrn.String
		t.Stan = stan.String
		t.ErrorCode = errorCode.String
		t.ErrorMessage = errorMessage.String
		t.RequestSnapshot = reqSnap.String
		t.ResponseSnapshot = respSnap.String
		t.CustomerEmail = email.String
		t.ClientIP = clientIP.String
		if paymentDate.Valid {
			pd := paymentDate.Time
			t.PaymentDate = &pd
		}
		return nil
	}, 3)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// UpdateTransaction writes the mutable fields of an existing transaction.
func (s *SQLiteStore) UpdateTransaction(_ context.Context, t *txn.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		query := `
		UPDATE transactions SET
			md_status = ?, state = ?, gateway_order_id = ?, gateway_txn_id = ?,
			auth_code = ?, rrn = ?, stan = ?, refunded_amount = ?,
			error_code = ?, error_message = ?,
			request_snapshot = ?, response_snapshot = ?,
			payment_date = ?, updated_at = ?
		WHERE reference = ?
		`

		result, err := s.db.Exec(query,
			t.MDStatus, string(t.State), t.GatewayOrderID, t.GatewayTxnID,
			t.AuthCode, t.RRN, t.Stan, t.RefundedAmount,
			t.ErrorCode, t.ErrorMessage,
			t.RequestSnapshot, t.ResponseSnapshot,
			nullableTime(t.PaymentDate), t.UpdatedAt,
			t.Reference,
		)
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("transaction %s not found", t.Reference)
		}
		return nil
	}, 3)
}

// AppendHistory records one state transition. History rows are never
// updated or deleted.
func (s *SQLiteStore) AppendHistory(_ context.Context, entry txn.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		query := `
		INSERT INTO transaction_history (id, reference, from_state, to_state, actor, code, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`

		_, err := s.db.Exec(query,
			entry.ID, entry.Reference, string(entry.FromState), string(entry.ToState),
			entry.Actor, entry.Code, entry.Message, entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
		return nil
	}, 3)
}

// ListHistory returns the transition history of a transaction in
// insertion order.
func (s *SQLiteStore) ListHistory(_ context.Context, reference string) ([]txn.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []txn.HistoryEntry
	err := s.retryOperation(func() error {
		query := `
		SELECT id, reference, from_state, to_state, actor, code, message, created_at
		FROM transaction_history
		WHERE reference = ?
		ORDER BY created_at, rowid
		`

		rows, err := s.db.Query(query, reference)
		if err != nil {
			return fmt.Errorf("failed to query history: %w", err)
		}
		defer rows.Close()

		entries = entries[:0]
		for rows.Next() {
			var e txn.HistoryEntry
			var from, to string
			var code, message sql.NullString
			if err := rows.Scan(&e.ID, &e.Reference, &from, &to, &e.Actor, &code, &message, &e.CreatedAt); err != nil {
				return fmt.Errorf("failed to scan history row: %w", err)
			}
			e.FromState = txn.State(from)
			e.ToState = txn.State(to)
			e.Code = code.String
			e.Message = message.String
			entries = append(entries, e)
		}
		return rows.Err()
	}, 3)

	return entries, err
}

// SaveInstallmentOption inserts or updates an installment plan for a
// gateway config. One row per (config, count).
func (s *SQLiteStore) SaveInstallmentOption(opt installment.Option) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := opt.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.retryOperation(func() error {
		query := `
		INSERT INTO installment_options (config_id, count, commission_rate, interest_rate, min_amount, max_amount, active, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(config_id, count)
		DO UPDATE SET
			commission_rate = excluded.commission_rate,
			interest_rate = excluded.interest_rate,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			active = excluded.active,
			description = excluded.description
		`

		if _, err := s.db.Exec(query,
			opt.ConfigID, opt.Count, opt.CommissionRate, opt.InterestRate,
			opt.MinAmount, opt.MaxAmount, boolToInt(opt.Active), opt.Description,
		); err != nil {
			return fmt.Errorf("failed to save installment option: %w", err)
		}
		return s.db.QueryRow(
			"SELECT id FROM installment_options WHERE config_id = ? AND count = ?",
			opt.ConfigID, opt.Count,
		).Scan(&id)
	}, 3)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// ListInstallmentOptions returns the installment plans for a gateway
// config, ordered by count.
func (s *SQLiteStore) ListInstallmentOptions(configID int64) ([]installment.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var options []installment.Option
	err := s.retryOperation(func() error {
		query := `
		SELECT id, config_id, count, commission_rate, interest_rate, min_amount, max_amount, active, description
		FROM installment_options
		WHERE config_id = ?
		ORDER BY count
		`

		rows, err := s.db.Query(query, configID)
		if err != nil {
			return fmt.Errorf("failed to query installment options: %w", err)
		}
		defer rows.Close()

		options = options[:0]
		for rows.Next() {
			var opt installment.Option
			var active int
			var description sql.NullString
			if err := rows.Scan(&opt.ID, &opt.ConfigID, &opt.Count, &opt.CommissionRate,
				&opt.InterestRate, &opt.MinAmount, &opt.MaxAmount, &active, &description); err != nil {
				return fmt.Errorf("failed to scan installment option: %w", err)
			}
			opt.Active = active != 0
			opt.Description = description.String
			options = append(options, opt)
		}
		return rows.Err()
	}, 3)

	return options, err
}

// DeleteInstallmentOption removes one installment plan by id.
func (s *SQLiteStore) DeleteInstallmentOption(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.retryOperation(func() error {
		result, err := s.db.Exec("DELETE FROM installment_options WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete installment option: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("no installment option with id %d", id)
		}
		return nil
	}, 3)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetStats returns database statistics
func (s *SQLiteStore) GetStats() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]any)

	var totalConfigs int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM gateway_configs").Scan(&totalConfigs); err != nil {
		return nil, fmt.Errorf("failed to count gateway configs: %w", err)
	}
	stats["gateway_configs"] = totalConfigs

	var totalTxns int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&totalTxns); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}
	stats["transactions"] = totalTxns

	var capturedTxns int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM transactions WHERE state = 'captured'").Scan(&capturedTxns); err != nil {
		return nil, fmt.Errorf("failed to count captured transactions: %w", err)
	}
	stats["captured_transactions"] = capturedTxns

	// Database file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats["db_size_bytes"] = fileInfo.Size()
	}

	stats["db_path"] = s.path

	return stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
