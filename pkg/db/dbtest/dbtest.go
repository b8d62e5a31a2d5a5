// Package dbtest opens isolated in-memory sqlite databases carrying the
// settlement schema for repository and service tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// schema mirrors pkg/migrate/migrations with sqlite column types. Partial
// unique indexes are kept so double-settlement guards behave like postgres.
var schema = []string{
	`CREATE TABLE organizations (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  plan TEXT NOT NULL DEFAULT 'free',
  billing_event_quota INTEGER,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE customers (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  email TEXT,
  wallet_address TEXT,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL,
  price_amount INTEGER NOT NULL,
  asset_code TEXT NOT NULL DEFAULT 'XLM',
  billing_period_days INTEGER,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE checkouts (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  product_id TEXT,
  amount INTEGER,
  asset_code TEXT NOT NULL DEFAULT 'XLM',
  customer_id TEXT,
  expires_at DATETIME NOT NULL,
  merchant_public_key TEXT NOT NULL,
  initial_paging_token TEXT NOT NULL,
  search_cursor TEXT,
  subscription_data TEXT,
  success_url TEXT,
  completed_at DATETIME,
  failed_at DATETIME,
  expired_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE payments (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  checkout_id TEXT,
  subscription_id TEXT,
  customer_id TEXT,
  amount INTEGER NOT NULL,
  asset_code TEXT NOT NULL DEFAULT 'XLM',
  transaction_hash TEXT NOT NULL,
  status TEXT NOT NULL,
  created_at DATETIME
)`,
	`CREATE UNIQUE INDEX payments_confirmed_checkout_uniq ON payments (checkout_id) WHERE status = 'confirmed'`,
	`CREATE UNIQUE INDEX payments_confirmed_tx_hash_uniq ON payments (transaction_hash) WHERE status = 'confirmed'`,
	`CREATE TABLE subscriptions (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  checkout_id TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  current_period_start DATETIME NOT NULL,
  current_period_end DATETIME NOT NULL,
  cancel_at_period_end BOOLEAN NOT NULL DEFAULT 0,
  paused_at DATETIME,
  canceled_at DATETIME,
  pending_charge_tx TEXT,
  pending_charge_at DATETIME,
  last_charge_attempt_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE UNIQUE INDEX subscriptions_checkout_customer_uniq ON subscriptions (checkout_id, customer_id) WHERE checkout_id IS NOT NULL`,
	`CREATE TABLE credit_balances (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
  consumed INTEGER NOT NULL DEFAULT 0,
  granted INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (customer_id, product_id)
)`,
	`CREATE TABLE credit_transactions (
  id TEXT PRIMARY KEY,
  balance_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  type TEXT NOT NULL,
  amount INTEGER NOT NULL,
  balance_before INTEGER NOT NULL,
  balance_after INTEGER NOT NULL,
  reason TEXT,
  created_at DATETIME
)`,
	`CREATE TABLE webhooks (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  url TEXT NOT NULL,
  secret TEXT NOT NULL,
  events TEXT NOT NULL,
  enabled BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
)`,
	`CREATE TABLE webhook_logs (
  id TEXT PRIMARY KEY,
  webhook_id TEXT NOT NULL,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  request TEXT NOT NULL,
  status_code INTEGER,
  response_time_ms INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  next_retry DATETIME,
  created_at DATETIME
)`,
	`CREATE TABLE events (
  id TEXT PRIMARY KEY,
  organization_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  data TEXT NOT NULL,
  occurred_at DATETIME NOT NULL,
  created_at DATETIME
)`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
)`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)`,
}

// Open returns a fresh database that lives for the duration of the test.
// Every call gets its own named in-memory database so parallel tests never
// share rows.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:lp_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// a single connection serializes writers the way row locks would
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
