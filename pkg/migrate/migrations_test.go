package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/marketplace-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one %s migration, found %d", suffix, len(matches))
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks ...string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	n, err := migrate.ValidateDir("migrations")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if n < 6 {
		t.Fatalf("expected at least 6 migrations, got %d", n)
	}
}

func TestEnumMigrationCoversStatuses(t *testing.T) {
	content := readMigration(t, "create_enums")
	assertContains(t, content,
		"CREATE TYPE order_status AS ENUM",
		"'PENDING_PAYMENT', 'PAID', 'PROCESSING', 'SHIPPED'",
		"'DELIVERED', 'COMPLETED', 'CANCELLED', 'REFUNDED'",
		"CREATE TYPE payment_status AS ENUM ('PENDING', 'PAID', 'EXPIRED', 'FAILED')",
		"DROP TYPE IF EXISTS order_status",
	)
}

func TestProductsMigrationGuardsStock(t *testing.T) {
	assertContains(t, readMigration(t, "create_products_and_cart"),
		"CREATE TABLE IF NOT EXISTS products",
		"CONSTRAINT chk_products_stock CHECK (stock >= 0)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_cart_items_buyer_product ON cart_items (buyer_id, product_id)",
	)
}

func TestOrdersMigrationContainsUniqueOrderNumber(t *testing.T) {
	assertContains(t, readMigration(t, "create_orders"),
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_order_number ON orders (order_number)",
		"CHECK (total = subtotal + shipping_cost + service_fee)",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS orders",
	)
}

func TestPaymentsMigrationEnforcesOnePaymentPerOrder(t *testing.T) {
	assertContains(t, readMigration(t, "create_payments"),
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_order_id ON payments (order_id)",
		"status payment_status NOT NULL DEFAULT 'PENDING'",
		"expires_at timestamptz NOT NULL",
	)
}

func TestOutboxMigrationContainsDLQ(t *testing.T) {
	assertContains(t, readMigration(t, "create_outbox"),
		"CREATE TABLE IF NOT EXISTS outbox_events",
		"CREATE TABLE IF NOT EXISTS outbox_dlq",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_dlq_event_id ON outbox_dlq (event_id)",
		"WHERE published_at IS NULL",
	)
}
