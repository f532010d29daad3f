package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/canteen/internal/core/domain"
	"github.com/rl1809/canteen/internal/port"
)

const mysqlDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS menu_items (
		id          VARCHAR(64)  NOT NULL PRIMARY KEY,
		name        VARCHAR(140) NOT NULL,
		price_cents BIGINT       NOT NULL,
		category    VARCHAR(80)  NOT NULL DEFAULT '',
		station     VARCHAR(64)  NOT NULL DEFAULT '',
		stock       INT          NOT NULL,
		baseline    INT          NOT NULL,
		active      BOOLEAN      NOT NULL DEFAULT TRUE,
		version     INT          NOT NULL DEFAULT 0,
		created_at  DATETIME(6)  NOT NULL,
		updated_at  DATETIME(6)  NOT NULL,
		CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id              VARCHAR(64)  NOT NULL PRIMARY KEY,
		idempotency_key VARCHAR(128) NOT NULL DEFAULT '',
		lines_json      JSON         NOT NULL,
		status          VARCHAR(20)  NOT NULL,
		token           VARCHAR(12)  NOT NULL,
		total_cents     BIGINT       NOT NULL,
		station_id      VARCHAR(64)  NOT NULL DEFAULT '',
		shortages_json  JSON         NULL,
		failure_reason  VARCHAR(255) NOT NULL DEFAULT '',
		created_at      DATETIME(6)  NOT NULL,
		updated_at      DATETIME(6)  NOT NULL,
		INDEX idx_orders_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id         VARCHAR(80) NOT NULL PRIMARY KEY,
		order_id   VARCHAR(64) NOT NULL,
		lines_json JSON        NOT NULL,
		created_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS fulfillment_tickets (
		order_id    VARCHAR(64) NOT NULL PRIMARY KEY,
		station_id  VARCHAR(64) NOT NULL,
		token       VARCHAR(12) NOT NULL,
		enqueued_at DATETIME(6) NOT NULL,
		INDEX idx_tickets_station (station_id, enqueued_at)
	)`,
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// MySQLStore is the durable port.Store. Rows touched inside a transaction are
// locked with SELECT ... FOR UPDATE so several server instances can share it.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// NormalizeMySQLDSN turns on parseTime, which the DATETIME scans rely on.
func NormalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Migrate creates the tables if they do not exist.
func (m *MySQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", err)
		}
	}
	return nil
}

func (m *MySQLStore) Atomic(ctx context.Context, fn func(tx port.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (m *MySQLStore) GetMenuItem(ctx context.Context, itemID string) (domain.MenuItem, error) {
	return getMenuItem(ctx, m.db, itemID, false)
}

func (m *MySQLStore) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return getOrder(ctx, m.db, orderID, false)
}

func (m *MySQLStore) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	return getReservation(ctx, m.db, reservationID)
}

func (m *MySQLStore) ListMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, price_cents, category, station, stock, baseline, active, created_at, updated_at
		FROM menu_items ORDER BY id`)
	if err != nil {
		return nil, storageErr("query menu items", err)
	}
	defer rows.Close()

	var items []domain.MenuItem
	for rows.Next() {
		it, err := scanMenuItem(rows)
		if err != nil {
			return nil, storageErr("scan menu item", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate menu items", err)
	}
	return items, nil
}

func (m *MySQLStore) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, idempotency_key, lines_json, status, token, total_cents, station_id,
		       shortages_json, failure_reason, created_at, updated_at
		FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("query orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storageErr("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate orders", err)
	}
	return orders, nil
}

func (m *MySQLStore) ListTickets(ctx context.Context) ([]domain.FulfillmentTicket, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT order_id, station_id, token, enqueued_at
		FROM fulfillment_tickets ORDER BY enqueued_at`)
	if err != nil {
		return nil, storageErr("query tickets", err)
	}
	defer rows.Close()

	var tickets []domain.FulfillmentTicket
	for rows.Next() {
		var t domain.FulfillmentTicket
		if err := rows.Scan(&t.OrderID, &t.StationID, &t.Token, &t.EnqueuedAt); err != nil {
			return nil, storageErr("scan ticket", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate tickets", err)
	}
	return tickets, nil
}

type mysqlTx struct {
	q querier
}

func (t *mysqlTx) GetMenuItem(ctx context.Context, itemID string) (domain.MenuItem, error) {
	return getMenuItem(ctx, t.q, itemID, true)
}

func (t *mysqlTx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return getOrder(ctx, t.q, orderID, true)
}

func (t *mysqlTx) GetReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	return getReservation(ctx, t.q, reservationID)
}

func (t *mysqlTx) CreateMenuItem(ctx context.Context, item domain.MenuItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO menu_items (id, name, price_cents, category, station, stock, baseline, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name, item.PriceCents, item.Category, item.Station,
		item.Available, item.Baseline, item.Active, item.CreatedAt, item.UpdatedAt,
	)
	if isDuplicate(err) {
		return &domain.ItemError{ItemID: item.ID, Reason: "id already exists"}
	}
	if err != nil {
		return storageErr("insert menu item", err)
	}
	return nil
}

func (t *mysqlTx) SetMenuItemActive(ctx context.Context, itemID string, active bool, at time.Time) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE menu_items SET active = ?, version = version + 1, updated_at = ?
		WHERE id = ?`, active, at, itemID)
	if err != nil {
		return storageErr("update menu item", err)
	}
	return t.requireItem(ctx, result, itemID)
}

func (t *mysqlTx) AdjustStock(ctx context.Context, itemID string, delta int, at time.Time) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE menu_items
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ? AND stock + ? >= 0`,
		delta, at, itemID, delta,
	)
	if err != nil {
		return storageErr("update stock", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("update stock", err)
	}
	if rows == 1 {
		return nil
	}
	if _, err := getMenuItem(ctx, t.q, itemID, false); err != nil {
		return err
	}
	return fmt.Errorf("menu item %s: %w", itemID, domain.ErrInsufficientStock)
}

func (t *mysqlTx) RaiseBaseline(ctx context.Context, itemID string, quantity int) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE menu_items SET baseline = baseline + ? WHERE id = ?`, quantity, itemID)
	if err != nil {
		return storageErr("update baseline", err)
	}
	return t.requireItem(ctx, result, itemID)
}

func (t *mysqlTx) SaveOrder(ctx context.Context, order domain.Order) error {
	lines, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("encode order lines: %w", err)
	}
	var shortages []byte
	if len(order.Shortages) > 0 {
		if shortages, err = json.Marshal(order.Shortages); err != nil {
			return fmt.Errorf("encode shortages: %w", err)
		}
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO orders (id, idempotency_key, lines_json, status, token, total_cents, station_id,
		                    shortages_json, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			shortages_json = VALUES(shortages_json),
			failure_reason = VALUES(failure_reason),
			updated_at = VALUES(updated_at)`,
		order.ID, order.IdempotencyKey, lines, order.Status, order.Token, order.TotalCents,
		order.StationID, shortages, order.FailureReason, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return storageErr("upsert order", err)
	}
	return nil
}

func (t *mysqlTx) CreateReservation(ctx context.Context, r domain.Reservation) error {
	lines, err := json.Marshal(r.Lines)
	if err != nil {
		return fmt.Errorf("encode reservation lines: %w", err)
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO reservations (id, order_id, lines_json, created_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.OrderID, lines, r.CreatedAt,
	)
	if isDuplicate(err) {
		return fmt.Errorf("reservation %s: %w", r.ID, domain.ErrAlreadyReserved)
	}
	if err != nil {
		return storageErr("insert reservation", err)
	}
	return nil
}

func (t *mysqlTx) DeleteReservation(ctx context.Context, reservationID string) error {
	result, err := t.q.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, reservationID)
	if err != nil {
		return storageErr("delete reservation", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("delete reservation", err)
	}
	if rows == 0 {
		return fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	return nil
}

func (t *mysqlTx) SaveTicket(ctx context.Context, ticket domain.FulfillmentTicket) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO fulfillment_tickets (order_id, station_id, token, enqueued_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE station_id = VALUES(station_id), enqueued_at = VALUES(enqueued_at)`,
		ticket.OrderID, ticket.StationID, ticket.Token, ticket.EnqueuedAt,
	)
	if err != nil {
		return storageErr("upsert ticket", err)
	}
	return nil
}

func (t *mysqlTx) DeleteTicket(ctx context.Context, orderID string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM fulfillment_tickets WHERE order_id = ?`, orderID); err != nil {
		return storageErr("delete ticket", err)
	}
	return nil
}

func (t *mysqlTx) requireItem(ctx context.Context, result sql.Result, itemID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return storageErr("rows affected", err)
	}
	if rows > 0 {
		return nil
	}
	// MySQL reports 0 affected rows when the new values equal the old ones.
	_, err = getMenuItem(ctx, t.q, itemID, false)
	return err
}

func getMenuItem(ctx context.Context, q querier, itemID string, forUpdate bool) (domain.MenuItem, error) {
	query := `
		SELECT id, name, price_cents, category, station, stock, baseline, active, created_at, updated_at
		FROM menu_items WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	it, err := scanMenuItem(q.QueryRowContext(ctx, query, itemID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MenuItem{}, fmt.Errorf("menu item %s: %w", itemID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MenuItem{}, storageErr("query menu item", err)
	}
	return it, nil
}

func getOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (domain.Order, error) {
	query := `
		SELECT id, idempotency_key, lines_json, status, token, total_cents, station_id,
		       shortages_json, failure_reason, created_at, updated_at
		FROM orders WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Order{}, storageErr("query order", err)
	}
	return o, nil
}

func getReservation(ctx context.Context, q querier, reservationID string) (domain.Reservation, error) {
	var (
		r     domain.Reservation
		lines []byte
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, lines_json, created_at FROM reservations WHERE id = ?`, reservationID,
	).Scan(&r.ID, &r.OrderID, &lines, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, fmt.Errorf("reservation %s: %w", reservationID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Reservation{}, storageErr("query reservation", err)
	}
	if err := json.Unmarshal(lines, &r.Lines); err != nil {
		return domain.Reservation{}, fmt.Errorf("decode reservation lines: %w", err)
	}
	return r, nil
}

func scanMenuItem(row rowScanner) (domain.MenuItem, error) {
	var it domain.MenuItem
	err := row.Scan(&it.ID, &it.Name, &it.PriceCents, &it.Category, &it.Station,
		&it.Available, &it.Baseline, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o         domain.Order
		status    string
		lines     []byte
		shortages []byte
	)
	err := row.Scan(&o.ID, &o.IdempotencyKey, &lines, &status, &o.Token, &o.TotalCents,
		&o.StationID, &shortages, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return domain.Order{}, fmt.Errorf("decode order lines: %w", err)
	}
	if len(shortages) > 0 {
		if err := json.Unmarshal(shortages, &o.Shortages); err != nil {
			return domain.Order{}, fmt.Errorf("decode shortages: %w", err)
		}
	}
	return o, nil
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageFailure, err)
}
