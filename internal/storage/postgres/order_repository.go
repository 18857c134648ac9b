package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/ordersaga/internal/domain"
)

const orderColumns = `
	id, buyer_id, order_date, status, description, payment_ref,
	street, city, state, country, zip_code, version, created_at, updated_at`

// OrderRepository — PostgreSQL-реализация domain.OrderRepository.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.DB()}
}

// Create вставляет заказ с позициями в одной транзакции; ID выдаёт последовательность,
// если он не задан заранее.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{
		order.BuyerID, order.OrderDate, string(order.Status), order.Description, order.PaymentRef,
		order.Address.Street, order.Address.City, order.Address.State, order.Address.Country, order.Address.ZipCode,
		order.CreatedAt, order.UpdatedAt,
	}

	var id int64
	if order.ID != 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				buyer_id, order_date, status, description, payment_ref,
				street, city, state, country, zip_code, version, created_at, updated_at, id
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12,$13)
			RETURNING id
		`, append(args, order.ID)...).Scan(&id)
	} else {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO orders (
				buyer_id, order_date, status, description, payment_ref,
				street, city, state, country, zip_code, version, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$12)
			RETURNING id
		`, args...).Scan(&id)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return unavailable("insert order", err)
	}

	if order.ID != 0 {
		// Явный ID не двигает последовательность: подтягиваем её, чтобы следующие вставки не упёрлись в PK.
		if _, err := tx.ExecContext(ctx, `
			SELECT setval(pg_get_serial_sequence('orders', 'id'), GREATEST($1, (SELECT last_value FROM orders_id_seq)))
		`, id); err != nil {
			return unavailable("advance order sequence", err)
		}
	}

	if err := insertItems(ctx, tx, id, order.Items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit create order", err)
	}

	order.ID = id
	order.Version = 0
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, unavailable("select order", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", buyerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, buyerID)
	}
	if err != nil {
		return nil, unavailable("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, unavailable("scan order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate order rows", err)
	}

	for i := range orders {
		items, err := r.loadItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}

	return orders, nil
}

// Save обновляет заказ только при совпадении версии; позиции переписываются целиком.
func (r *OrderRepository) Save(ctx context.Context, order *domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    description = $2,
		    payment_ref = $3,
		    street = $4,
		    city = $5,
		    state = $6,
		    country = $7,
		    zip_code = $8,
		    version = version + 1,
		    updated_at = $9
		WHERE id = $10
		  AND version = $11
	`,
		string(order.Status),
		order.Description,
		order.PaymentRef,
		order.Address.Street, order.Address.City, order.Address.State, order.Address.Country, order.Address.ZipCode,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return unavailable("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable("rows affected", err)
	}
	if affected == 0 {
		exists, err := orderExistsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return unavailable("delete order items", err)
	}
	if err := insertItems(ctx, tx, order.ID, order.Items); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit save order", err)
	}

	order.Version++
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, orderID int64, items []domain.OrderItem) error {
	for i, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, product_name, unit_price_minor, units, picture_url
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			orderID, i, item.ProductID, item.ProductName, item.UnitPriceMinor, item.Units, item.PictureURL,
		); err != nil {
			return unavailable("insert order item", err)
		}
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, unit_price_minor, units, picture_url
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, unavailable("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.UnitPriceMinor, &item.Units, &item.PictureURL); err != nil {
			return nil, unavailable("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate order items", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.BuyerID, &order.OrderDate, &status, &order.Description, &order.PaymentRef,
		&order.Address.Street, &order.Address.City, &order.Address.State, &order.Address.Country, &order.Address.ZipCode,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID int64) (bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, unavailable("check order exists", err)
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
