package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

const (
	productFields = "id, name, base_price, tiers, variants, stock"
	cartFields    = "id, product_id, variant_id, name, base_price, tiers, quantity"
	orderFields   = "number, owner_id, items, stages, delivery, status, total, created_at"
)

type IRepository interface {
	Register(context.Context, string, string) (int, error)
	IsUserExist(context.Context, string) (bool, error)
	CheckCredentials(context.Context, string, string) (int, error)

	GetProducts(context.Context) ([]model.Product, error)
	GetProductByID(context.Context, string) (model.Product, error)

	GetCartLines(context.Context, int) ([]model.CartLine, error)
	AddCartLine(context.Context, int, model.CartLine) error
	UpdateCartQuantity(context.Context, int, string, int) error
	DeleteCartLine(context.Context, int, string) error
	ClearCart(context.Context, int) error

	CreateOrder(context.Context, model.Order) error
	GetOrders(context.Context, int) ([]model.Order, error)
	GetOrderByNumber(context.Context, string) (model.Order, error)
	UpdateOrderStages(context.Context, string, int, []byte, string, []byte) error
}

type Repository struct {
	Conn   *sql.DB
	Logger *zap.SugaredLogger
}

func NewRepository(connString string, logger *zap.SugaredLogger) (*Repository, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}

	if err = db.PingContext(context.Background()); err != nil {
		return nil, err
	}

	if err = runMigrations(db); err != nil {
		return nil, err
	}

	return &Repository{Conn: db, Logger: logger}, nil
}

func (r Repository) Register(ctx context.Context, login, password string) (int, error) {
	var id int
	row := r.Conn.QueryRowContext(ctx, "INSERT INTO users (login, password) VALUES ($1, $2) RETURNING id", login, password)

	err := row.Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repository) IsUserExist(ctx context.Context, login string) (bool, error) {
	exist := false

	row := r.Conn.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE login=$1)", login)
	err := row.Scan(&exist)
	if err != nil {
		return false, err
	}

	return exist, nil
}

func (r Repository) CheckCredentials(ctx context.Context, login string, password string) (int, error) {
	var id int
	row := r.Conn.QueryRowContext(ctx, "SELECT id FROM users WHERE login = $1 AND password = $2", login, password)

	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInvalidCredentials
	}
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (r Repository) GetProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := r.Conn.QueryContext(ctx, "SELECT "+productFields+" FROM products ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := r.scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (r Repository) GetProductByID(ctx context.Context, id string) (model.Product, error) {
	rows, err := r.Conn.QueryContext(ctx, "SELECT "+productFields+" FROM products WHERE id = $1", id)
	if err != nil {
		return model.Product{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return model.Product{}, err
		}
		return model.Product{}, ErrNotFound
	}

	return r.scanProduct(rows)
}

func (r Repository) scanProduct(rows *sql.Rows) (model.Product, error) {
	var (
		p               model.Product
		base            sql.NullString
		tiers, variants []byte
	)

	err := rows.Scan(&p.ID, &p.Name, &base, &tiers, &variants, &p.Stock)
	if err != nil {
		return model.Product{}, err
	}

	p.BasePrice = model.RawPrice{Text: base.String}
	if len(tiers) > 0 {
		if err = json.Unmarshal(tiers, &p.Tiers); err != nil {
			r.Logger.Errorf("unreadable tiers for product %s: %s", p.ID, err)
			p.Tiers = nil
		}
	}
	if len(variants) > 0 {
		if err = json.Unmarshal(variants, &p.Variants); err != nil {
			r.Logger.Errorf("unreadable variants for product %s: %s", p.ID, err)
			p.Variants = nil
		}
	}

	return p, nil
}

func (r Repository) GetCartLines(ctx context.Context, uid int) ([]model.CartLine, error) {
	rows, err := r.Conn.QueryContext(ctx, "SELECT "+cartFields+" FROM cart_lines WHERE user_id = $1 ORDER BY added_at", uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var (
			l       model.CartLine
			variant sql.NullString
			base    sql.NullString
			tiers   []byte
		)

		err = rows.Scan(&l.ID, &l.ProductID, &variant, &l.Name, &base, &tiers, &l.Quantity)
		if err != nil {
			return nil, err
		}

		l.VariantID = variant.String
		l.UnitBasePrice = model.RawPrice{Text: base.String}
		if len(tiers) > 0 {
			if err = json.Unmarshal(tiers, &l.Tiers); err != nil {
				r.Logger.Errorf("unreadable tiers for cart line %s: %s", l.ID, err)
				l.Tiers = nil
			}
		}

		lines = append(lines, l)
	}

	return lines, rows.Err()
}

func (r Repository) AddCartLine(ctx context.Context, uid int, line model.CartLine) error {
	tiers, err := json.Marshal(line.Tiers)
	if err != nil {
		return err
	}

	// Re-adding the same product merges into the existing line.
	_, err = r.Conn.ExecContext(ctx, `INSERT INTO cart_lines (id, user_id, product_id, variant_id, name, base_price, tiers, quantity, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, product_id, variant_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity`,
		line.ID, uid, line.ProductID, line.VariantID, line.Name, line.UnitBasePrice.Text, tiers, line.Quantity, time.Now())
	return err
}

func (r Repository) UpdateCartQuantity(ctx context.Context, uid int, lineID string, quantity int) error {
	res, err := r.Conn.ExecContext(ctx, "UPDATE cart_lines SET quantity = $1 WHERE id = $2 AND user_id = $3", quantity, lineID, uid)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repository) DeleteCartLine(ctx context.Context, uid int, lineID string) error {
	res, err := r.Conn.ExecContext(ctx, "DELETE FROM cart_lines WHERE id = $1 AND user_id = $2", lineID, uid)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repository) ClearCart(ctx context.Context, uid int) error {
	_, err := r.Conn.ExecContext(ctx, "DELETE FROM cart_lines WHERE user_id = $1", uid)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateOrder inserts the order and empties the owner's cart in one
// transaction, so a failed insert leaves the cart intact. A generated number
// hitting the unique constraint comes back as ErrNumberCollision so the
// caller can retry with a fresh one.
func (r Repository) CreateOrder(ctx context.Context, o model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	delivery, err := json.Marshal(o.Delivery)
	if err != nil {
		return err
	}

	tx, err := r.Conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (number, owner_id, items, stages, delivery, status, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.Number, o.OwnerID, items, o.RawStages, delivery, o.Status, o.Total, o.CreatedAt)
	if isUniqueViolation(err) {
		return ErrNumberCollision
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE user_id = $1", o.OwnerID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r Repository) GetOrders(ctx context.Context, uid int) ([]model.Order, error) {
	rows, err := r.Conn.QueryContext(ctx, "SELECT "+orderFields+" FROM orders WHERE owner_id = $1 ORDER BY created_at DESC", uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

func (r Repository) GetOrderByNumber(ctx context.Context, number string) (model.Order, error) {
	rows, err := r.Conn.QueryContext(ctx, "SELECT "+orderFields+" FROM orders WHERE number = $1", number)
	if err != nil {
		return model.Order{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return model.Order{}, err
		}
		return model.Order{}, ErrNotFound
	}

	return r.scanOrder(rows)
}

func (r Repository) scanOrder(rows *sql.Rows) (model.Order, error) {
	var (
		o               model.Order
		items, delivery []byte
		total           decimal.Decimal
	)

	err := rows.Scan(&o.Number, &o.OwnerID, &items, &o.RawStages, &delivery, &o.Status, &total, &o.CreatedAt)
	if err != nil {
		return model.Order{}, err
	}

	o.Total = total
	if len(items) > 0 {
		if err = json.Unmarshal(items, &o.Items); err != nil {
			r.Logger.Errorf("unreadable items for order %s: %s", o.Number, err)
			o.Items = nil
		}
	}
	if len(delivery) > 0 {
		if err = json.Unmarshal(delivery, &o.Delivery); err != nil {
			r.Logger.Errorf("unreadable delivery for order %s: %s", o.Number, err)
			o.Delivery = nil
		}
	}

	return o, nil
}

// UpdateOrderStages persists a stage transition conditioned on ownership.
// A non-nil delivery is written in the same statement; callers pass it when
// the stored column is still empty but the legacy stage record carried an
// address, so the first transition does not strand it.
// Zero affected rows means either the order does not exist or it belongs to
// someone else; the caller treats those differently, so they are told apart
// with a second lookup.
func (r Repository) UpdateOrderStages(ctx context.Context, number string, uid int, stages []byte, status string, delivery []byte) error {
	var (
		res sql.Result
		err error
	)
	if delivery != nil {
		res, err = r.Conn.ExecContext(ctx, "UPDATE orders SET stages = $1, status = $2, delivery = $3 WHERE number = $4 AND owner_id = $5",
			stages, status, delivery, number, uid)
	} else {
		res, err = r.Conn.ExecContext(ctx, "UPDATE orders SET stages = $1, status = $2 WHERE number = $3 AND owner_id = $4", stages, status, number, uid)
	}
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var owner int
	err = r.Conn.QueryRowContext(ctx, "SELECT owner_id FROM orders WHERE number = $1", number).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAccessDenied
}
