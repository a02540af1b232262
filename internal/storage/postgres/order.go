package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/checkout-api/internal/domain/order"
)

const (
	orderColumns = `id, user_id, address_id, payment_id, status, is_visible,
		subtotal, total_amount, tax_amount, tax_type, applied_tax_rate, is_tax_inclusive,
		shipping_rate, discount_amount, discount_code, razorpay_order_id,
		billing_address, shipping_address, created_at, updated_at`

	insertPaymentSQL = `INSERT INTO payments (id, method, status, amount)
		VALUES ($1, $2, $3, $4)`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			NULLIF($15, ''), NULLIF($16, ''), $17, $18, $19, $20)`

	lockRedemptionSQL = `SELECT r.id, r.coupon_id, r.order_id
		FROM coupon_redemptions r
		JOIN coupon_codes c ON c.id = r.coupon_id
		JOIN carts ca ON ca.id = r.cart_id
		WHERE c.code = $1 AND r.cart_id = $2 AND ca.user_id = $3
		FOR UPDATE OF r`

	// show_on_homepage is recomputed from the post-increment count only, so a
	// redemption that leaves capacity shows the coupon again.
	consumeCouponSQL = `UPDATE coupon_codes SET
		redeem_count = redeem_count + 1,
		show_on_homepage = (redeem_count + 1 < max_redeem_count),
		updated_at = now()
		WHERE id = $1 AND redeem_count < max_redeem_count`

	bindRedemptionSQL = `UPDATE coupon_redemptions SET order_id = $2, updated_at = now()
		WHERE id = $1`

	clearAbandonedCartsSQL = `DELETE FROM abandoned_carts WHERE cart_id = $1 AND user_id = $2`

	findOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	lockOrderByGatewaySQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE razorpay_order_id = $1 FOR UPDATE`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id`

	orderItemsSQL = `SELECT order_id, product_id, variant_id, quantity, price
		FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`

	confirmPaymentSQL = `UPDATE payments SET status = $2, transaction_id = $3, updated_at = now()
		WHERE id = $1`

	setOrderStatusSQL = `UPDATE orders SET
		status = $2,
		is_visible = is_visible OR $2 = 'CONFIRMED',
		updated_at = now()
		WHERE id = $1
		RETURNING is_visible, updated_at`
)

var orderItemColumns = []string{"order_id", "position", "product_id", "variant_id", "quantity", "price"}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the payment, order and items in a single transaction. Coupon
// finalisation and abandoned cart cleanup each run in their own savepoint so
// their failure rolls back only their own writes.
func (r *OrderRepository) Create(ctx context.Context, p order.CreateParams) (*order.CreateResult, error) {
	res := &order.CreateResult{}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertOrder(ctx, tx, p.Order, p.Payment); err != nil {
			return err
		}
		if p.Coupon != nil {
			err := pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
				return consumeRedemption(ctx, sp, p.Coupon, p.Order.ID)
			})
			if err == nil {
				res.CouponFinalized = true
			} else {
				res.CouponSkip = err
			}
		}
		if p.Cleanup != nil {
			err := pgx.BeginFunc(ctx, tx, func(sp pgx.Tx) error {
				tag, err := sp.Exec(ctx, clearAbandonedCartsSQL, p.Cleanup.CartID, p.Cleanup.UserID)
				if err != nil {
					return errors.Wrap(err, "delete abandoned carts")
				}
				res.CartsCleared = tag.RowsAffected()
				return nil
			})
			if err != nil {
				res.CleanupErr = err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o *order.Order, pay *order.Payment) error {
	if _, err := tx.Exec(ctx, insertPaymentSQL, pay.ID, pay.Method, pay.Status, pay.Amount); err != nil {
		return errors.Wrap(err, "insert payment")
	}

	t := o.Totals
	if _, err := tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.AddressID, o.PaymentID, o.Status, o.IsVisible,
		t.Subtotal, t.TotalAmount, t.TaxAmount, t.TaxType, t.AppliedTaxRate, t.IsTaxInclusive,
		t.ShippingRate, t.DiscountAmount, o.DiscountCode, o.RazorpayOrderID,
		encodeAddress(o.Billing), encodeAddress(o.Shipping), o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return errors.Wrap(err, "insert order")
	}

	rows := make([][]any, len(o.Items))
	for i, it := range o.Items {
		rows[i] = []any{o.ID, int32(i), it.ProductID, it.VariantID, it.Quantity, it.Price}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"order_items"}, orderItemColumns, pgx.CopyFromRows(rows)); err != nil {
		return errors.Wrap(err, "copy order items")
	}
	return nil
}

func consumeRedemption(ctx context.Context, tx pgx.Tx, link *order.CouponLink, orderID uuid.UUID) error {
	var (
		redemptionID uuid.UUID
		couponID     uuid.UUID
		boundOrder   *uuid.UUID
	)
	err := tx.QueryRow(ctx, lockRedemptionSQL, link.Code, link.CartID, link.UserID).
		Scan(&redemptionID, &couponID, &boundOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrNoSoftRedemption
		}
		return errors.Wrap(err, "lock redemption")
	}
	if boundOrder != nil {
		return order.ErrNoSoftRedemption
	}

	tag, err := tx.Exec(ctx, consumeCouponSQL, couponID)
	if err != nil {
		return errors.Wrap(err, "increment coupon")
	}
	if tag.RowsAffected() == 0 {
		return order.ErrCouponExhausted
	}
	if _, err := tx.Exec(ctx, bindRedemptionSQL, redemptionID, orderID); err != nil {
		return errors.Wrap(err, "bind redemption")
	}
	return nil
}

// FindByID returns order.ErrNotFound when the order does not exist.
func (r *OrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	o, err := findOne(ctx, r.pool, findOrderSQL, id)
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, r.pool, []*order.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first, with their items.
func (r *OrderRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "collect orders")
	}
	ptrs := make([]*order.Order, len(orders))
	for i := range orders {
		ptrs[i] = &orders[i]
	}
	if err := loadItems(ctx, r.pool, ptrs); err != nil {
		return nil, err
	}
	return orders, nil
}

// ConfirmPayment marks the payment as successful and the order as confirmed
// and visible. Orders that already left PENDING are returned unchanged.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, gatewayOrderID, transactionID string) (*order.Order, bool, error) {
	var (
		o       *order.Order
		changed bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		o, err = findOne(ctx, tx, lockOrderByGatewaySQL, gatewayOrderID)
		if err != nil {
			return err
		}
		if o.Status != order.StatusPending {
			return nil
		}
		if _, err := tx.Exec(ctx, confirmPaymentSQL, o.PaymentID, order.PaymentSuccess, transactionID); err != nil {
			return errors.Wrap(err, "update payment")
		}
		if err := tx.QueryRow(ctx, setOrderStatusSQL, o.ID, order.StatusConfirmed).
			Scan(&o.IsVisible, &o.UpdatedAt); err != nil {
			return errors.Wrap(err, "update order")
		}
		o.Status = order.StatusConfirmed
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return o, changed, nil
}

// UpdateStatus changes the order status under a row lock.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to order.Status, check func(from order.Status) error) (*order.Order, error) {
	var o *order.Order
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		o, err = findOne(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}
		if err := check(o.Status); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, setOrderStatusSQL, o.ID, to).
			Scan(&o.IsVisible, &o.UpdatedAt); err != nil {
			return errors.Wrap(err, "update order")
		}
		o.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func findOne(ctx context.Context, q querier, sql string, arg any) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query order")
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan order")
	}
	return &o, nil
}

func loadItems(ctx context.Context, q querier, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*order.Order, len(orders))
	ids := make([]uuid.UUID, len(orders))
	for i, o := range orders {
		byID[o.ID] = o
		ids[i] = o.ID
	}

	rows, err := q.Query(ctx, orderItemsSQL, uuidArray(ids))
	if err != nil {
		return errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.VariantID, &it.Quantity, &it.Price); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return errors.Wrap(rows.Err(), "iterate order items")
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                 order.Order
		discountCode      *string
		gatewayOrderID    *string
		billing, shipping []byte
	)
	t := &o.Totals
	if err := row.Scan(
		&o.ID, &o.UserID, &o.AddressID, &o.PaymentID, &o.Status, &o.IsVisible,
		&t.Subtotal, &t.TotalAmount, &t.TaxAmount, &t.TaxType, &t.AppliedTaxRate, &t.IsTaxInclusive,
		&t.ShippingRate, &t.DiscountAmount, &discountCode, &gatewayOrderID,
		&billing, &shipping, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return o, err
	}
	o.DiscountCode = derefString(discountCode)
	o.RazorpayOrderID = derefString(gatewayOrderID)

	var err error
	if o.Billing, err = decodeAddress(billing); err != nil {
		return o, errors.Wrap(err, "decode billing address")
	}
	if o.Shipping, err = decodeAddress(shipping); err != nil {
		return o, errors.Wrap(err, "decode shipping address")
	}
	return o, nil
}

func encodeAddress(a order.AddressSnapshot) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("fullname", func(e *jx.Encoder) { e.Str(a.Fullname) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
		e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
		e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
		e.Field("pincode", func(e *jx.Encoder) { e.Str(a.Pincode) })
	})
	return e.Bytes()
}

func decodeAddress(data []byte) (order.AddressSnapshot, error) {
	var a order.AddressSnapshot
	if len(data) == 0 {
		return a, nil
	}
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var dst *string
		switch key {
		case "fullname":
			dst = &a.Fullname
		case "phone":
			dst = &a.Phone
		case "line1":
			dst = &a.Line1
		case "line2":
			dst = &a.Line2
		case "city":
			dst = &a.City
		case "state":
			dst = &a.State
		case "pincode":
			dst = &a.Pincode
		default:
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		*dst = s
		return nil
	})
	return a, err
}
