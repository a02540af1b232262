//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/checkout-api/internal/domain/coupon"
	"github.com/xenking/checkout-api/internal/domain/customer"
	"github.com/xenking/checkout-api/internal/domain/order"
	"github.com/xenking/checkout-api/internal/domain/summary"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkout",
				"POSTGRES_PASSWORD": "checkout",
				"POSTGRES_DB":       "checkout",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := c.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://checkout:checkout@%s:%s/checkout?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, url)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Second run must be a no-op.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate again: %v", err)
	}

	return m.Run()
}

type fixture struct {
	userID    uuid.UUID
	addressID uuid.UUID
	cartID    uuid.UUID
	productID uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{
		userID:    uuid.New(),
		addressID: uuid.New(),
		productID: uuid.New(),
	}
	_, err := testPool.Exec(ctx, `INSERT INTO users (id, fullname, email) VALUES ($1, 'Asha Rao', $2)`,
		f.userID, f.userID.String()+"@example.com")
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO addresses (id, user_id, fullname, line1, city, state, pincode)
		VALUES ($1, $2, 'Asha Rao', '12 Marine Drive', 'Mumbai', 'Maharashtra', '400001')`,
		f.addressID, f.userID)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO products (id, name, price) VALUES ($1, 'Masala Chai', 250)`, f.productID)
	require.NoError(t, err)

	f.cartID, err = NewCartRepository(testPool).GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	return f
}

func newCoupon(t *testing.T, code string, maxRedeem, redeemed int) *coupon.Coupon {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &coupon.Coupon{
		ID:             uuid.New(),
		Code:           code,
		Discount:       decimal.NewFromInt(10),
		ExpiresAt:      now.Add(24 * time.Hour),
		MaxRedeemCount: maxRedeem,
		RedeemCount:    redeemed,
		IsActive:       true,
		ShowOnHomepage: redeemed < maxRedeem,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, NewCouponRepository(testPool).Create(context.Background(), c))
	return c
}

func uniqueCode(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, time.Now().UnixNano()%1_000_000_000)
}

func newCreateParams(f fixture, link *order.CouponLink) order.CreateParams {
	now := time.Now().UTC()
	pid := f.productID
	o := &order.Order{
		ID:        uuid.New(),
		UserID:    f.userID,
		AddressID: f.addressID,
		PaymentID: uuid.New(),
		Status:    order.StatusPending,
		IsVisible: true,
		Totals: order.Totals{
			Subtotal:       decimal.RequireFromString("500"),
			TotalAmount:    decimal.RequireFromString("530"),
			TaxAmount:      decimal.RequireFromString("90"),
			TaxType:        "CGST+SGST",
			AppliedTaxRate: decimal.NewFromInt(18),
			ShippingRate:   decimal.NewFromInt(40),
			DiscountAmount: decimal.NewFromInt(100),
		},
		Billing:   order.AddressSnapshot{Fullname: "Asha Rao", City: "Mumbai", State: "Maharashtra", Pincode: "400001"},
		Shipping:  order.AddressSnapshot{Fullname: "Asha Rao", City: "Mumbai", State: "Maharashtra", Pincode: "400001"},
		Items:     []order.Item{{ProductID: &pid, Quantity: 2, Price: decimal.NewFromInt(250)}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if link != nil {
		o.DiscountCode = link.Code
	}
	return order.CreateParams{
		Order: o,
		Payment: &order.Payment{
			ID:     o.PaymentID,
			Method: order.PaymentCOD,
			Status: order.PaymentPending,
			Amount: o.Totals.TotalAmount,
		},
		Coupon:  link,
		Cleanup: &order.CartCleanup{CartID: f.cartID, UserID: f.userID},
	}
}

func TestReferenceRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewReferenceRepository(testPool)

	_, err := repo.CompanySettings(ctx)
	require.ErrorIs(t, err, summary.ErrSettingsMissing)
	creds, err := repo.GatewayCredentials(ctx)
	require.NoError(t, err)
	assert.False(t, creds.Valid())

	_, err = testPool.Exec(ctx, `INSERT INTO company_settings (id, state, is_tax_inclusive, razorpay_key_id, razorpay_key_secret)
		VALUES (1, 'Maharashtra', FALSE, 'rzp_test_key', 'secret')
		ON CONFLICT (id) DO NOTHING`)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO pincodes (zipcode, state, city) VALUES ('400001', 'Maharashtra', 'Mumbai')
		ON CONFLICT (zipcode) DO NOTHING`)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO taxes (name, percentage) VALUES ('CGST', 9), ('SGST', 9), ('IGST', 18)`)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO shipping_rates (state, intra_state_rate, inter_state_rate, is_active)
		VALUES ('Maharashtra', 40, 80, TRUE), ('Goa', 10, 20, FALSE)`)
	require.NoError(t, err)

	settings, err := repo.CompanySettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Maharashtra", settings.State)

	creds, err = repo.GatewayCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rzp_test_key", creds.KeyID)

	p, err := repo.FindPincode(ctx, "400001")
	require.NoError(t, err)
	assert.Equal(t, "Mumbai", p.City)

	_, err = repo.FindPincode(ctx, "999999")
	require.ErrorIs(t, err, summary.ErrPincodeNotFound)

	rates, err := repo.ActiveShippingRates(ctx)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.True(t, rates[0].IntraStateRate.Equal(decimal.NewFromInt(40)))

	quote, err := summary.NewResolver(repo).Resolve(ctx, "400001")
	require.NoError(t, err)
	assert.True(t, quote.Success)
	assert.Equal(t, summary.TaxTypeIntraState, quote.TaxType)
	assert.True(t, quote.TaxPercentage.Equal(decimal.NewFromInt(18)))
}

func TestCouponRepository_ReserveRedemptionIsUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := newCoupon(t, uniqueCode("RACE"), 5, 0)
	repo := NewCouponRepository(testPool)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ReserveRedemption(ctx, c.ID, f.cartID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reserved)

	red, err := repo.FindRedemption(ctx, c.ID, f.cartID)
	require.NoError(t, err)
	assert.False(t, red.Hard())

	exists, err := repo.CartExists(ctx, f.cartID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCouponRepository_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := newCoupon(t, uniqueCode("ADMIN"), 3, 0)
	repo := NewCouponRepository(testPool)

	require.ErrorIs(t, repo.Create(ctx, c), coupon.ErrCouponExists)

	updated, err := repo.Update(ctx, c.ID, func(c *coupon.Coupon) error {
		c.Discount = decimal.NewFromInt(25)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.Discount.Equal(decimal.NewFromInt(25)))

	got, err := repo.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.True(t, got.Discount.Equal(decimal.NewFromInt(25)))

	_, err = repo.ReserveRedemption(ctx, c.ID, f.cartID)
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, c.ID))
	_, err = repo.FindByCode(ctx, c.Code)
	require.ErrorIs(t, err, coupon.ErrCouponNotFound)
	_, err = repo.FindRedemption(ctx, c.ID, f.cartID)
	require.ErrorIs(t, err, coupon.ErrRedemptionNotFound)
	require.ErrorIs(t, repo.Delete(ctx, c.ID), coupon.ErrCouponNotFound)
}

func TestOrderRepository_CreateFinalizesCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := newCoupon(t, uniqueCode("SAVE"), 2, 0)
	coupons := NewCouponRepository(testPool)
	orders := NewOrderRepository(testPool)

	_, err := coupons.ReserveRedemption(ctx, c.ID, f.cartID)
	require.NoError(t, err)
	_, err = testPool.Exec(ctx, `INSERT INTO abandoned_carts (cart_id, user_id) VALUES ($1, $2), ($1, $2)`,
		f.cartID, f.userID)
	require.NoError(t, err)

	link := &order.CouponLink{Code: c.Code, CartID: f.cartID, UserID: f.userID}
	p := newCreateParams(f, link)
	res, err := orders.Create(ctx, p)
	require.NoError(t, err)
	assert.True(t, res.CouponFinalized)
	assert.NoError(t, res.CouponSkip)
	assert.EqualValues(t, 2, res.CartsCleared)

	got, err := coupons.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RedeemCount)
	assert.True(t, got.ShowOnHomepage)

	red, err := coupons.FindRedemption(ctx, c.ID, f.cartID)
	require.NoError(t, err)
	require.True(t, red.Hard())
	assert.Equal(t, p.Order.ID, *red.OrderID)

	stored, err := orders.FindByID(ctx, p.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Code, stored.DiscountCode)
	assert.Empty(t, stored.RazorpayOrderID)
	assert.Equal(t, "Mumbai", stored.Shipping.City)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.True(t, stored.Totals.TotalAmount.Equal(decimal.NewFromInt(530)))

	// The redemption is now hard; a second order on the same cart skips.
	res, err = orders.Create(ctx, newCreateParams(f, link))
	require.NoError(t, err)
	assert.False(t, res.CouponFinalized)
	assert.ErrorIs(t, res.CouponSkip, order.ErrNoSoftRedemption)

	got, err = coupons.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RedeemCount)
}

func TestOrderRepository_CreateSkipsExhaustedCoupon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := newCoupon(t, uniqueCode("LAST"), 1, 1)
	coupons := NewCouponRepository(testPool)
	orders := NewOrderRepository(testPool)

	_, err := coupons.ReserveRedemption(ctx, c.ID, f.cartID)
	require.NoError(t, err)

	p := newCreateParams(f, &order.CouponLink{Code: c.Code, CartID: f.cartID, UserID: f.userID})
	res, err := orders.Create(ctx, p)
	require.NoError(t, err)
	assert.ErrorIs(t, res.CouponSkip, order.ErrCouponExhausted)

	_, err = orders.FindByID(ctx, p.Order.ID)
	require.NoError(t, err)

	red, err := coupons.FindRedemption(ctx, c.ID, f.cartID)
	require.NoError(t, err)
	assert.False(t, red.Hard())
}

func TestOrderRepository_CreateRecomputesHomepageFlag(t *testing.T) {
	ctx := context.Background()
	coupons := NewCouponRepository(testPool)
	orders := NewOrderRepository(testPool)

	for _, tt := range []struct {
		name      string
		maxRedeem int
		visible   bool
		want      bool
	}{
		{name: "LastRedemptionHides", maxRedeem: 1, visible: true, want: false},
		{name: "CapacityLeftShows", maxRedeem: 3, visible: false, want: true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := newCoupon(t, uniqueCode("HOME"), tt.maxRedeem, 0)
			_, err := testPool.Exec(ctx, `UPDATE coupon_codes SET show_on_homepage = $2 WHERE id = $1`, c.ID, tt.visible)
			require.NoError(t, err)
			_, err = coupons.ReserveRedemption(ctx, c.ID, f.cartID)
			require.NoError(t, err)

			res, err := orders.Create(ctx, newCreateParams(f, &order.CouponLink{Code: c.Code, CartID: f.cartID, UserID: f.userID}))
			require.NoError(t, err)
			require.True(t, res.CouponFinalized)

			got, err := coupons.FindByCode(ctx, c.Code)
			require.NoError(t, err)
			assert.Equal(t, 1, got.RedeemCount)
			assert.Equal(t, tt.want, got.ShowOnHomepage)
		})
	}
}

func TestOrderRepository_CreateIgnoresForeignCart(t *testing.T) {
	ctx := context.Background()
	owner := newFixture(t)
	other := newFixture(t)
	c := newCoupon(t, uniqueCode("MINE"), 5, 0)
	coupons := NewCouponRepository(testPool)
	orders := NewOrderRepository(testPool)

	_, err := coupons.ReserveRedemption(ctx, c.ID, owner.cartID)
	require.NoError(t, err)

	p := newCreateParams(other, &order.CouponLink{Code: c.Code, CartID: owner.cartID, UserID: other.userID})
	res, err := orders.Create(ctx, p)
	require.NoError(t, err)
	assert.False(t, res.CouponFinalized)
	assert.ErrorIs(t, res.CouponSkip, order.ErrNoSoftRedemption)

	red, err := coupons.FindRedemption(ctx, c.ID, owner.cartID)
	require.NoError(t, err)
	assert.False(t, red.Hard())

	got, err := coupons.FindByCode(ctx, c.Code)
	require.NoError(t, err)
	assert.Zero(t, got.RedeemCount)
}

func TestOrderRepository_ItemsKeepSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orders := NewOrderRepository(testPool)

	p := newCreateParams(f, nil)
	p.Order.Items = nil
	for i := range 5 {
		pid := uuid.New()
		_, err := testPool.Exec(ctx, `INSERT INTO products (id, name, price) VALUES ($1, $2, 100)`,
			pid, fmt.Sprintf("Item %d", i))
		require.NoError(t, err)
		p.Order.Items = append(p.Order.Items, order.Item{ProductID: &pid, Quantity: i + 1, Price: decimal.NewFromInt(100)})
	}
	_, err := orders.Create(ctx, p)
	require.NoError(t, err)

	stored, err := orders.FindByID(ctx, p.Order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 5)
	for i, it := range stored.Items {
		assert.Equal(t, *p.Order.Items[i].ProductID, *it.ProductID)
		assert.Equal(t, i+1, it.Quantity)
	}
}

func TestOrderRepository_CreateRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orders := NewOrderRepository(testPool)

	p := newCreateParams(f, nil)
	p.Order.AddressID = uuid.New()

	_, err := orders.Create(ctx, p)
	require.Error(t, err)

	var n int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT count(*) FROM payments WHERE id = $1`, p.Payment.ID).Scan(&n))
	assert.Zero(t, n)
}

func TestOrderRepository_ConfirmPaymentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orders := NewOrderRepository(testPool)

	p := newCreateParams(f, nil)
	p.Order.IsVisible = false
	p.Order.RazorpayOrderID = "order_" + uuid.NewString()[:8]
	p.Payment.Method = order.PaymentRazorpay
	_, err := orders.Create(ctx, p)
	require.NoError(t, err)

	o, changed, err := orders.ConfirmPayment(ctx, p.Order.RazorpayOrderID, "pay_1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, order.StatusConfirmed, o.Status)
	assert.True(t, o.IsVisible)

	_, changed, err = orders.ConfirmPayment(ctx, p.Order.RazorpayOrderID, "pay_1")
	require.NoError(t, err)
	assert.False(t, changed)

	var status string
	require.NoError(t, testPool.QueryRow(ctx, `SELECT status FROM payments WHERE id = $1`, p.Payment.ID).Scan(&status))
	assert.Equal(t, string(order.PaymentSuccess), status)

	_, _, err = orders.ConfirmPayment(ctx, "order_unknown", "pay_2")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	orders := NewOrderRepository(testPool)

	p := newCreateParams(f, nil)
	_, err := orders.Create(ctx, p)
	require.NoError(t, err)

	check := func(to order.Status) func(order.Status) error {
		return func(from order.Status) error {
			if !order.CanTransition(from, to) {
				return &order.TransitionError{From: from, To: to}
			}
			return nil
		}
	}

	o, err := orders.UpdateStatus(ctx, p.Order.ID, order.StatusConfirmed, check(order.StatusConfirmed))
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, o.Status)

	_, err = orders.UpdateStatus(ctx, p.Order.ID, order.StatusDelivered, check(order.StatusDelivered))
	var tErr *order.TransitionError
	require.ErrorAs(t, err, &tErr)

	list, err := orders.ListByUser(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, order.StatusConfirmed, list[0].Status)
}

func TestCustomerAndCartRepositories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	customers := NewCustomerRepository(testPool)

	c, err := customers.FindByID(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", c.Fullname)

	_, err = customers.FindAddress(ctx, uuid.New(), f.addressID)
	require.ErrorIs(t, err, customer.ErrAddressNotFound)

	again, err := NewCartRepository(testPool).GetOrCreate(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, f.cartID, again)

	_, err = NewCartRepository(testPool).GetOrCreate(ctx, uuid.New())
	require.ErrorIs(t, err, customer.ErrNotFound)
}
