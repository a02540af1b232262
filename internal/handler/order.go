package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/checkout-api/internal/domain/auth"
	"github.com/xenking/checkout-api/internal/domain/coupon"
	"github.com/xenking/checkout-api/internal/domain/customer"
	"github.com/xenking/checkout-api/internal/domain/order"
)

// CreateOrder places an order for the authenticated user. Totals are taken
// from the client as computed by the order summary.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	req := order.CreateRequest{UserID: p.UserID}

	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeItems(d)
		case "addressId":
			req.AddressID, err = decodeUUID(d, customer.ErrAddressNotFound.Error())
		case "paymentMethod":
			var v string
			v, err = decodeString(d)
			req.PaymentMethod = order.PaymentMethod(v)
		case "discountCode":
			req.DiscountCode, err = decodeString(d)
		case "cartId":
			var id uuid.UUID
			id, err = decodeUUID(d, coupon.ErrCartNotFound.Error())
			if id != uuid.Nil {
				req.CartID = &id
			}
		case "billingAddress":
			req.BillingAddress, err = decodeAddress(d)
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		case "subtotal":
			req.Totals.Subtotal, err = decodeDecimal(d, key)
		case "totalAmount":
			req.Totals.TotalAmount, err = decodeDecimal(d, key)
		case "taxAmount":
			req.Totals.TaxAmount, err = decodeDecimal(d, key)
		case "taxType":
			req.Totals.TaxType, err = decodeString(d)
		case "appliedTaxRate":
			req.Totals.AppliedTaxRate, err = decodeDecimal(d, key)
		case "isTaxInclusive":
			req.Totals.IsTaxInclusive, err = d.Bool()
		case "shippingRate":
			req.Totals.ShippingRate, err = decodeDecimal(d, key)
		case "discountAmount":
			req.Totals.DiscountAmount, err = decodeDecimal(d, key)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.AddressID == uuid.Nil {
		h.fail(w, r, customer.ErrAddressNotFound)
		return
	}

	created, err := h.orders.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, created.TotalAmount) })
			e.Field("id", func(e *jx.Encoder) { e.Str(created.ID.String()) })
			e.Field("fullname", func(e *jx.Encoder) { e.Str(created.Fullname) })
			if created.RazorpayOrderID != "" {
				e.Field("razorpayid", func(e *jx.Encoder) { e.Str(created.RazorpayOrderID) })
				e.Field("razorpayKeyId", func(e *jx.Encoder) { e.Str(created.RazorpayKeyID) })
			}
		})
	})
}

func decodeItems(d *jx.Decoder) ([]order.Item, error) {
	var items []order.Item
	err := d.Arr(func(d *jx.Decoder) error {
		idx := len(items)
		var it order.Item
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "productId", "variantId":
				id, err := decodeUUID(d, fmt.Sprintf("Item %d: invalid %s.", idx+1, key))
				if err != nil || id == uuid.Nil {
					return err
				}
				if key == "productId" {
					it.ProductID = &id
				} else {
					it.VariantID = &id
				}
				return nil
			case "quantity":
				v, err := d.Int()
				it.Quantity = v
				return err
			case "price":
				v, err := decodeDecimal(d, fmt.Sprintf("price for item %d", idx+1))
				it.Price = v
				return err
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeAddress(d *jx.Decoder) (order.AddressSnapshot, error) {
	var a order.AddressSnapshot
	if d.Next() == jx.Null {
		return a, d.Null()
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var (
			v   string
			err error
		)
		switch key {
		case "fullname", "phone", "line1", "line2", "city", "state":
			v, err = decodeString(d)
		case "pincode":
			v, err = decodeScalar(d)
		default:
			return d.Skip()
		}
		switch key {
		case "fullname":
			a.Fullname = v
		case "phone":
			a.Phone = v
		case "line1":
			a.Line1 = v
		case "line2":
			a.Line2 = v
		case "city":
			a.City = v
		case "state":
			a.State = v
		case "pincode":
			a.Pincode = v
		}
		return err
	})
	return a, err
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	orders, err := h.orders.List(r.Context(), p.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

// GetOrder returns one of the caller's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id", order.ErrNotFound.Error())
	if err != nil {
		h.fail(w, r, order.ErrNotFound)
		return
	}
	p, _ := auth.FromContext(r.Context())
	o, err := h.orders.Get(r.Context(), p.UserID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// UpdateOrderStatus moves an order along the status machine.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id", "Invalid order id.")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var raw string
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		v, err := decodeString(d)
		raw = v
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := order.ParseStatus(raw)
	if err != nil {
		h.fail(w, r, badRequest("Invalid order status."))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), id, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID.String()) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("isVisible", func(e *jx.Encoder) { e.Bool(o.IsVisible) })
		e.Field("addressId", func(e *jx.Encoder) { e.Str(o.AddressID.String()) })
		e.Field("paymentId", func(e *jx.Encoder) { e.Str(o.PaymentID.String()) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeDecimal(e, o.Totals.Subtotal) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeDecimal(e, o.Totals.TotalAmount) })
		e.Field("taxAmount", func(e *jx.Encoder) { encodeDecimal(e, o.Totals.TaxAmount) })
		e.Field("taxType", func(e *jx.Encoder) { e.Str(o.Totals.TaxType) })
		e.Field("appliedTaxRate", func(e *jx.Encoder) { encodeDecimal(e, o.Totals.AppliedTaxRate) })
		e.Field("isTaxInclusive", func(e *jx.Encoder) { e.Bool(o.Totals.IsTaxInclusive) })
		e.Field("shippingRate", func(e *jx.Encoder) { encodeDecimal(e, o.Totals.ShippingRate) })
		e.Field("discountAmount", func(e *jx.Encoder) { encodeDecimal(e, o.Totals.DiscountAmount) })
		if o.DiscountCode != "" {
			e.Field("discountCode", func(e *jx.Encoder) { e.Str(o.DiscountCode) })
		}
		if o.RazorpayOrderID != "" {
			e.Field("razorpayOrderId", func(e *jx.Encoder) { e.Str(o.RazorpayOrderID) })
		}
		e.Field("billingAddress", func(e *jx.Encoder) { encodeAddress(e, o.Billing) })
		e.Field("shippingAddress", func(e *jx.Encoder) { encodeAddress(e, o.Shipping) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						if it.ProductID != nil {
							e.Field("productId", func(e *jx.Encoder) { e.Str(it.ProductID.String()) })
						}
						if it.VariantID != nil {
							e.Field("variantId", func(e *jx.Encoder) { e.Str(it.VariantID.String()) })
						}
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price", func(e *jx.Encoder) { encodeDecimal(e, it.Price) })
					})
				}
			})
		})
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
	})
}

func encodeAddress(e *jx.Encoder, a order.AddressSnapshot) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("fullname", func(e *jx.Encoder) { e.Str(a.Fullname) })
		e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
		e.Field("line1", func(e *jx.Encoder) { e.Str(a.Line1) })
		e.Field("line2", func(e *jx.Encoder) { e.Str(a.Line2) })
		e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
		e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
		e.Field("pincode", func(e *jx.Encoder) { e.Str(a.Pincode) })
	})
}
