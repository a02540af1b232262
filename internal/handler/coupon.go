package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/google/uuid"

	"github.com/xenking/checkout-api/internal/domain/coupon"
)

const messageCouponApplied = "Coupon applied successfully."

// RedeemCoupon reserves {code} for {cartId}.
func (h *Handler) RedeemCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code   string
		cartID uuid.UUID
	)
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = decodeString(d)
		case "cartId":
			cartID, err = decodeUUID(d, coupon.ErrCartNotFound.Error())
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		h.failEnvelope(w, r, err)
		return
	}

	applied, err := h.coupons.Redeem(r.Context(), code, cartID)
	if err != nil {
		h.failEnvelope(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
			e.Field("message", func(e *jx.Encoder) { e.Str(messageCouponApplied) })
			e.Field("data", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("couponCode", func(e *jx.Encoder) { e.Str(applied.CouponCode) })
					e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, applied.Discount) })
				})
			})
		})
	})
}

// CreateCoupon creates an active coupon.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var in coupon.NewCoupon
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			in.Code, err = decodeString(d)
		case "discount":
			in.Discount, err = decodeDecimal(d, "discount")
		case "expiresAt":
			in.ExpiresAt, err = decodeTime(d, "expiresAt")
		case "maxRedeemCount":
			in.MaxRedeemCount, err = d.Int()
		case "showOnHomepage":
			in.ShowOnHomepage, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.coupons.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCoupon(w, http.StatusCreated, c)
}

// GetCoupon returns the coupon by code.
func (h *Handler) GetCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "coupon"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCoupon(w, http.StatusOK, c)
}

// UpdateCoupon applies the fields present in the body. Null fields are
// treated as absent.
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "coupon", "Invalid coupon id.")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var p coupon.Patch
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		switch key {
		case "code":
			v, err := d.Str()
			p.Code = &v
			return err
		case "discount":
			v, err := decodeDecimal(d, "discount")
			p.Discount = &v
			return err
		case "expiresAt":
			v, err := decodeTime(d, "expiresAt")
			p.ExpiresAt = &v
			return err
		case "maxRedeemCount":
			v, err := d.Int()
			p.MaxRedeemCount = &v
			return err
		case "isActive":
			v, err := d.Bool()
			p.IsActive = &v
			return err
		case "showOnHomepage":
			v, err := d.Bool()
			p.ShowOnHomepage = &v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		h.fail(w, r, err)
		return
	}

	c, err := h.coupons.Update(r.Context(), id, p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeCoupon(w, http.StatusOK, c)
}

// DeleteCoupon removes the coupon and its redemptions.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "coupon", "Invalid coupon id.")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.coupons.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathUUID(r *http.Request, name, msg string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, badRequest(msg)
	}
	return id, nil
}

func writeCoupon(w http.ResponseWriter, status int, c *coupon.Coupon) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("id", func(e *jx.Encoder) { e.Str(c.ID.String()) })
			e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
			e.Field("discount", func(e *jx.Encoder) { encodeDecimal(e, c.Discount) })
			e.Field("expiresAt", func(e *jx.Encoder) { encodeTime(e, c.ExpiresAt) })
			e.Field("maxRedeemCount", func(e *jx.Encoder) { e.Int(c.MaxRedeemCount) })
			e.Field("redeemCount", func(e *jx.Encoder) { e.Int(c.RedeemCount) })
			e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
			e.Field("showOnHomepage", func(e *jx.Encoder) { e.Bool(c.ShowOnHomepage) })
			e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, c.CreatedAt) })
			e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, c.UpdatedAt) })
		})
	})
}
