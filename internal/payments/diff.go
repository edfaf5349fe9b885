package payments

// DifferentFrom reports whether the desired params diverge from the live
// intent in any field this system manages. It drives the decision to issue an
// update before confirmation; a false result means the remote record can be
// reused as-is.
func DifferentFrom(params Params, intent *Intent) bool {
	if intent == nil {
		return true
	}
	if params.Amount != intent.Amount {
		return true
	}
	if params.Currency != intent.Currency {
		return true
	}
	if paymentMethodTypesDiffer(params.PaymentMethodTypes, intent.PaymentMethodTypes) {
		return true
	}
	if shippingDiffers(params.Shipping, intent.Shipping) {
		return true
	}
	if params.Description != intent.Description {
		return true
	}
	if metadataDiffers(params.Metadata, intent.Metadata) {
		return true
	}
	if level3Differs(params.Level3, intent.Level3) {
		return true
	}
	return false
}

// FilteredUpdateParams narrows params to the allow-listed update fields.
// Amount and currency are dropped when they already match the live intent;
// a shipping detail present remotely but absent locally becomes an explicit
// clear so the remote record does not go stale.
func FilteredUpdateParams(params Params, intent *Intent) UpdateParams {
	update := UpdateParams{
		Metadata: params.Metadata,
		Level3:   params.Level3,
	}
	if intent == nil || params.Amount != intent.Amount {
		amount := params.Amount
		update.Amount = &amount
	}
	if intent == nil || params.Currency != intent.Currency {
		code := params.Currency
		update.Currency = &code
	}
	if params.Description != "" {
		desc := params.Description
		update.Description = &desc
	}
	if params.Shipping != nil {
		update.Shipping = params.Shipping
	} else if intent != nil && intent.Shipping != nil {
		update.ClearShipping = true
	}
	return update
}

func paymentMethodTypesDiffer(want, have []string) bool {
	if len(want) == 0 && len(have) == 0 {
		return false
	}
	wantSet := make(map[string]struct{}, len(want))
	for _, t := range want {
		wantSet[t] = struct{}{}
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, t := range have {
		haveSet[t] = struct{}{}
	}
	if len(wantSet) != len(haveSet) {
		return true
	}
	for t := range wantSet {
		if _, ok := haveSet[t]; !ok {
			return true
		}
	}
	return false
}

func shippingDiffers(want, have *ShippingDetail) bool {
	if want == nil || have == nil {
		return (want == nil) != (have == nil)
	}
	if want.Name != have.Name || want.Phone != have.Phone {
		return true
	}
	wa, ha := want.Address, have.Address
	return wa.City != ha.City || wa.Country != ha.Country ||
		wa.Line1 != ha.Line1 || wa.Line2 != ha.Line2 ||
		wa.PostalCode != ha.PostalCode || wa.State != ha.State
}

// metadataDiffers is deliberately one-directional: every desired key must be
// present with the same value on the intent, but extra remote keys written by
// other actors (webhooks, support tooling) do not count as a difference.
func metadataDiffers(want, have map[string]string) bool {
	for key, value := range want {
		if have[key] != value {
			return true
		}
	}
	return false
}

func level3Differs(want, have *Level3Data) bool {
	if want == nil || have == nil {
		return (want == nil) != (have == nil)
	}
	if want.MerchantReference != have.MerchantReference ||
		want.CustomerReference != have.CustomerReference ||
		want.ShippingAddressZip != have.ShippingAddressZip ||
		want.ShippingFromZip != have.ShippingFromZip ||
		want.ShippingAmount != have.ShippingAmount {
		return true
	}
	if len(want.LineItems) != len(have.LineItems) {
		return true
	}
	// Line items are compared by position. Reorderings count as a difference,
	// which at worst costs a redundant update.
	for i := range want.LineItems {
		w, h := want.LineItems[i], have.LineItems[i]
		if w.ProductCode != h.ProductCode ||
			w.ProductDescription != h.ProductDescription ||
			w.UnitCost != h.UnitCost ||
			w.Quantity != h.Quantity ||
			w.TaxAmount != h.TaxAmount ||
			w.DiscountAmount != h.DiscountAmount {
			return true
		}
	}
	return false
}
