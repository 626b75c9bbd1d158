package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// Metadata field aliases. Direct fields are consulted first, then the
// gateway's custom_fields list.
var (
	typeKeys         = []string{"type", "payment_type", "paymentType"}
	planKeys         = []string{"plan", "subscription_plan", "subscriptionPlan"}
	storeIDKeys      = []string{"storeId", "store_id"}
	ordersKeys       = []string{"orders", "cartGroups", "cart_groups"}
	shippingInfoKeys = []string{"shippingInfo", "shipping_info"}
	deliveryFeeKeys  = []string{"deliveryFee", "delivery_fee"}

	productIDKeys = []string{"productId", "product_id", "id"}
	quantityKeys  = []string{"quantity", "qty"}
	itemsKeys     = []string{"items", "products"}
)

// MetadataExtractor turns raw gateway metadata into an Intent.
type MetadataExtractor struct {
	validate *validator.Validate
}

func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{validate: validator.New()}
}

// Extract resolves raw into exactly one Intent variant or fails with
// ErrInvalidMetadata. Nothing is mutated before an Intent is fully resolved.
func (e *MetadataExtractor) Extract(raw map[string]any) (models.Intent, error) {
	if len(raw) == 0 {
		return nil, invalidMetadata("metadata is empty")
	}
	fields := metadataFields{raw: raw, custom: customFields(raw)}

	kind := strings.ToLower(fields.str(typeKeys...))
	plan := strings.ToLower(fields.str(planKeys...))
	storeID := fields.str(storeIDKeys...)
	ordersRaw, hasOrders := fields.value(ordersKeys...)
	shippingRaw, hasShipping := fields.value(shippingInfoKeys...)

	wantSubscription := plan != "" && storeID != ""
	switch {
	case kind == string(models.IntentSubscription):
		if !wantSubscription {
			return nil, invalidMetadata("subscription payment requires plan and storeId")
		}
	case kind == string(models.IntentOrder):
		wantSubscription = false
	case kind != "":
		return nil, invalidMetadata(fmt.Sprintf("unknown payment type %q", kind))
	case wantSubscription && hasOrders:
		return nil, invalidMetadata("metadata describes both a subscription and an order")
	}

	if wantSubscription {
		return e.subscriptionIntent(storeID, plan)
	}
	if !hasOrders || !hasShipping {
		return nil, invalidMetadata("metadata resolves to neither a subscription nor an order")
	}
	feeRaw, _ := fields.value(deliveryFeeKeys...)
	return e.orderIntent(ordersRaw, shippingRaw, feeRaw)
}

func (e *MetadataExtractor) subscriptionIntent(storeID, plan string) (models.Intent, error) {
	id, err := uuid.Parse(storeID)
	if err != nil {
		return nil, invalidMetadata(fmt.Sprintf("storeId %q is not a valid id", storeID))
	}
	intent := models.SubscriptionIntent{StoreID: id, Plan: plan}
	if err := e.validate.Struct(intent); err != nil {
		return nil, invalidMetadata(fmt.Sprintf("unsupported plan %q", plan))
	}
	return intent, nil
}

func (e *MetadataExtractor) orderIntent(ordersRaw, shippingRaw, feeRaw any) (models.Intent, error) {
	groups, err := parseCartGroups(ordersRaw)
	if err != nil {
		return nil, invalidMetadata(err.Error())
	}
	shipping, ok := asObject(shippingRaw)
	if !ok {
		return nil, invalidMetadata("shippingInfo must be an object")
	}
	fee := decimal.Zero
	if feeRaw != nil {
		if fee, err = asDecimal(feeRaw); err != nil {
			return nil, invalidMetadata("deliveryFee is not a number")
		}
		if fee.IsNegative() {
			return nil, invalidMetadata("deliveryFee must not be negative")
		}
	}

	intent := models.OrderIntent{CartGroups: groups, ShippingInfo: shipping, DeliveryFee: fee}
	if err := e.validate.Struct(intent); err != nil {
		return nil, invalidMetadata(fmt.Sprintf("order metadata failed validation: %v", err))
	}
	return intent, nil
}

// parseCartGroups decodes the orders field, merging groups for the same store
// and summing repeated product lines. Client-supplied prices are dropped here.
func parseCartGroups(v any) ([]models.CartGroup, error) {
	list, ok := asList(v)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("orders must be a non-empty list")
	}

	var groups []models.CartGroup
	byStore := make(map[uuid.UUID]int)
	for i, entry := range list {
		obj, ok := asObject(entry)
		if !ok {
			return nil, fmt.Errorf("orders[%d] is not an object", i)
		}
		g := metadataFields{raw: obj}
		storeID, err := uuid.Parse(g.str(storeIDKeys...))
		if err != nil {
			return nil, fmt.Errorf("orders[%d].storeId is not a valid id", i)
		}
		itemsRaw, _ := g.value(itemsKeys...)
		items, ok := asList(itemsRaw)
		if !ok || len(items) == 0 {
			return nil, fmt.Errorf("orders[%d].items must be a non-empty list", i)
		}

		idx, seen := byStore[storeID]
		if !seen {
			idx = len(groups)
			byStore[storeID] = idx
			groups = append(groups, models.CartGroup{StoreID: storeID})
		}
		for j, itemRaw := range items {
			item, err := parseCartItem(itemRaw)
			if err != nil {
				return nil, fmt.Errorf("orders[%d].items[%d]: %w", i, j, err)
			}
			groups[idx].Items = mergeItem(groups[idx].Items, item)
		}
	}
	return groups, nil
}

func parseCartItem(v any) (models.CartItem, error) {
	obj, ok := asObject(v)
	if !ok {
		return models.CartItem{}, fmt.Errorf("item is not an object")
	}
	f := metadataFields{raw: obj}
	id, err := uuid.Parse(f.str(productIDKeys...))
	if err != nil {
		return models.CartItem{}, fmt.Errorf("productId is not a valid id")
	}
	qtyRaw, _ := f.value(quantityKeys...)
	qty, err := asDecimal(qtyRaw)
	if err != nil || !qty.IsInteger() || !qty.IsPositive() {
		return models.CartItem{}, fmt.Errorf("quantity must be a positive integer")
	}
	return models.CartItem{ProductID: id, Quantity: int(qty.IntPart())}, nil
}

func mergeItem(items []models.CartItem, item models.CartItem) []models.CartItem {
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i].Quantity += item.Quantity
			return items
		}
	}
	return append(items, item)
}

// metadataFields looks fields up in the direct map first and then in the
// custom_fields entries.
type metadataFields struct {
	raw    map[string]any
	custom map[string]any
}

func (f metadataFields) value(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f.raw[k]; ok && !isBlank(v) {
			return v, true
		}
	}
	for _, k := range keys {
		if v, ok := f.custom[strings.ToLower(k)]; ok && !isBlank(v) {
			return v, true
		}
	}
	return nil, false
}

func (f metadataFields) str(keys ...string) string {
	v, ok := f.value(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// customFields indexes the custom_fields list by lower-cased variable_name,
// name and display_name. The first entry for a name wins.
func customFields(raw map[string]any) map[string]any {
	list, ok := asList(raw["custom_fields"])
	if !ok {
		return nil
	}
	out := make(map[string]any)
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		value := obj["value"]
		for _, nameKey := range []string{"variable_name", "name", "display_name"} {
			name, _ := obj[nameKey].(string)
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if _, exists := out[name]; !exists {
				out[name] = value
			}
		}
	}
	return out
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

// asList accepts a JSON array or a string holding one.
func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case string:
		var out []any
		if err := decodeJSONString(t, &out); err != nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

// asObject accepts a JSON object or a string holding one.
func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case string:
		var out map[string]any
		if err := decodeJSONString(t, &out); err != nil || out == nil {
			return nil, false
		}
		return out, true
	}
	return nil, false
}

func asDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	}
	return decimal.Zero, fmt.Errorf("not a number: %T", v)
}

func decodeJSONString(s string, out any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(out)
}

// metadataKeys lists the top-level keys of raw for audit entries.
func metadataKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func invalidMetadata(reason string) *ServiceError {
	return newError(ErrInvalidMetadata, "Payment metadata is invalid: "+reason, nil)
}
