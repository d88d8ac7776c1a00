package redisx

import "time"

const (
	// Catalog cache: catalog:product:{id} -> product JSON or a miss marker
	KeyCatalogProduct = "catalog:product:%d"

	// Checkout idempotency: idem:checkout:{customer_id}:{key} -> order id
	KeyIdemCheckout = "idem:checkout:%d:%s"
)

var (
	TTLIdempotency = 24 * time.Hour

	// TTLIdempotencyPending bounds how long an in-flight checkout holds its key.
	TTLIdempotencyPending = 2 * time.Minute
)
