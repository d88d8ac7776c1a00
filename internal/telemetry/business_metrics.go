package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for cart and order observability.
type BusinessMetrics struct {
	// Identity
	OwnersResolved    *prometheus.CounterVec
	IdentityFallbacks prometheus.Counter

	// Cart
	CartItemsAdded   *prometheus.CounterVec
	CartItemsUpdated *prometheus.CounterVec
	CartItemsRemoved *prometheus.CounterVec
	CartEmptied      *prometheus.CounterVec
	CartSelfHealed   *prometheus.CounterVec
	CartValue        *prometheus.HistogramVec

	// Merge
	CartMerges     *prometheus.CounterVec
	CartMergeLines *prometheus.CounterVec

	// Janitor
	GuestCartSweeps       *prometheus.CounterVec
	GuestCartLinesExpired prometheus.Counter

	// Checkout
	CheckoutAttempts   *prometheus.CounterVec
	TotalMismatches    prometheus.Counter
	InvoiceAttempts    prometheus.Histogram
	OrdersCreated      *prometheus.CounterVec
	OrderValue         *prometheus.HistogramVec
	CartEmptyDeferred  prometheus.Counter
	OrderStatusChanges *prometheus.CounterVec

	// Catalog
	CatalogLookups  *prometheus.CounterVec
	CatalogDuration *prometheus.HistogramVec

	// Events
	EventsPublished *prometheus.CounterVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

// NewBusinessMetrics creates the metric set registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "cartkeeper"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	subsystem := "business"

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	// Cents-denominated value buckets: $5 to $1000.
	valueBuckets := []float64{500, 1000, 2500, 5000, 10000, 25000, 50000, 100000}

	return &BusinessMetrics{
		// =======================================================================
		// Identity
		// =======================================================================
		OwnersResolved:    counterVec("owners_resolved_total", "Cart owners resolved by kind", "kind"),
		IdentityFallbacks: counter("identity_fallbacks_total", "Guest owners resolved with the fallback address because the transport supplied none"),

		// =======================================================================
		// Cart
		// =======================================================================
		CartItemsAdded:   counterVec("cart_items_added_total", "Cart add operations", "owner_kind", "action"),
		CartItemsUpdated: counterVec("cart_items_updated_total", "Cart quantity updates", "owner_kind"),
		CartItemsRemoved: counterVec("cart_items_removed_total", "Cart line removals", "owner_kind", "reason"), // reason: user, zero_quantity
		CartEmptied:      counterVec("cart_emptied_total", "Non-empty carts emptied", "owner_kind"),
		CartSelfHealed:   counterVec("cart_self_healed_lines_total", "Cart lines removed because their product vanished", "path"),
		CartValue: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cart_value_cents",
			Help:      "Cart subtotal observed on listing",
			Buckets:   valueBuckets,
		}, []string{"owner_kind"}),

		// =======================================================================
		// Merge
		// =======================================================================
		CartMerges:     counterVec("cart_merges_total", "Guest to customer cart transfers", "outcome"),
		CartMergeLines: counterVec("cart_merge_lines_total", "Lines processed by cart merges", "result"), // result: transferred, merged, error

		// =======================================================================
		// Janitor
		// =======================================================================
		GuestCartSweeps:       counterVec("guest_cart_sweeps_total", "Guest cart expiry sweeps", "trigger"),
		GuestCartLinesExpired: counter("guest_cart_lines_expired_total", "Guest cart lines deleted by expiry sweeps"),

		// =======================================================================
		// Checkout
		// =======================================================================
		CheckoutAttempts: counterVec("checkout_attempts_total", "Checkout attempts by outcome", "outcome"),
		TotalMismatches:  counter("checkout_total_mismatches_total", "Checkouts rejected because the submitted total did not match"),
		InvoiceAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "invoice_number_attempts",
			Help:      "Attempts needed to allocate a unique invoice number",
			Buckets:   []float64{1, 2, 3, 4, 5, 10},
		}),
		OrdersCreated: counterVec("orders_created_total", "Orders created", "currency"),
		OrderValue: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "order_value_cents",
			Help:      "Order total at creation",
			Buckets:   valueBuckets,
		}, []string{"currency"}),
		CartEmptyDeferred:  counter("cart_empty_deferred_total", "Orders whose cart could not be emptied inline and was queued for retry"),
		OrderStatusChanges: counterVec("order_status_changes_total", "Order status transitions", "from", "to"),

		// =======================================================================
		// Catalog
		// =======================================================================
		CatalogLookups: counterVec("catalog_lookups_total", "Catalog lookups by source", "source"), // source: cache, db, breaker_open
		CatalogDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "catalog_lookup_duration_seconds",
			Help:      "Catalog lookup latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		// =======================================================================
		// Events
		// =======================================================================
		EventsPublished: counterVec("events_published_total", "Domain events published", "type", "outcome"),

		// =======================================================================
		// Background jobs
		// =======================================================================
		JobsEnqueued:  counterVec("jobs_enqueued_total", "Background jobs enqueued", "job_type"),
		JobsProcessed: counterVec("jobs_processed_total", "Background jobs completed", "job_type"),
		JobsFailed:    counterVec("jobs_failed_total", "Background job attempts that failed", "job_type"),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "job_duration_seconds",
			Help:      "Background job processing time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
	}
}

// Business is the process-wide instance used by services. It starts out
// bound to a private registry so packages work without InitBusinessMetrics;
// main replaces it with one exported on /metrics.
var Business = NewBusinessMetrics("cartkeeper", prometheus.NewRegistry())

// InitBusinessMetrics initializes the global business metrics instance
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace, prometheus.DefaultRegisterer)
	return Business
}
