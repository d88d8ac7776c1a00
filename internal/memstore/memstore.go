// Package memstore is an in-memory repository.Store with the same row
// semantics as the postgres queries. It backs service tests and lets the
// server run without a database in development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/cartkeeper/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

type lineKey struct {
	kind      string
	ref       string
	productID int64
}

type state struct {
	products    map[int64]repository.Product
	lines       map[lineKey]repository.CartLine
	orders      map[int64]repository.Order
	invoices    map[string]int64
	orderLines  map[int64][]repository.OrderLine
	jobs        map[uuid.UUID]repository.Job
	nextOrderID int64
	nextLineID  int64
}

func newState() *state {
	return &state{
		products:   make(map[int64]repository.Product),
		lines:      make(map[lineKey]repository.CartLine),
		orders:     make(map[int64]repository.Order),
		invoices:   make(map[string]int64),
		orderLines: make(map[int64][]repository.OrderLine),
		jobs:       make(map[uuid.UUID]repository.Job),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	for k, v := range s.orderLines {
		c.orderLines[k] = append([]repository.OrderLine(nil), v...)
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	c.nextOrderID = s.nextOrderID
	c.nextLineID = s.nextLineID
	return c
}

// Store is the in-memory repository.Store.
type Store struct {
	// gate serializes transactions against every other call. It is nil on
	// the transaction-scoped copy handed to ExecTx callbacks.
	gate *sync.RWMutex

	mu  sync.Mutex
	st  *state
	now func() time.Time

	// Err, when set, is consulted before every query with the query name
	// (e.g. "DeleteCartLinesByOwner"). A non-nil result is returned as the
	// query error.
	Err func(method string) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		gate: &sync.RWMutex{},
		st:   newState(),
		now:  time.Now,
	}
}

// SetNow overrides the clock used for timestamps and job scheduling.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) enter(method string) (func(), error) {
	if s.Err != nil {
		if err := s.Err(method); err != nil {
			return func() {}, err
		}
	}
	if s.gate != nil {
		s.gate.RLock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if s.gate != nil {
			s.gate.RUnlock()
		}
	}, nil
}

func (s *Store) ts() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: s.now().UTC(), Valid: true}
}

// ExecTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds. Transactions are serialized.
func (s *Store) ExecTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if s.gate == nil {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Err != nil {
		if err := s.Err("ExecTx"); err != nil {
			return err
		}
	}

	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	tx := &Store{st: s.st.clone(), now: s.now, Err: s.Err}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = tx.st
	s.mu.Unlock()
	return nil
}

// =============================================================================
// Test helpers
// =============================================================================

// PutProduct inserts or replaces an active product.
func (s *Store) PutProduct(id int64, title string, priceCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[id] = repository.Product{
		ID:         id,
		Title:      title,
		PriceCents: priceCents,
		Active:     true,
		CreatedAt:  s.ts(),
		UpdatedAt:  s.ts(),
	}
}

// RemoveProduct deletes a product, leaving any cart lines that refer to it.
func (s *Store) RemoveProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.products, id)
}

// SetLineAddedAt backdates a cart line.
func (s *Store) SetLineAddedAt(kind, ref string, productID int64, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lineKey{kind, ref, productID}
	l, ok := s.st.lines[k]
	if !ok {
		return false
	}
	l.AddedAt = pgtype.Timestamptz{Time: at.UTC(), Valid: true}
	s.st.lines[k] = l
	return true
}

// Jobs returns every job, oldest first.
func (s *Store) Jobs() []repository.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Job, 0, len(s.st.jobs))
	for _, j := range s.st.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Time.Before(out[j].CreatedAt.Time)
	})
	return out
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.orders)
}

// LineCount returns how many cart lines the owner holds, including lines
// for products no longer in the catalog.
func (s *Store) LineCount(kind, ref string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.st.lines {
		if k.kind == kind && k.ref == ref {
			n++
		}
	}
	return n
}

// =============================================================================
// Products
// =============================================================================

func (s *Store) GetActiveProduct(ctx context.Context, id int64) (repository.Product, error) {
	unlock, err := s.enter("GetActiveProduct")
	defer unlock()
	if err != nil {
		return repository.Product{}, err
	}
	p, ok := s.st.products[id]
	if !ok || !p.Active {
		return repository.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (s *Store) ProductExists(ctx context.Context, id int64) (bool, error) {
	unlock, err := s.enter("ProductExists")
	defer unlock()
	if err != nil {
		return false, err
	}
	p, ok := s.st.products[id]
	return ok && p.Active, nil
}

func (s *Store) ListActiveProductsByIDs(ctx context.Context, ids []int64) ([]repository.Product, error) {
	unlock, err := s.enter("ListActiveProductsByIDs")
	defer unlock()
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool, len(ids))
	var out []repository.Product
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := s.st.products[id]; ok && p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// Cart lines
// =============================================================================

func (s *Store) upsert(kind, ref string, productID int64, qty, maxQty int32, addedAt pgtype.Timestamptz) repository.UpsertCartLineRow {
	k := lineKey{kind, ref, productID}
	now := s.ts()
	if l, ok := s.st.lines[k]; ok {
		l.Quantity = min(l.Quantity+qty, maxQty)
		l.UpdatedAt = now
		s.st.lines[k] = l
		return upsertRow(l, false)
	}
	if !addedAt.Valid {
		addedAt = now
	}
	l := repository.CartLine{
		OwnerKind: kind,
		OwnerRef:  ref,
		ProductID: productID,
		Quantity:  qty,
		AddedAt:   addedAt,
		UpdatedAt: now,
	}
	s.st.lines[k] = l
	return upsertRow(l, true)
}

func upsertRow(l repository.CartLine, inserted bool) repository.UpsertCartLineRow {
	return repository.UpsertCartLineRow{
		OwnerKind: l.OwnerKind,
		OwnerRef:  l.OwnerRef,
		ProductID: l.ProductID,
		Quantity:  l.Quantity,
		AddedAt:   l.AddedAt,
		UpdatedAt: l.UpdatedAt,
		Inserted:  inserted,
	}
}

func (s *Store) UpsertCartLine(ctx context.Context, arg repository.UpsertCartLineParams) (repository.UpsertCartLineRow, error) {
	unlock, err := s.enter("UpsertCartLine")
	defer unlock()
	if err != nil {
		return repository.UpsertCartLineRow{}, err
	}
	return s.upsert(arg.OwnerKind, arg.OwnerRef, arg.ProductID, arg.Quantity, arg.MaxQuantity, pgtype.Timestamptz{}), nil
}

func (s *Store) MergeCartLine(ctx context.Context, arg repository.MergeCartLineParams) (repository.UpsertCartLineRow, error) {
	unlock, err := s.enter("MergeCartLine")
	defer unlock()
	if err != nil {
		return repository.UpsertCartLineRow{}, err
	}
	return s.upsert(arg.OwnerKind, arg.OwnerRef, arg.ProductID, arg.Quantity, arg.MaxQuantity, arg.AddedAt), nil
}

func (s *Store) UpdateCartLineQuantity(ctx context.Context, arg repository.UpdateCartLineQuantityParams) (repository.CartLine, error) {
	unlock, err := s.enter("UpdateCartLineQuantity")
	defer unlock()
	if err != nil {
		return repository.CartLine{}, err
	}
	k := lineKey{arg.OwnerKind, arg.OwnerRef, arg.ProductID}
	l, ok := s.st.lines[k]
	if !ok {
		return repository.CartLine{}, pgx.ErrNoRows
	}
	if arg.Quantity < 1 || arg.Quantity > 999 {
		return repository.CartLine{}, &pgconn.PgError{Code: "23514", ConstraintName: "cart_lines_quantity_check"}
	}
	l.Quantity = arg.Quantity
	l.UpdatedAt = s.ts()
	s.st.lines[k] = l
	return l, nil
}

func (s *Store) DeleteCartLine(ctx context.Context, arg repository.DeleteCartLineParams) (int64, error) {
	unlock, err := s.enter("DeleteCartLine")
	defer unlock()
	if err != nil {
		return 0, err
	}
	k := lineKey{arg.OwnerKind, arg.OwnerRef, arg.ProductID}
	if _, ok := s.st.lines[k]; !ok {
		return 0, nil
	}
	delete(s.st.lines, k)
	return 1, nil
}

func (s *Store) DeleteCartLinesByOwner(ctx context.Context, arg repository.DeleteCartLinesByOwnerParams) (int64, error) {
	unlock, err := s.enter("DeleteCartLinesByOwner")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for k := range s.st.lines {
		if k.kind == arg.OwnerKind && k.ref == arg.OwnerRef {
			delete(s.st.lines, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteCartLinesForOrder(ctx context.Context, arg repository.DeleteCartLinesForOrderParams) (int64, error) {
	unlock, err := s.enter("DeleteCartLinesForOrder")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, id := range arg.ProductIDs {
		k := lineKey{arg.OwnerKind, arg.OwnerRef, id}
		l, ok := s.st.lines[k]
		if !ok || l.UpdatedAt.Time.After(arg.AsOf.Time) {
			continue
		}
		delete(s.st.lines, k)
		n++
	}
	return n, nil
}

func (s *Store) ListCartLinesByOwner(ctx context.Context, arg repository.ListCartLinesByOwnerParams) ([]repository.CartLine, error) {
	unlock, err := s.enter("ListCartLinesByOwner")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []repository.CartLine
	for k, l := range s.st.lines {
		if k.kind == arg.OwnerKind && k.ref == arg.OwnerRef {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Time.Equal(out[j].AddedAt.Time) {
			return out[i].AddedAt.Time.Before(out[j].AddedAt.Time)
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (s *Store) DeleteExpiredGuestCartLines(ctx context.Context, cutoff pgtype.Timestamptz) (repository.DeleteExpiredGuestCartLinesRow, error) {
	unlock, err := s.enter("DeleteExpiredGuestCartLines")
	defer unlock()
	if err != nil {
		return repository.DeleteExpiredGuestCartLinesRow{}, err
	}
	guests := make(map[string]bool)
	var row repository.DeleteExpiredGuestCartLinesRow
	for k, l := range s.st.lines {
		if k.kind == "guest" && l.AddedAt.Time.Before(cutoff.Time) {
			delete(s.st.lines, k)
			guests[k.ref] = true
			row.LinesDeleted++
		}
	}
	row.GuestsAffected = int64(len(guests))
	return row, nil
}

func (s *Store) GetGuestCartStats(ctx context.Context) (repository.GetGuestCartStatsRow, error) {
	unlock, err := s.enter("GetGuestCartStats")
	defer unlock()
	if err != nil {
		return repository.GetGuestCartStatsRow{}, err
	}
	guests := make(map[string]bool)
	var row repository.GetGuestCartStatsRow
	for k, l := range s.st.lines {
		if k.kind != "guest" {
			continue
		}
		guests[k.ref] = true
		row.TotalLines++
		row.TotalQuantity += int64(l.Quantity)
		if !row.OldestAddedAt.Valid || l.AddedAt.Time.Before(row.OldestAddedAt.Time) {
			row.OldestAddedAt = l.AddedAt
		}
	}
	row.DistinctGuests = int64(len(guests))
	return row, nil
}

// =============================================================================
// Orders
// =============================================================================

func (s *Store) InvoiceNumberExists(ctx context.Context, invoiceNo string) (bool, error) {
	unlock, err := s.enter("InvoiceNumberExists")
	defer unlock()
	if err != nil {
		return false, err
	}
	_, ok := s.st.invoices[invoiceNo]
	return ok, nil
}

func (s *Store) CreateOrder(ctx context.Context, arg repository.CreateOrderParams) (repository.Order, error) {
	unlock, err := s.enter("CreateOrder")
	defer unlock()
	if err != nil {
		return repository.Order{}, err
	}
	if _, ok := s.st.invoices[arg.InvoiceNo]; ok {
		return repository.Order{}, &pgconn.PgError{
			Code:           "23505",
			ConstraintName: "orders_invoice_no_key",
			Message:        "duplicate key value violates unique constraint \"orders_invoice_no_key\"",
		}
	}
	s.st.nextOrderID++
	o := repository.Order{
		ID:            s.st.nextOrderID,
		CustomerID:    arg.CustomerID,
		InvoiceNo:     arg.InvoiceNo,
		Status:        arg.Status,
		Currency:      arg.Currency,
		SubtotalCents: arg.SubtotalCents,
		TaxCents:      arg.TaxCents,
		ShippingCents: arg.ShippingCents,
		TotalCents:    arg.TotalCents,
		OrderDate:     arg.OrderDate,
		CreatedAt:     s.ts(),
		UpdatedAt:     s.ts(),
	}
	s.st.orders[o.ID] = o
	s.st.invoices[o.InvoiceNo] = o.ID
	return o, nil
}

func (s *Store) CreateOrderLine(ctx context.Context, arg repository.CreateOrderLineParams) (repository.OrderLine, error) {
	unlock, err := s.enter("CreateOrderLine")
	defer unlock()
	if err != nil {
		return repository.OrderLine{}, err
	}
	if _, ok := s.st.orders[arg.OrderID]; !ok {
		return repository.OrderLine{}, &pgconn.PgError{Code: "23503", ConstraintName: "order_lines_order_id_fkey"}
	}
	s.st.nextLineID++
	l := repository.OrderLine{
		ID:             s.st.nextLineID,
		OrderID:        arg.OrderID,
		ProductID:      arg.ProductID,
		Title:          arg.Title,
		UnitPriceCents: arg.UnitPriceCents,
		Quantity:       arg.Quantity,
		LineTotalCents: arg.LineTotalCents,
	}
	s.st.orderLines[arg.OrderID] = append(s.st.orderLines[arg.OrderID], l)
	return l, nil
}

func (s *Store) GetOrder(ctx context.Context, id int64) (repository.Order, error) {
	unlock, err := s.enter("GetOrder")
	defer unlock()
	if err != nil {
		return repository.Order{}, err
	}
	o, ok := s.st.orders[id]
	if !ok {
		return repository.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id int64) (repository.Order, error) {
	unlock, err := s.enter("GetOrderForUpdate")
	defer unlock()
	if err != nil {
		return repository.Order{}, err
	}
	o, ok := s.st.orders[id]
	if !ok {
		return repository.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *Store) GetOrderForCustomer(ctx context.Context, arg repository.GetOrderForCustomerParams) (repository.Order, error) {
	unlock, err := s.enter("GetOrderForCustomer")
	defer unlock()
	if err != nil {
		return repository.Order{}, err
	}
	o, ok := s.st.orders[arg.ID]
	if !ok || o.CustomerID != arg.CustomerID {
		return repository.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *Store) GetOrderByInvoiceForCustomer(ctx context.Context, arg repository.GetOrderByInvoiceForCustomerParams) (repository.Order, error) {
	unlock, err := s.enter("GetOrderByInvoiceForCustomer")
	defer unlock()
	if err != nil {
		return repository.Order{}, err
	}
	id, ok := s.st.invoices[arg.InvoiceNo]
	if !ok {
		return repository.Order{}, pgx.ErrNoRows
	}
	o := s.st.orders[id]
	if o.CustomerID != arg.CustomerID {
		return repository.Order{}, pgx.ErrNoRows
	}
	return o, nil
}

func (s *Store) ListOrdersForCustomer(ctx context.Context, arg repository.ListOrdersForCustomerParams) ([]repository.Order, error) {
	unlock, err := s.enter("ListOrdersForCustomer")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var all []repository.Order
	for _, o := range s.st.orders {
		if o.CustomerID == arg.CustomerID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].OrderDate.Time.Equal(all[j].OrderDate.Time) {
			return all[i].OrderDate.Time.After(all[j].OrderDate.Time)
		}
		return all[i].ID > all[j].ID
	})
	start := int(arg.Offset)
	if start >= len(all) {
		return nil, nil
	}
	end := start + int(arg.Limit)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *Store) CountOrdersForCustomer(ctx context.Context, customerID int64) (int64, error) {
	unlock, err := s.enter("CountOrdersForCustomer")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, o := range s.st.orders {
		if o.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListOrderLines(ctx context.Context, orderID int64) ([]repository.OrderLine, error) {
	unlock, err := s.enter("ListOrderLines")
	defer unlock()
	if err != nil {
		return nil, err
	}
	return append([]repository.OrderLine(nil), s.st.orderLines[orderID]...), nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, arg repository.UpdateOrderStatusParams) (repository.Order, error) {
	unlock, err := s.enter("UpdateOrderStatus")
	defer unlock()
	if err != nil {
		return repository.Order{}, err
	}
	o, ok := s.st.orders[arg.ID]
	if !ok {
		return repository.Order{}, pgx.ErrNoRows
	}
	o.Status = arg.Status
	o.UpdatedAt = s.ts()
	s.st.orders[o.ID] = o
	return o, nil
}

// =============================================================================
// Jobs
// =============================================================================

func (s *Store) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	unlock, err := s.enter("EnqueueJob")
	defer unlock()
	if err != nil {
		return repository.Job{}, err
	}
	id := uuid.New()
	scheduled := arg.ScheduledAt
	if !scheduled.Valid {
		scheduled = s.ts()
	}
	j := repository.Job{
		ID:             pgtype.UUID{Bytes: id, Valid: true},
		JobType:        arg.JobType,
		Queue:          arg.Queue,
		Status:         "pending",
		Payload:        append([]byte(nil), arg.Payload...),
		Priority:       arg.Priority,
		MaxRetries:     arg.MaxRetries,
		TimeoutSeconds: arg.TimeoutSeconds,
		ScheduledAt:    scheduled,
		CreatedAt:      s.ts(),
	}
	s.st.jobs[id] = j
	return j, nil
}

func (s *Store) ClaimNextJob(ctx context.Context, arg repository.ClaimNextJobParams) (repository.Job, error) {
	unlock, err := s.enter("ClaimNextJob")
	defer unlock()
	if err != nil {
		return repository.Job{}, err
	}
	now := s.now()
	var best *repository.Job
	for _, j := range s.st.jobs {
		if j.Status != "pending" || j.ScheduledAt.Time.After(now) {
			continue
		}
		if arg.Queue != "" && j.Queue != arg.Queue {
			continue
		}
		if best == nil || j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.ScheduledAt.Time.Before(best.ScheduledAt.Time)) {
			j := j
			best = &j
		}
	}
	if best == nil {
		return repository.Job{}, pgx.ErrNoRows
	}
	best.Status = "processing"
	best.StartedAt = s.ts()
	best.WorkerID = arg.WorkerID
	s.st.jobs[best.ID.Bytes] = *best
	return *best, nil
}

func (s *Store) CompleteJob(ctx context.Context, id pgtype.UUID) error {
	unlock, err := s.enter("CompleteJob")
	defer unlock()
	if err != nil {
		return err
	}
	j, ok := s.st.jobs[id.Bytes]
	if !ok {
		return nil
	}
	j.Status = "completed"
	j.CompletedAt = s.ts()
	j.ErrorMessage = pgtype.Text{}
	s.st.jobs[id.Bytes] = j
	return nil
}

func (s *Store) FailJob(ctx context.Context, arg repository.FailJobParams) (repository.Job, error) {
	unlock, err := s.enter("FailJob")
	defer unlock()
	if err != nil {
		return repository.Job{}, err
	}
	j, ok := s.st.jobs[arg.ID.Bytes]
	if !ok {
		return repository.Job{}, pgx.ErrNoRows
	}
	backoff := time.Duration(arg.BackoffBaseSeconds) * time.Second * time.Duration(1<<j.RetryCount)
	j.RetryCount++
	j.ErrorMessage = arg.ErrorMessage
	j.WorkerID = pgtype.Text{}
	if j.RetryCount >= j.MaxRetries {
		j.Status = "failed"
	} else {
		j.Status = "pending"
		j.ScheduledAt = pgtype.Timestamptz{Time: s.now().Add(backoff).UTC(), Valid: true}
	}
	s.st.jobs[arg.ID.Bytes] = j
	return j, nil
}

func (s *Store) CountPendingJobsByType(ctx context.Context, jobType string) (int64, error) {
	unlock, err := s.enter("CountPendingJobsByType")
	defer unlock()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, j := range s.st.jobs {
		if j.JobType == jobType && (j.Status == "pending" || j.Status == "processing") {
			n++
		}
	}
	return n, nil
}

var _ repository.Store = (*Store)(nil)
