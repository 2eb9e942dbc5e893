package availability

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/flashsale-engine/internal/domain/ledger"
	"github.com/xenking/flashsale-engine/internal/domain/pricing"
	"github.com/xenking/flashsale-engine/internal/domain/product"
	"github.com/xenking/flashsale-engine/internal/domain/sale"
)

const instrumentationName = "github.com/xenking/flashsale-engine/internal/domain/availability"

// Reserver is the quantity ledger as seen by the service.
type Reserver interface {
	TryReserve(ctx context.Context, saleID string, qty int) (ledger.Outcome, error)
	Release(ctx context.Context, saleID string, qty int) error
	Snapshot(ctx context.Context, saleID string) (ledger.Counter, error)
}

var _ Reserver = (*ledger.Ledger)(nil)

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service reserves sale units for checkout.
type Service struct {
	sales    sale.Repository
	catalog  product.Catalog
	counters Reserver
	now      func() time.Time

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer

	attempts      metric.Int64Counter
	unitsReserved metric.Int64Counter
	unitsReleased metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewService creates a Service.
func NewService(
	sales sale.Repository,
	catalog product.Catalog,
	counters Reserver,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		sales:          sales,
		catalog:        catalog,
		counters:       counters,
		now:            time.Now,
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.attempts, err = meter.Int64Counter("flashsale.reservation.attempts",
		metric.WithDescription("Reservation attempts by outcome"),
	); err != nil {
		return nil, errors.Wrap(err, "create attempts counter")
	}
	if s.unitsReserved, err = meter.Int64Counter("flashsale.units.reserved",
		metric.WithDescription("Units granted by the ledger"),
	); err != nil {
		return nil, errors.Wrap(err, "create reserved counter")
	}
	if s.unitsReleased, err = meter.Int64Counter("flashsale.units.released",
		metric.WithDescription("Units returned to the ledger"),
	); err != nil {
		return nil, errors.Wrap(err, "create released counter")
	}
	if s.duration, err = meter.Float64Histogram("flashsale.reservation.duration",
		metric.WithDescription("CheckAndReserve latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return s, nil
}

// CheckAndReserve runs the ordered eligibility checks for req and, if all
// pass, reserves the units. The first failing check decides the Reason.
// Only infrastructure failures are returned as errors.
func (s *Service) CheckAndReserve(ctx context.Context, req Request) (_ *Result, rerr error) {
	if req.Quantity <= 0 {
		return nil, &InvalidQuantityError{SaleID: req.SaleID, Quantity: req.Quantity}
	}

	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "availability.CheckAndReserve",
		trace.WithAttributes(
			attribute.String("sale.id", req.SaleID),
			attribute.String("product.id", req.ProductID),
			attribute.Int("quantity", req.Quantity),
		),
	)

	var res *Result
	defer func() {
		outcome := "error"
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		} else {
			outcome = outcomeOf(res)
		}
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()

		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		s.attempts.Add(ctx, 1, attrs)
		s.duration.Record(ctx, time.Since(started).Seconds(), attrs)
		if res != nil && res.Reserved {
			s.unitsReserved.Add(ctx, int64(res.Quantity))
		}
	}()

	res, rerr = s.checkAndReserve(ctx, req)
	return res, rerr
}

func (s *Service) checkAndReserve(ctx context.Context, req Request) (*Result, error) {
	// One clock reading for the whole request.
	now := s.now()
	lg := zctx.From(ctx).With(
		zap.String("sale_id", req.SaleID),
		zap.String("product_id", req.ProductID),
	)

	res := &Result{
		SaleID:    req.SaleID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	}
	reject := func(r Reason) (*Result, error) {
		res.Reason = r
		return res, nil
	}

	sl, err := s.sales.Get(ctx, req.SaleID)
	if err != nil {
		if errors.Is(err, sale.ErrNotFound) {
			return reject(ReasonNotFound)
		}
		return nil, errors.Wrap(err, "get sale")
	}

	if !sl.Includes(req.ProductID) {
		return reject(ReasonProductNotInSale)
	}

	if phase := sl.Phase(now); phase != sale.PhaseActive {
		res.Phase = phase
		return reject(ReasonNotActive)
	}

	if sl.Cancelled() {
		return reject(ReasonCancelled)
	}

	if sl.MinimumPurchase.Valid && req.CartSubtotal.LessThan(sl.MinimumPurchase.Decimal) {
		res.MinimumPurchase = sl.MinimumPurchase.Decimal
		return reject(ReasonMinimumPurchaseNotMet)
	}

	if sl.MaxPerOrder > 0 && req.Quantity > sl.MaxPerOrder {
		res.MaxPerOrder = sl.MaxPerOrder
		return reject(ReasonExceedsOrderLimit)
	}

	p, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return reject(ReasonNotFound)
		}
		return nil, errors.Wrap(err, "get product")
	}
	res.BasePrice = p.BasePrice

	// Price before reserving so a broken discount never holds units.
	if err := pricing.CheckAgainst(p.BasePrice, sl.Discount); err != nil {
		lg.Error("Sale discount no longer valid for product price, suspending",
			zap.Stringer("base_price", p.BasePrice),
			zap.String("discount_kind", string(sl.Discount.Kind)),
			zap.Stringer("discount_value", sl.Discount.Value),
			zap.Error(err),
		)
		return reject(ReasonNotActive)
	}
	price, err := pricing.Effective(p.BasePrice, sl.Discount)
	if err != nil {
		return nil, errors.Wrap(err, "effective price")
	}

	out, err := s.counters.TryReserve(ctx, req.SaleID, req.Quantity)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrContention):
		return reject(ReasonTransientContention)
	case errors.Is(err, ledger.ErrCorrupted):
		return reject(ReasonNotActive)
	case errors.Is(err, ledger.ErrUnknownSale):
		// The sale is being deleted.
		return reject(ReasonNotFound)
	default:
		return nil, errors.Wrap(err, "reserve")
	}

	res.Remaining = out.Remaining
	if !out.Granted {
		return reject(ReasonInsufficientStock)
	}

	res.Reserved = true
	res.EffectivePrice = price
	res.ReservedAt = now
	lg.Debug("Reserved sale units",
		zap.Int("quantity", req.Quantity),
		zap.Int("remaining", out.Remaining),
		zap.Stringer("effective_price", price),
	)
	return res, nil
}

// Release returns qty units previously granted by CheckAndReserve. Callers
// must release whenever the surrounding order does not complete.
func (s *Service) Release(ctx context.Context, saleID string, qty int) error {
	if qty <= 0 {
		return &InvalidQuantityError{SaleID: saleID, Quantity: qty}
	}

	ctx, span := s.tracer.Start(ctx, "availability.Release",
		trace.WithAttributes(
			attribute.String("sale.id", saleID),
			attribute.Int("quantity", qty),
		),
	)
	defer span.End()

	if err := s.counters.Release(ctx, saleID, qty); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ledger.ErrUnknownSale) {
			return sale.ErrNotFound
		}
		return errors.Wrap(err, "release")
	}

	s.unitsReleased.Add(ctx, int64(qty))
	return nil
}

// Status reports the current state of a sale.
func (s *Service) Status(ctx context.Context, saleID string) (*Status, error) {
	now := s.now()

	sl, err := s.sales.Get(ctx, saleID)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Sale:      sl,
		Phase:     sl.Phase(now),
		State:     sale.Lifecycle(now, sl),
		Countdown: sale.Remaining(now, sl),
	}

	c, err := s.counters.Snapshot(ctx, saleID)
	switch {
	case err == nil:
		st.Counter = c
		sl.SoldQuantity, sl.TotalQuantity = c.Sold, c.Total
		st.Available = st.Phase == sale.PhaseActive && !sl.Cancelled() && c.Remaining() > 0
	case errors.Is(err, ledger.ErrCorrupted):
		st.Counter = c
	default:
		return nil, errors.Wrap(err, "snapshot counter")
	}
	return st, nil
}

func outcomeOf(res *Result) string {
	if res.Reserved {
		return "reserved"
	}
	return string(res.Reason)
}
