package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/devghori1264/aerophoenix/laundromat/internal/cache"
	"github.com/devghori1264/aerophoenix/laundromat/internal/hardware"
	"github.com/devghori1264/aerophoenix/laundromat/internal/models"
	"github.com/devghori1264/aerophoenix/laundromat/internal/storage"
)

// Service is the set of machine operations exposed to routers.
type Service interface {
	RequestMachine(ctx context.Context, locationID, jobID string) (models.Result, error)
	GetMachine(ctx context.Context, id string) (models.Result, error)
	StartMachine(ctx context.Context, id string) (models.Result, error)
}

// EventPublisher receives lifecycle events. Publishing is best-effort.
type EventPublisher interface {
	PublishMachineEvent(ctx context.Context, ev models.Event) error
}

// Server reserves and starts machines. It owns the consistency between the
// store (source of truth) and the cache, and serializes mutations per machine
// and reservations per location.
//
// Every operation returns a Result for domain outcomes; the error return is
// reserved for store failures.
type Server struct {
	store   storage.Store
	cache   cache.Cache
	hw      hardware.Client
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics
	events  EventPublisher

	// operation mutex per machine id and per location id
	opMu sync.Map
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) { s.tracer = tp.Tracer("github.com/devghori1264/aerophoenix/laundromat/internal/server") }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Server) { s.events = p }
}

// New creates a new server instance.
func New(store storage.Store, c cache.Cache, hw hardware.Client, opts ...Option) *Server {
	s := &Server{
		store:  store,
		cache:  c,
		hw:     hw,
		logger: zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(""),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Named("server")
	return s
}

var _ Service = (*Server)(nil)

// RequestMachine reserves the first AVAILABLE machine at locationID for jobID.
// Nothing ever releases a reservation that is not followed by a start.
func (s *Server) RequestMachine(ctx context.Context, locationID, jobID string) (models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "server.RequestMachine", trace.WithAttributes(
		attribute.String("location.id", locationID),
		attribute.String("job.id", jobID),
	))
	defer span.End()

	res, err := s.requestMachine(ctx, locationID, jobID)
	s.finish(span, "request", res, err)
	return res, err
}

func (s *Server) requestMachine(ctx context.Context, locationID, jobID string) (models.Result, error) {
	if locationID == "" || jobID == "" {
		return models.BadRequest("locationId and jobId required", nil), nil
	}

	unlock := s.acquireOpLock("location:" + locationID)
	defer unlock()

	machines, err := s.store.ListMachinesAtLocation(ctx, locationID)
	if err != nil {
		return models.Result{}, fmt.Errorf("list machines at %s: %w", locationID, err)
	}

	for _, m := range machines {
		if m.Status != models.StatusAvailable {
			continue
		}
		reserved, err := s.reserve(ctx, m, jobID)
		if errors.Is(err, storage.ErrConditionFailed) || errors.Is(err, storage.ErrNotFound) {
			// lost to a writer outside this process; try the next one
			s.logger.Debug("reservation candidate taken",
				zap.String("machine_id", m.ID), zap.String("location_id", locationID), zap.Error(err))
			continue
		}
		if err != nil {
			return models.Result{}, err
		}

		s.logger.Info("machine reserved",
			zap.String("machine_id", reserved.ID),
			zap.String("location_id", locationID),
			zap.String("job_id", jobID),
		)
		s.publish(ctx, models.EventMachineReserved, reserved, "")
		return models.OK(reserved), nil
	}

	return models.NotFound("no available machine at location " + locationID), nil
}

// reserve moves m from AVAILABLE to AWAITING_DROPOFF and binds jobID, store
// first, then cache.
func (s *Server) reserve(ctx context.Context, m *models.Machine, jobID string) (*models.Machine, error) {
	unlock := s.acquireOpLock("machine:" + m.ID)
	defer unlock()

	if err := s.store.CompareAndSwapStatus(ctx, m.ID, models.StatusAvailable, models.StatusAwaitingDropoff); err != nil {
		return nil, err
	}
	m.Status = models.StatusAwaitingDropoff

	if err := s.store.UpdateMachineJobID(ctx, m.ID, jobID); err != nil {
		// The status write stands; keep the cache in line with the store.
		s.cachePut(ctx, s.reload(ctx, m))
		return nil, fmt.Errorf("set job on %s: %w", m.ID, err)
	}
	m.CurrentJobID = jobID

	fresh := s.reload(ctx, m)
	s.cachePut(ctx, fresh)
	return fresh, nil
}

// reload reads back a record the store just wrote, so the cache carries the
// store's version and timestamp. If the read fails, m is returned as is.
func (s *Server) reload(ctx context.Context, m *models.Machine) *models.Machine {
	fresh, err := s.store.GetMachine(ctx, m.ID)
	if err != nil {
		s.logger.Warn("reload after write failed", zap.String("machine_id", m.ID), zap.Error(err))
		return m
	}
	return fresh
}

// GetMachine fetches a machine by ID through the cache.
func (s *Server) GetMachine(ctx context.Context, id string) (models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "server.GetMachine", trace.WithAttributes(attribute.String("machine.id", id)))
	defer span.End()

	res, err := s.getMachine(ctx, id)
	s.finish(span, "get", res, err)
	return res, err
}

func (s *Server) getMachine(ctx context.Context, id string) (models.Result, error) {
	if id == "" {
		return models.BadRequest("machine id required", nil), nil
	}
	m, err := s.getMachineCached(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NotFound("machine " + id + " not found"), nil
	}
	if err != nil {
		return models.Result{}, err
	}
	return models.OK(m), nil
}

// StartMachine starts the cycle of a machine awaiting drop-off. The machine
// lock is held across the hardware call. A hardware failure leaves store and
// cache untouched.
func (s *Server) StartMachine(ctx context.Context, id string) (models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "server.StartMachine", trace.WithAttributes(attribute.String("machine.id", id)))
	defer span.End()

	res, err := s.startMachine(ctx, id)
	s.finish(span, "start", res, err)
	return res, err
}

func (s *Server) startMachine(ctx context.Context, id string) (models.Result, error) {
	if id == "" {
		return models.BadRequest("machine id required", nil), nil
	}

	unlock := s.acquireOpLock("machine:" + id)
	defer unlock()

	m, err := s.getMachineCached(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.NotFound("machine " + id + " not found"), nil
	}
	if err != nil {
		return models.Result{}, err
	}

	if !models.CanTransition(m.Status, models.StatusRunning) {
		return models.BadRequest(fmt.Sprintf("machine %s is %s, expected %s", id, m.Status, models.StatusAwaitingDropoff), m), nil
	}

	if err := s.startCycle(ctx, id); err != nil {
		s.logger.Warn("hardware start failed", zap.String("machine_id", id), zap.Error(err))
		s.publish(ctx, models.EventMachineStartFailed, m, err.Error())
		return models.HardwareError(fmt.Sprintf("failed to start machine %s", id)), nil
	}

	err = s.store.CompareAndSwapStatus(ctx, id, models.StatusAwaitingDropoff, models.StatusRunning)
	switch {
	case errors.Is(err, storage.ErrConditionFailed):
		// The row moved under us (cache was stale). Report what the store holds.
		fresh, gerr := s.store.GetMachine(ctx, id)
		if gerr != nil {
			return models.Result{}, fmt.Errorf("reload %s: %w", id, gerr)
		}
		s.cachePut(ctx, fresh)
		return models.BadRequest(fmt.Sprintf("machine %s is %s, expected %s", id, fresh.Status, models.StatusAwaitingDropoff), fresh), nil
	case errors.Is(err, storage.ErrNotFound):
		return models.NotFound("machine " + id + " not found"), nil
	case err != nil:
		return models.Result{}, fmt.Errorf("mark %s running: %w", id, err)
	}
	m.Status = models.StatusRunning
	m = s.reload(ctx, m)
	s.cachePut(ctx, m)

	s.logger.Info("machine started", zap.String("machine_id", id), zap.String("job_id", m.CurrentJobID))
	s.publish(ctx, models.EventMachineStarted, m, "")
	return models.OK(m), nil
}

func (s *Server) startCycle(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "hardware.StartCycle", trace.WithAttributes(attribute.String("machine.id", id)))
	defer span.End()

	begin := time.Now()
	err := s.hw.StartCycle(ctx, id)
	s.metrics.observeHardware(time.Since(begin), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// getMachineCached returns a machine (from cache or store). A store hit
// repopulates the cache.
func (s *Server) getMachineCached(ctx context.Context, id string) (*models.Machine, error) {
	m, ok, err := s.cache.Get(ctx, id)
	switch {
	case err != nil:
		s.logger.Warn("cache get failed", zap.String("machine_id", id), zap.Error(err))
		s.metrics.observeCache("error")
	case ok:
		s.metrics.observeCache("hit")
		return m, nil
	default:
		s.metrics.observeCache("miss")
	}

	m, err = s.store.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, m)
	return m, nil
}

// cachePut never fails the caller; the store already holds the change.
func (s *Server) cachePut(ctx context.Context, m *models.Machine) {
	if err := s.cache.Put(ctx, m.ID, m); err != nil {
		s.logger.Warn("cache put failed", zap.String("machine_id", m.ID), zap.Error(err))
	}
}

func (s *Server) publish(ctx context.Context, kind models.EventKind, m *models.Machine, errMsg string) {
	if s.events == nil {
		return
	}
	ev := models.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		MachineID:  m.ID,
		LocationID: m.LocationID,
		JobID:      m.CurrentJobID,
		Status:     m.Status,
		Error:      errMsg,
		Time:       time.Now().UTC(),
	}
	if err := s.events.PublishMachineEvent(ctx, ev); err != nil {
		s.logger.Warn("publish event failed", zap.String("event", string(kind)), zap.Error(err))
	}
}

func (s *Server) finish(span trace.Span, op string, res models.Result, err error) {
	code := string(res.Code)
	if err != nil {
		code = string(models.CodeInternalError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("result.code", code))
	s.metrics.observeOperation(op, code)
}

// acquireOpLock serializes operations on key and returns the release func.
func (s *Server) acquireOpLock(key string) func() {
	v, _ := s.opMu.LoadOrStore(key, &sync.Mutex{})
	mtx := v.(*sync.Mutex)
	mtx.Lock()
	return mtx.Unlock
}
