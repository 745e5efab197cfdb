// Package session implements the progress & control surface (C11): a
// typed command/event bus that owns one monitoring run end to end --
// capture, flow identification, reassembly, frame demux, container
// decode, aggregation, and optimization -- and reports progress upward
// without the core ever holding a reference back into the shell.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uzarakhq/bpsr-uza-modules/internal/aggregator"
	"github.com/uzarakhq/bpsr-uza-modules/internal/capture"
	"github.com/uzarakhq/bpsr-uza-modules/internal/config"
	"github.com/uzarakhq/bpsr-uza-modules/internal/container"
	"github.com/uzarakhq/bpsr-uza-modules/internal/filter"
	"github.com/uzarakhq/bpsr-uza-modules/internal/frame"
	"github.com/uzarakhq/bpsr-uza-modules/internal/identify"
	"github.com/uzarakhq/bpsr-uza-modules/internal/logging"
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/optimizer"
	"github.com/uzarakhq/bpsr-uza-modules/internal/reassembly"
	"github.com/uzarakhq/bpsr-uza-modules/internal/schema"
)

// Errors returned by the control API. Anything else is a malformed
// request and is also returned as an error, per spec's "{error}" response.
var (
	ErrAlreadyMonitoring = errors.New("session: monitoring already running")
	ErrNotMonitoring     = errors.New("session: not monitoring")
	ErrNoCapturedData    = errors.New("session: no captured data")
	ErrTooManyPriorities = errors.New("session: at most 6 prioritized attributes")
	ErrUnknownAttribute  = errors.New("session: unknown attribute")
	ErrUnknownCategory   = errors.New("session: unknown category")
)

// rescreenDebounce is how long rescreenModules waits for further calls to
// settle before actually running the optimizer.
const rescreenDebounce = 300 * time.Millisecond

// EventKind identifies one of the four events the session emits.
type EventKind int

// Event kinds, matching spec's event names.
const (
	EventDataCaptured EventKind = iota
	EventProgress
	EventResultsReady
	EventMonitoringStopped
)

func (k EventKind) String() string {
	switch k {
	case EventDataCaptured:
		return "dataCaptured"
	case EventProgress:
		return "progress"
	case EventResultsReady:
		return "resultsReady"
	case EventMonitoringStopped:
		return "monitoringStopped"
	default:
		return "unknown"
	}
}

// Event is one message emitted upward from the core to the shell.
type Event struct {
	Kind      EventKind
	SessionID uuid.UUID
	Message   string             // set for EventProgress
	Solutions []optimizer.Ranked // set for EventResultsReady
}

// EventHandler receives every event the session emits. It must not block
// for long -- the pipeline thread delivers dataCaptured and progress
// events inline.
type EventHandler func(Event)

// Params bundles the user-selected monitoring/optimization inputs shared
// by startMonitoring and rescreenModules.
type Params struct {
	InterfaceName     string
	Category          model.ModuleCategory
	Attributes        []string
	PrioritizedAttrs  []string
	PriorityOrderMode bool
}

func (p Params) validate() error {
	if len(p.PrioritizedAttrs) > 6 {
		return ErrTooManyPriorities
	}
	known := make(map[string]struct{})
	for _, a := range schema.AllAttrNames() {
		known[a] = struct{}{}
	}
	for _, a := range p.Attributes {
		if _, ok := known[a]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAttribute, a)
		}
	}
	for _, a := range p.PrioritizedAttrs {
		if _, ok := known[a]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAttribute, a)
		}
	}
	if p.Category == model.CategoryUnknown {
		return ErrUnknownCategory
	}
	return nil
}

// Session orchestrates one monitoring lifecycle. It is safe for
// concurrent use by a single shell goroutine driving the control API; the
// pipeline and janitor run on their own goroutines internally.
type Session struct {
	cfg  *config.Config
	log  logging.Logger
	seg  filter.Filter
	emit EventHandler

	mu          sync.Mutex
	running     bool
	sessionID   uuid.UUID
	cap         *capture.Capture
	reassembler *reassembly.Reassembler
	agg         *aggregator.Aggregator
	uuids       *container.UUIDCounter
	watchStop   chan struct{}
	watchDone   chan struct{}
	teardown    *sync.Once

	lastParams Params

	optMu          sync.Mutex
	optimizeCancel context.CancelFunc
	optimizeGen    int

	rescreenMu    sync.Mutex
	rescreenTimer *time.Timer
}

// New builds a session from configuration. onEvent is called for every
// emitted event; it must not be nil.
func New(cfg *config.Config, log logging.Logger, onEvent EventHandler) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = logging.Default()
	}
	segFilter, err := filter.Build(&filter.Config{
		IncludeIPs:   cfg.Filter.IncludeIPs,
		ExcludeIPs:   cfg.Filter.ExcludeIPs,
		IncludePorts: cfg.Filter.IncludePorts,
		ExcludePorts: cfg.Filter.ExcludePorts,
	})
	if err != nil {
		return nil, fmt.Errorf("build segment filter: %w", err)
	}
	if err := schema.LoadOverrides(cfg.Schema.Path); err != nil {
		return nil, fmt.Errorf("load schema overrides: %w", err)
	}
	return &Session{cfg: cfg, log: log, seg: segFilter, emit: onEvent}, nil
}

// ListInterfaces reports every capture-capable interface (C1).
func ListInterfaces() ([]model.NetworkInterface, error) {
	return capture.ListInterfaces()
}

// ListAttributes reports the fixed 21-entry attribute list, order
// significant.
func ListAttributes() []string {
	return schema.AllAttrNames()
}

// ListCategories reports the selectable module categories, in declaration
// order, for the shell's category selector.
func ListCategories() []string {
	return []string{
		model.CategoryAttack.String(),
		model.CategoryGuard.String(),
		model.CategorySupport.String(),
		model.CategoryAll.String(),
	}
}

// CheckCaptureBackend reports whether the capture backend is usable on
// this host.
func CheckCaptureBackend() bool {
	return capture.CheckBackend()
}

// HasCapturedData reports whether any module has been captured this
// session.
func (s *Session) HasCapturedData() bool {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	return agg != nil && agg.IsReady()
}

// Stats reports the current capture backend's packet/byte counters. The
// zero value is returned before StartMonitoring has been called.
func (s *Session) Stats() capture.Stats {
	s.mu.Lock()
	cap := s.cap
	s.mu.Unlock()
	if cap == nil {
		return capture.Stats{}
	}
	return cap.Stats()
}

// StartMonitoring begins capture on the given (or auto-selected)
// interface and starts optimizing as soon as data lands.
func (s *Session) StartMonitoring(ctx context.Context, params Params) error {
	if err := params.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyMonitoring
	}

	iface, err := s.resolveInterface(params.InterfaceName)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	sessionID := uuid.New()
	uuids := &container.UUIDCounter{}

	// onReady fires at most once per Reset; it marks the point the
	// pipeline has enough data to optimize against (C7 -> C8). Per the
	// capture lifecycle, a non-empty batch stops capture immediately --
	// it runs on the reassembler's drain path with its lock held, so the
	// actual teardown is kicked off on its own goroutine.
	agg := aggregator.New(func(batch []model.ModuleInfo) {
		s.emitEvent(Event{Kind: EventDataCaptured, SessionID: sessionID})
		go s.stopCaptureAfterDataCaptured()
		s.runOptimization(params)
	})

	// reassembler is referenced by its own drain closure (to reset the
	// flow on a protocol error), so it is declared before it is built.
	var reassembler *reassembly.Reassembler
	reassembler = reassembly.New(s.makeDrain(&reassembler, uuids, agg, sessionID))

	opts := &capture.Options{
		Interface:     iface,
		Promiscuous:   s.cfg.Capture.Promiscuous,
		SnapLen:       s.cfg.Capture.Snaplen,
		Timeout:       s.cfg.Capture.Timeout,
		BPFFilter:     s.cfg.Capture.BPFFilter,
		SegmentFilter: s.seg,
	}
	cap := capture.New(opts)
	cap.SetHandler(s.makeHandler(reassembler, sessionID))

	s.sessionID = sessionID
	s.cap = cap
	s.reassembler = reassembler
	s.agg = agg
	s.uuids = uuids
	s.lastParams = params
	s.teardown = &sync.Once{}
	s.mu.Unlock()

	if err := cap.Start(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}

	reassembler.StartJanitor()

	s.mu.Lock()
	s.running = true
	s.watchStop = make(chan struct{})
	s.watchDone = make(chan struct{})
	s.mu.Unlock()

	go s.watchStaleFlow(reassembler, s.watchStop, s.watchDone)

	s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "Listening for game traffic…"})
	return nil
}

// StopMonitoring closes the capture backend, clears reassembly state, and
// stops the janitor. The captured-module set is preserved so a subsequent
// rescreenModules can still run. Safe to call after the aggregator's own
// data-captured auto-stop has already torn the pipeline down -- the actual
// teardown work only ever runs once.
func (s *Session) StopMonitoring() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotMonitoring
	}
	sessionID := s.sessionID
	s.running = false
	s.mu.Unlock()

	s.stopCapture()

	s.emitEvent(Event{Kind: EventMonitoringStopped, SessionID: sessionID})
	return nil
}

// stopCapture tears down the capture backend, reassembler, and stale-flow
// watcher. It is idempotent per run: the data-captured auto-stop and an
// explicit StopMonitoring call both funnel through it, and whichever fires
// first does the actual work.
func (s *Session) stopCapture() {
	s.mu.Lock()
	once := s.teardown
	cap := s.cap
	reassembler := s.reassembler
	stop := s.watchStop
	done := s.watchDone
	s.mu.Unlock()

	if once == nil {
		return
	}
	once.Do(func() {
		if stop != nil {
			close(stop)
			<-done
		}
		if cap != nil {
			_ = cap.Stop()
		}
		if reassembler != nil {
			reassembler.StopJanitor()
			reassembler.ResetFlow()
		}
	})
}

// stopCaptureAfterDataCaptured implements the aggregator's ready
// invariant: once a batch adds a new module, capture (C2) and reassembly
// (C4) are cleared immediately, leaving only the captured snapshot behind
// for the optimizer and any later rescreenModules call. It does not flip
// s.running or emit monitoringStopped -- that event is reserved for an
// explicit StopMonitoring call, matching the three-command/four-event
// control surface.
func (s *Session) stopCaptureAfterDataCaptured() {
	s.stopCapture()
}

// RescreenModules re-runs the optimizer against already-captured data
// with a new category/attribute/priority selection. Rapid calls are
// debounced at 300ms; a rescreen issued while one is in flight cancels
// the prior run.
func (s *Session) RescreenModules(params Params) error {
	if err := params.validate(); err != nil {
		return err
	}
	if !s.HasCapturedData() {
		return ErrNoCapturedData
	}

	s.mu.Lock()
	s.lastParams = params
	s.mu.Unlock()

	s.rescreenMu.Lock()
	if s.rescreenTimer != nil {
		s.rescreenTimer.Stop()
	}
	s.rescreenTimer = time.AfterFunc(rescreenDebounce, func() {
		s.runOptimization(params)
	})
	s.rescreenMu.Unlock()
	return nil
}

// resolveInterface picks the named interface, or auto-selects the default
// one when name is empty.
func (s *Session) resolveInterface(name string) (string, error) {
	if name != "" {
		iface, err := capture.FindByName(name)
		if err != nil {
			return "", err
		}
		return iface.Name, nil
	}
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return "", err
	}
	iface, ok := capture.DefaultInterface(ifaces)
	if !ok {
		return "", capture.ErrInvalidInterface
	}
	return iface.Name, nil
}

// makeHandler builds the per-segment callback wired to the capture
// backend: it identifies the game server's flow (C3) and feeds every
// subsequent segment on that flow to the reassembler (C4).
func (s *Session) makeHandler(reassembler *reassembly.Reassembler, sessionID uuid.UUID) capture.SegmentHandler {
	return func(seg capture.Segment) {
		if _, hasFlow := reassembler.SelectedFlow(); !hasFlow {
			if !identify.Matches(seg.Payload) {
				return
			}
			reassembler.AdoptFlow(seg.Flow, seg.Seq, len(seg.Payload))
			s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "Connected to game server…"})
			return
		}
		reassembler.Feed(seg.Flow, seg.Seq, seg.Payload)
	}
}

// makeDrain builds the reassembler's DrainFunc: it demultiplexes outer
// packets (C5), extracts module records from every container candidate
// (C6), and aggregates them (C7). A malformed outer packet resets the
// flow asynchronously, since DrainFunc runs with the reassembler's lock
// held. reassemblerRef is a pointer-to-pointer so the closure can be built
// before the Reassembler it will reset exists.
func (s *Session) makeDrain(reassemblerRef **reassembly.Reassembler, uuids *container.UUIDCounter, agg *aggregator.Aggregator, sessionID uuid.UUID) reassembly.DrainFunc {
	containersSeen := 0
	return func(data []byte) int {
		unconsumed, err := frame.DemuxWithErrorHandler(data, func(payload []byte) {
			containersSeen++
			modules := container.Extract(payload, uuids)
			if len(modules) == 0 {
				s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "no modules found"})
				return
			}
			s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: fmt.Sprintf("Found %d container packets", containersSeen)})
			agg.Add(modules)
		}, func(decompErr error) {
			s.log.WithError(decompErr).Warn("dropping message: decompression failed")
		})
		if err != nil {
			go (*reassemblerRef).ResetFlow()
			return 0
		}
		return unconsumed
	}
}

// watchStaleFlow logs a warning the moment the reassembler's janitor
// idle-resets a previously selected flow -- the janitor itself has no
// logger dependency, so the session observes the transition from outside.
func (s *Session) watchStaleFlow(reassembler *reassembly.Reassembler, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(reassembly.JanitorInterval)
	defer ticker.Stop()

	_, hadFlow := reassembler.SelectedFlow()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_, hasFlow := reassembler.SelectedFlow()
			if hadFlow && !hasFlow {
				s.mu.Lock()
				sessionID := s.sessionID
				s.mu.Unlock()
				s.log.Warn("cannot capture next packet")
				s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "cannot capture next packet"})
			}
			hadFlow = hasFlow
		}
	}
}

// runOptimization executes the pre-filter, pool selection, GA, and
// ranking stages (C8-C10) against the current captured-module snapshot,
// then emits resultsReady. A prior in-flight run triggered by an earlier
// rescreenModules call is canceled.
func (s *Session) runOptimization(params Params) {
	s.mu.Lock()
	agg := s.agg
	sessionID := s.sessionID
	s.mu.Unlock()
	if agg == nil {
		return
	}

	snapshot := agg.All()
	if len(snapshot) == 0 {
		s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "no modules found"})
		return
	}

	// PreFilter's attribute-based buckets are restricted to the
	// prioritized attributes when set; otherwise fall back to the
	// user's broader attribute selection, leaving every attribute in
	// play only when neither was given.
	restrictTo := params.PrioritizedAttrs
	if len(restrictTo) == 0 {
		restrictTo = params.Attributes
	}
	working, err := optimizer.PreFilter(snapshot, restrictTo)
	if err != nil {
		s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "Not enough distinct modules captured to optimize"})
		return
	}
	pool := optimizer.SelectPool(working)

	s.optMu.Lock()
	if s.optimizeCancel != nil {
		s.optimizeCancel()
	}
	s.optimizeGen++
	myGen := s.optimizeGen
	ctx, cancel := context.WithCancel(context.Background())
	s.optimizeCancel = cancel
	s.optMu.Unlock()

	s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "Parsing module data…"})
	s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "Optimizing combinations…"})

	criteria := optimizer.Criteria{
		Category:          params.Category,
		PrioritizedAttrs:  params.PrioritizedAttrs,
		PriorityOrderMode: params.PriorityOrderMode,
	}

	gaParams := gaParamsFromConfig(s.cfg.Optimizer)
	gaParams.Progress = func(taskIndex, totalTasks int, highestScore uint32) {
		s.emitEvent(Event{
			Kind:      EventProgress,
			SessionID: sessionID,
			Message:   fmt.Sprintf("Task %d/%d completed. Highest score: %d", taskIndex, totalTasks, highestScore),
		})
	}

	solutions, err := optimizer.Run(ctx, pool, criteria, gaParams, s.log)
	cancel()

	s.optMu.Lock()
	if s.optimizeGen == myGen {
		s.optimizeCancel = nil
	}
	s.optMu.Unlock()

	if err != nil {
		if errors.Is(err, optimizer.ErrInsufficientModules) {
			s.emitEvent(Event{Kind: EventProgress, SessionID: sessionID, Message: "Not enough distinct modules captured to optimize"})
			return
		}
		s.log.WithError(err).Warn("optimizer run failed")
		return
	}

	ranked := optimizer.Rank(solutions, criteria, s.cfg.Optimizer.TopN)
	s.emitEvent(Event{Kind: EventResultsReady, SessionID: sessionID, Solutions: ranked})
}

func (s *Session) emitEvent(evt Event) {
	if s.emit != nil {
		s.emit(evt)
	}
}

// gaParamsFromConfig maps the configured GA defaults onto optimizer.Params.
func gaParamsFromConfig(o config.OptimizerConfig) optimizer.Params {
	return optimizer.Params{
		PopulationSize:  o.PopulationSize,
		Generations:     o.Generations,
		TournamentSize:  o.TournamentSize,
		CrossoverRate:   o.CrossoverRate,
		MutationRate:    o.MutationRate,
		ElitismRate:     o.ElitismRate,
		LocalSearchRate: o.LocalSearchRate,
		NumCampaigns:    o.NumCampaigns,
	}
}
