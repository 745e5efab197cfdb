package session

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/uzarakhq/bpsr-uza-modules/internal/aggregator"
	"github.com/uzarakhq/bpsr-uza-modules/internal/capture"
	"github.com/uzarakhq/bpsr-uza-modules/internal/config"
	"github.com/uzarakhq/bpsr-uza-modules/internal/container"
	"github.com/uzarakhq/bpsr-uza-modules/internal/frame"
	"github.com/uzarakhq/bpsr-uza-modules/internal/logging"
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
	"github.com/uzarakhq/bpsr-uza-modules/internal/reassembly"
)

func validParams() Params {
	return Params{Category: model.CategoryAttack}
}

func TestParamsValidateAcceptsBareCategory(t *testing.T) {
	if err := validParams().validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParamsValidateRejectsUnknownCategory(t *testing.T) {
	p := Params{}
	if err := p.validate(); err != ErrUnknownCategory {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestParamsValidateRejectsTooManyPrioritizedAttrs(t *testing.T) {
	p := validParams()
	p.PrioritizedAttrs = []string{"a", "b", "c", "d", "e", "f", "g"}
	if err := p.validate(); err != ErrTooManyPriorities {
		t.Errorf("expected ErrTooManyPriorities, got %v", err)
	}
}

func TestParamsValidateRejectsUnknownAttribute(t *testing.T) {
	p := validParams()
	p.Attributes = []string{"Not A Real Attribute"}
	if err := p.validate(); err == nil {
		t.Fatal("expected error for unknown attribute")
	}
}

func TestParamsValidateAcceptsKnownAttributes(t *testing.T) {
	p := validParams()
	p.Attributes = []string{"Strength Boost"}
	p.PrioritizedAttrs = []string{"Crit Rate", "Special Attack"}
	if err := p.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGAParamsFromConfigMapsEveryField(t *testing.T) {
	cfg := config.DefaultConfig().Optimizer
	got := gaParamsFromConfig(cfg)
	if got.PopulationSize != cfg.PopulationSize ||
		got.Generations != cfg.Generations ||
		got.TournamentSize != cfg.TournamentSize ||
		got.CrossoverRate != cfg.CrossoverRate ||
		got.MutationRate != cfg.MutationRate ||
		got.ElitismRate != cfg.ElitismRate ||
		got.LocalSearchRate != cfg.LocalSearchRate ||
		got.NumCampaigns != cfg.NumCampaigns {
		t.Errorf("gaParamsFromConfig dropped a field: got %+v from %+v", got, cfg)
	}
}

func TestHasCapturedDataFalseBeforeStart(t *testing.T) {
	s, err := New(nil, logging.New(config.LoggingConfig{Level: "error"}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.HasCapturedData() {
		t.Error("expected no captured data before StartMonitoring")
	}
}

func TestRescreenModulesRequiresCapturedData(t *testing.T) {
	s, err := New(nil, logging.New(config.LoggingConfig{Level: "error"}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RescreenModules(validParams()); err != ErrNoCapturedData {
		t.Errorf("expected ErrNoCapturedData, got %v", err)
	}
}

func TestStopMonitoringWithoutStartReturnsErrNotMonitoring(t *testing.T) {
	s, err := New(nil, logging.New(config.LoggingConfig{Level: "error"}), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.StopMonitoring(); err != ErrNotMonitoring {
		t.Errorf("expected ErrNotMonitoring, got %v", err)
	}
}

// --- pipeline fixtures: identification signature + heuristic container payload ---

var signatureAPayload = func() []byte {
	p := make([]byte, 21)
	p[4] = 0x00
	copy(p[15:21], []byte{0x00, 0x63, 0x33, 0x53, 0x42, 0x00})
	return p
}()

// buildHeuristicContainerPayload lays out a configId in the heuristic
// band immediately followed by one attrId/value pair, matching the byte
// layout internal/container's heuristic scanner looks for.
func buildHeuristicContainerPayload(configID, attrID uint32, value uint8) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint32(buf[0:4], configID)
	binary.LittleEndian.PutUint32(buf[4:8], attrID)
	buf[8] = value
	return buf
}

// buildNotifyOuterPacket wraps a methodId=21 Notify body carrying payload
// in the outer size-prefixed frame internal/frame demultiplexes.
func buildNotifyOuterPacket(payload []byte) []byte {
	const notifyKind = 2
	notifyBody := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint64(notifyBody[0:8], frame.GameServiceUUID)
	binary.BigEndian.PutUint32(notifyBody[8:12], 0)
	binary.BigEndian.PutUint32(notifyBody[12:16], frame.SyncContainerMethodID)
	copy(notifyBody[16:], payload)

	body := make([]byte, 2+len(notifyBody))
	binary.BigEndian.PutUint16(body[0:2], notifyKind)
	copy(body[2:], notifyBody)

	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(out)))
	copy(out[4:], body)
	return out
}

func testFlow() model.FlowKey {
	return model.NewFlowKey(net.IPv4(10, 0, 0, 1), 7000, net.IPv4(10, 0, 0, 2), 443)
}

func TestStopCaptureIsIdempotent(t *testing.T) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		<-stop
		close(done)
	}()

	s := &Session{teardown: &sync.Once{}, watchStop: stop, watchDone: done}

	s.stopCapture()
	s.stopCaptureAfterDataCaptured() // must not double-close stop/done
}

func TestStopCaptureWithoutTeardownIsNoOp(t *testing.T) {
	s := &Session{}
	s.stopCapture() // teardown is nil before StartMonitoring; must not panic
}

func TestPipelineIdentifiesFlowAndAggregatesOneModule(t *testing.T) {
	var events []Event
	s := &Session{
		cfg:  config.DefaultConfig(),
		log:  logging.New(config.LoggingConfig{Level: "error"}),
		emit: func(e Event) { events = append(events, e) },
	}

	sessionID := uuid.New()
	uuids := &container.UUIDCounter{}
	agg := aggregator.New(func(batch []model.ModuleInfo) {
		s.emitEvent(Event{Kind: EventDataCaptured, SessionID: sessionID})
		s.runOptimization(validParams())
	})

	var reassembler *reassembly.Reassembler
	reassembler = reassembly.New(s.makeDrain(&reassembler, uuids, agg, sessionID))

	s.sessionID = sessionID
	s.reassembler = reassembler
	s.agg = agg
	s.uuids = uuids

	handler := s.makeHandler(reassembler, sessionID)
	flow := testFlow()

	handler(capture.Segment{Flow: flow, Seq: 1000, Payload: signatureAPayload})

	expectedSeq, ok := reassembler.ExpectedSeq()
	if !ok {
		t.Fatal("expected a flow to be adopted after a signature match")
	}

	packet := buildNotifyOuterPacket(buildHeuristicContainerPayload(5500103, 1110, 8))
	handler(capture.Segment{Flow: flow, Seq: expectedSeq, Payload: packet})

	if agg.Len() != 1 {
		t.Fatalf("expected exactly one aggregated module, got %d", agg.Len())
	}
	mods := agg.All()
	if mods[0].ConfigID != 5500103 || mods[0].Name != "Legendary Attack" {
		t.Errorf("unexpected module: %+v", mods[0])
	}

	var sawDataCaptured, sawConnected, sawInsufficientPool bool
	for _, e := range events {
		switch {
		case e.Kind == EventDataCaptured:
			sawDataCaptured = true
		case e.Kind == EventProgress && e.Message == "Connected to game server…":
			sawConnected = true
		case e.Kind == EventProgress && e.Message == "Not enough distinct modules captured to optimize":
			sawInsufficientPool = true
		}
	}
	if !sawConnected {
		t.Error("expected a 'Connected to game server…' progress event")
	}
	if !sawDataCaptured {
		t.Error("expected a dataCaptured event")
	}
	if !sawInsufficientPool {
		t.Error("expected the lone module to be reported as an insufficient pool for the GA")
	}
}

func TestPipelineIgnoresSegmentsOnOtherFlowsOnceLockedOn(t *testing.T) {
	var events []Event
	s := &Session{
		cfg:  config.DefaultConfig(),
		log:  logging.New(config.LoggingConfig{Level: "error"}),
		emit: func(e Event) { events = append(events, e) },
	}

	sessionID := uuid.New()
	uuids := &container.UUIDCounter{}
	agg := aggregator.New(nil)
	var reassembler *reassembly.Reassembler
	reassembler = reassembly.New(s.makeDrain(&reassembler, uuids, agg, sessionID))
	s.sessionID = sessionID
	s.reassembler = reassembler
	s.agg = agg
	s.uuids = uuids

	handler := s.makeHandler(reassembler, sessionID)
	flow := testFlow()
	handler(capture.Segment{Flow: flow, Seq: 1000, Payload: signatureAPayload})

	other := model.NewFlowKey(net.IPv4(10, 0, 0, 9), 1234, net.IPv4(10, 0, 0, 2), 443)
	handler(capture.Segment{Flow: other, Seq: 0, Payload: buildNotifyOuterPacket(buildHeuristicContainerPayload(5500103, 1110, 8))})

	if agg.Len() != 0 {
		t.Errorf("expected segments on an unselected flow to be ignored, got %d modules", agg.Len())
	}
	_ = events
}
