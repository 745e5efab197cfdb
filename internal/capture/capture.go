// Package capture provides interface enumeration and live packet ingress
// for the module monitor (C1, C2).
package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"

	"github.com/uzarakhq/bpsr-uza-modules/internal/filter"
	"github.com/uzarakhq/bpsr-uza-modules/internal/model"
)

// Common errors.
var (
	ErrCaptureRunning     = errors.New("capture already running")
	ErrCaptureNotRunning  = errors.New("capture not running")
	ErrInvalidInterface   = errors.New("invalid interface")
	ErrBackendUnavailable = errors.New("capture backend unavailable")
)

// Segment is one TCP payload delivered by the capture loop: the flow it
// belongs to, its starting sequence number, and its bytes.
type Segment struct {
	Flow    model.FlowKey
	Seq     uint32
	Payload []byte
}

// SegmentHandler is called for every non-empty TCP payload observed on the
// wire, regardless of which flow it belongs to; flow selection (C3) decides
// which ones matter.
type SegmentHandler func(Segment)

// Options configures packet capture (C2).
type Options struct {
	Interface   string
	Promiscuous bool
	SnapLen     int32
	Timeout     time.Duration
	BPFFilter   string
	// SegmentFilter, when non-nil, is applied to each segment's
	// source endpoint (the game server side of the flow) before it
	// reaches the handler. A nil filter passes everything through.
	SegmentFilter filter.Filter
}

// DefaultOptions returns default capture options: promiscuous mode,
// 65535-byte snaplen, "tcp" BPF filter. No kernel ring buffer size is
// set; the capture backend's own default buffer size applies.
func DefaultOptions() *Options {
	return &Options{
		Promiscuous: true,
		SnapLen:     65535,
		Timeout:     pcap.BlockForever,
		BPFFilter:   "tcp",
	}
}

// Stats holds capture statistics.
type Stats struct {
	PacketsReceived  uint64
	PacketsDropped   uint64
	PacketsIfDropped uint64
	BytesReceived    uint64
	ParseErrors      uint64
	StartTime        time.Time
	EndTime          time.Time
}

// Capture manages live packet capture on one interface.
type Capture struct {
	mu       sync.Mutex
	handle   *pcap.Handle
	opts     *Options
	running  bool
	handler  SegmentHandler
	cancel   context.CancelFunc
	done     chan struct{}
	stats    Stats
	openLive func(device string, snaplen int32, promisc bool, timeout time.Duration) (*pcap.Handle, error)
}

// New creates a new capture instance.
func New(opts *Options) *Capture {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Capture{
		opts:     opts,
		openLive: pcap.OpenLive,
	}
}

// SetHandler sets the per-segment callback. Zero-length payloads never
// reach the handler.
func (c *Capture) SetHandler(h SegmentHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Start begins capturing packets on the configured interface.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrCaptureRunning
	}

	openLive := c.openLive
	if openLive == nil {
		openLive = pcap.OpenLive
	}

	handle, err := openLive(c.opts.Interface, c.opts.SnapLen, c.opts.Promiscuous, c.opts.Timeout)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: open interface %s: %v", ErrBackendUnavailable, c.opts.Interface, err)
	}

	filter := c.opts.BPFFilter
	if filter == "" {
		filter = "tcp"
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		c.mu.Unlock()
		return fmt.Errorf("set BPF filter: %w", err)
	}

	c.handle = handle
	c.running = true
	c.stats = Stats{StartTime: time.Now()}
	c.done = make(chan struct{})

	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.captureLoop(ctx)

	return nil
}

// captureLoop reads packets from the interface. It owns nothing but the
// pcap handle and never blocks on downstream processing.
func (c *Capture) captureLoop(ctx context.Context) {
	defer close(c.done)

	src := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
	src.NoCopy = true
	packets := src.Packets()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			c.processPacket(pkt)
		}
	}
}

func (c *Capture) processPacket(gp gopacket.Packet) {
	c.mu.Lock()
	handler := c.handler
	c.stats.PacketsReceived++
	c.stats.BytesReceived += uint64(len(gp.Data()))
	c.mu.Unlock()

	seg, ok := parseSegment(gp)
	if !ok {
		c.mu.Lock()
		c.stats.ParseErrors++
		c.mu.Unlock()
		return
	}
	if len(seg.Payload) == 0 {
		return
	}
	if c.opts.SegmentFilter != nil {
		srcIP := net.IP(seg.Flow.SrcIP[:])
		if !c.opts.SegmentFilter.Match(srcIP, seg.Flow.SrcPort) {
			return
		}
	}
	if handler != nil {
		handler(seg)
	}
}

// parseSegment extracts a TCP payload segment from a decoded packet.
// Non-TCP/IPv4 packets or parse failures are reported via ok=false and
// counted, never fatal.
func parseSegment(gp gopacket.Packet) (Segment, bool) {
	networkLayer := gp.NetworkLayer()
	if networkLayer == nil {
		return Segment{}, false
	}
	ipv4, ok := networkLayer.(*layers.IPv4)
	if !ok {
		return Segment{}, false
	}

	transportLayer := gp.TransportLayer()
	if transportLayer == nil {
		return Segment{}, false
	}
	tcp, ok := transportLayer.(*layers.TCP)
	if !ok {
		return Segment{}, false
	}

	flow := model.NewFlowKey(ipv4.SrcIP, uint16(tcp.SrcPort), ipv4.DstIP, uint16(tcp.DstPort))

	var payload []byte
	if app := gp.ApplicationLayer(); app != nil {
		payload = app.Payload()
	} else {
		payload = tcp.Payload
	}

	return Segment{Flow: flow, Seq: tcp.Seq, Payload: payload}, true
}

// Stop stops packet capture.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrCaptureNotRunning
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		if stats, err := c.handle.Stats(); err == nil && stats != nil {
			c.stats.PacketsDropped = uint64(stats.PacketsDropped)
			c.stats.PacketsIfDropped = uint64(stats.PacketsIfDropped)
		}
		c.handle.Close()
		c.handle = nil
	}

	c.running = false
	c.stats.EndTime = time.Now()
	return nil
}

// Stats returns a snapshot of the capture statistics.
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// IsRunning reports whether capture is active.
func (c *Capture) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// CheckBackend reports whether the capture backend (libpcap) is usable on
// this host, without opening any interface.
func CheckBackend() bool {
	_, err := pcap.FindAllDevs()
	return err == nil
}

// virtualBrands are case-insensitively matched substrings that mark an
// interface as VPN/virtualization-branded.
var virtualBrands = []string{"vpn", "tap", "tun", "virtual", "vmware", "virtualbox", "hyper-v", "docker", "wsl"}

// ListInterfaces returns every IPv4-bearing interface the capture backend
// exposes, with a friendly classification (C1). When the backend is
// unavailable it falls back to the OS view via net.Interfaces.
func ListInterfaces() ([]model.NetworkInterface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return listInterfacesFallback()
	}

	out := make([]model.NetworkInterface, 0, len(devs))
	for _, dev := range devs {
		iface := model.NetworkInterface{
			Name:        dev.Name,
			Description: dev.Description,
		}
		for _, addr := range dev.Addresses {
			if addr.IP == nil || addr.IP.To4() == nil {
				continue
			}
			iface.Addresses = append(iface.Addresses, model.InterfaceAddress{
				IP:      addr.IP.String(),
				Netmask: addr.Netmask.String(),
			})
		}
		iface.Class = classify(dev.Name, dev.Description)
		iface.Virtual = iface.Class == model.InterfaceClassVPN ||
			iface.Class == model.InterfaceClassHyperV ||
			iface.Class == model.InterfaceClassTunTap
		out = append(out, iface)
	}
	return out, nil
}

// listInterfacesFallback reports interfaces from the OS view when the
// capture backend (libpcap) is unavailable -- a degraded but functional
// state.
func listInterfacesFallback() ([]model.NetworkInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out := make([]model.NetworkInterface, 0, len(ifaces))
	for _, nif := range ifaces {
		iface := model.NetworkInterface{
			Name: nif.Name,
		}
		addrs, _ := nif.Addrs()
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			iface.Addresses = append(iface.Addresses, model.InterfaceAddress{
				IP:      ipNet.IP.String(),
				Netmask: net.IP(ipNet.Mask).String(),
			})
		}
		iface.Class = classify(nif.Name, "")
		iface.Virtual = iface.Class == model.InterfaceClassVPN ||
			iface.Class == model.InterfaceClassHyperV ||
			iface.Class == model.InterfaceClassTunTap
		out = append(out, iface)
	}
	return out, nil
}

// classify computes the friendly classification of an interface by
// case-insensitive substring match against its name and description.
func classify(name, description string) model.InterfaceClass {
	s := strings.ToLower(name + " " + description)

	switch {
	case strings.Contains(s, "loopback") || strings.Contains(s, "lo0") || strings.TrimSpace(s) == "lo":
		return model.InterfaceClassLoopback
	case strings.Contains(s, "hyper-v") || strings.Contains(s, "hyperv"):
		return model.InterfaceClassHyperV
	case containsAny(s, virtualBrands):
		if strings.Contains(s, "tap") || strings.Contains(s, "tun") {
			return model.InterfaceClassTunTap
		}
		return model.InterfaceClassVPN
	case strings.Contains(s, "bluetooth"):
		return model.InterfaceClassBluetooth
	case strings.Contains(s, "wi-fi") || strings.Contains(s, "wifi") || strings.Contains(s, "wlan") || strings.Contains(s, "wireless"):
		return model.InterfaceClassWiFi
	case strings.Contains(s, "eth") || strings.Contains(s, "ethernet") || strings.Contains(s, "en0") || strings.Contains(s, "en1"):
		return model.InterfaceClassEthernet
	default:
		return model.InterfaceClassOther
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// DefaultInterface picks the default selection: the first
// Ethernet interface with a non-loopback IPv4 address; else the first
// interface with a non-loopback address; else index 0.
func DefaultInterface(ifaces []model.NetworkInterface) (model.NetworkInterface, bool) {
	if len(ifaces) == 0 {
		return model.NetworkInterface{}, false
	}

	for _, iface := range ifaces {
		if iface.Class == model.InterfaceClassEthernet && iface.HasNonLoopbackIPv4() {
			return iface, true
		}
	}
	for _, iface := range ifaces {
		if iface.HasNonLoopbackIPv4() {
			return iface, true
		}
	}
	return ifaces[0], true
}

// FindByName returns an interface by name.
func FindByName(name string) (model.NetworkInterface, error) {
	ifaces, err := ListInterfaces()
	if err != nil {
		return model.NetworkInterface{}, err
	}
	for _, iface := range ifaces {
		if iface.Name == name {
			return iface, nil
		}
	}
	return model.NetworkInterface{}, ErrInvalidInterface
}
