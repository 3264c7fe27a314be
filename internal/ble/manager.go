package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/blenetcfg/internal/ble/protocol"
	"github.com/chaz8081/blenetcfg/internal/events"
)

// ManagerOptions configures the connection manager and the sessions it runs.
type ManagerOptions struct {
	ServiceUUID    string
	WriteCharUUID  string
	StatusCharUUID string

	ConnectTimeout time.Duration // bound on connect + characteristic discovery
	StepTimeout    time.Duration // per handshake step, wall clock
	PacketDelay    time.Duration // delay between packets of one command
}

// DefaultManagerOptions returns sensible defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ServiceUUID:    protocol.ServiceUUID,
		WriteCharUUID:  protocol.WriteCharUUID,
		StatusCharUUID: protocol.StatusCharUUID,
		ConnectTimeout: 10 * time.Second,
		StepTimeout:    10 * time.Second,
		PacketDelay:    20 * time.Millisecond,
	}
}

type connState int

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
)

// Manager owns the single active GATT link. Connect and Disconnect are safe
// for concurrent use; a provisioning session may be interrupted by Disconnect
// from another goroutine.
type Manager struct {
	adapter Adapter
	scanner *Scanner
	sink    events.Sink
	opts    ManagerOptions

	mu             sync.Mutex
	state          connState
	link           *Link
	cancelConnect  context.CancelFunc // set while connecting
	connectAborted bool               // Disconnect arrived while connecting
}

// NewManager creates a Manager. scanner provides the set of addresses seen in
// the last scan; sink may be nil.
func NewManager(adapter Adapter, scanner *Scanner, sink events.Sink, opts ManagerOptions) *Manager {
	def := DefaultManagerOptions()
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = def.ServiceUUID
	}
	if opts.WriteCharUUID == "" {
		opts.WriteCharUUID = def.WriteCharUUID
	}
	if opts.StatusCharUUID == "" {
		opts.StatusCharUUID = def.StatusCharUUID
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = def.StepTimeout
	}
	if opts.PacketDelay < 0 {
		opts.PacketDelay = 0
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Manager{
		adapter: adapter,
		scanner: scanner,
		sink:    sink,
		opts:    opts,
	}
}

// Active returns the live link, or nil when not connected.
func (m *Manager) Active() *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// Connect opens a GATT link to a device seen in the last scan, resolves the
// write and status characteristics and subscribes to status notifications.
// Only one link may exist at a time. A Disconnect while connecting cancels
// the attempt, which then fails with ErrAborted.
func (m *Manager) Connect(ctx context.Context, id string) (*Link, error) {
	m.mu.Lock()
	if m.state != stateIdle {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.state = stateConnecting
	m.cancelConnect = cancel
	m.connectAborted = false
	m.mu.Unlock()

	link, err := m.open(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelConnect = nil
	if m.connectAborted {
		m.state = stateIdle
		if err == nil {
			link.close(ErrAborted)
			_ = link.conn.Disconnect()
		}
		return nil, fmt.Errorf("%w: connect to %s cancelled by disconnect", ErrAborted, id)
	}
	if err != nil {
		m.state = stateIdle
		return nil, err
	}
	if !link.alive() {
		// dropped between subscribe and here
		m.state = stateIdle
		return nil, fmt.Errorf("%w: %s dropped during setup", ErrConnectFailed, id)
	}
	m.link = link
	m.state = stateConnected
	return link, nil
}

func (m *Manager) open(ctx context.Context, id string) (*Link, error) {
	if m.scanner != nil {
		if _, ok := m.scanner.Lookup(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
		}
	}
	if err := m.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn, err := m.adapter.Connect(cctx, id)
	if err != nil {
		return nil, m.connectError(ctx, cctx, id, err)
	}

	// Discovery has no cancellation of its own on most stacks, so it runs
	// under the same deadline as the connect.
	type discoverResult struct {
		chars []Characteristic
		err   error
	}
	ch := make(chan discoverResult, 1)
	go func() {
		chars, err := conn.DiscoverCharacteristics(m.opts.ServiceUUID)
		ch <- discoverResult{chars, err}
	}()

	var chars []Characteristic
	select {
	case <-cctx.Done():
		go func() {
			<-ch
			_ = conn.Disconnect()
		}()
		return nil, m.connectError(ctx, cctx, id, cctx.Err())
	case res := <-ch:
		if res.err != nil {
			_ = conn.Disconnect()
			return nil, fmt.Errorf("%w: discover characteristics on %s: %v", ErrConnectFailed, id, res.err)
		}
		chars = res.chars
	}

	writeChar, statusChar, err := m.resolve(chars)
	if err != nil {
		_ = conn.Disconnect()
		return nil, err
	}

	link := &Link{
		address:     id,
		conn:        conn,
		writeChar:   writeChar,
		statusChar:  statusChar,
		sink:        m.sink,
		packetDelay: m.opts.PacketDelay,
		done:        make(chan struct{}),
	}
	conn.OnDisconnect(func() { m.handleDrop(link) })

	if err := statusChar.Subscribe(link.onNotification); err != nil {
		link.close(ErrConnectFailed)
		_ = conn.Disconnect()
		return nil, fmt.Errorf("%w: subscribe to status on %s: %v", ErrConnectFailed, id, err)
	}

	slog.Info("[BLE] connected", "address", id)
	m.sink.Publish(events.Log("connected to " + id))
	return link, nil
}

// connectError maps a failed connect attempt to the error taxonomy. Only our
// own deadline counts as a timeout; a cancelled caller context is passed through.
func (m *Manager) connectError(parent, cctx context.Context, id string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("ble: connect to %s: %w", id, parent.Err())
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, id, m.opts.ConnectTimeout)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnectFailed, id, err)
}

// resolve picks the write and status characteristics out of a discovered
// service. Property bits are checked only when the platform reports them.
func (m *Manager) resolve(chars []Characteristic) (write, status Characteristic, err error) {
	for _, c := range chars {
		props := c.Properties()
		switch {
		case write == nil && protocol.SameUUID(c.UUID(), m.opts.WriteCharUUID):
			if props == 0 || props.Has(PropWrite) || props.Has(PropWriteWithoutResponse) {
				write = c
			}
		case status == nil && protocol.SameUUID(c.UUID(), m.opts.StatusCharUUID):
			if props == 0 || props.Has(PropNotify) || props.Has(PropIndicate) {
				status = c
			}
		}
	}
	if write == nil {
		return nil, nil, fmt.Errorf("%w: write characteristic %s", ErrCharacteristicMissing, m.opts.WriteCharUUID)
	}
	if status == nil {
		return nil, nil, fmt.Errorf("%w: status characteristic %s", ErrCharacteristicMissing, m.opts.StatusCharUUID)
	}
	return write, status, nil
}

// Disconnect tears down the active link and aborts any running session.
// A Connect still in progress is cancelled and returns ErrAborted. It is a
// no-op when nothing is connected.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	link := m.link
	if link == nil {
		if m.state == stateConnecting && m.cancelConnect != nil {
			m.connectAborted = true
			m.cancelConnect()
		}
		m.mu.Unlock()
		return nil
	}
	m.link = nil
	m.state = stateIdle
	m.mu.Unlock()

	link.close(ErrAborted)
	err := link.conn.Disconnect()

	slog.Info("[BLE] disconnected", "address", link.address)
	m.sink.Publish(events.Log("disconnected from " + link.address))
	if err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", link.address, err)
	}
	return nil
}

// handleDrop runs when the peripheral side drops the link.
func (m *Manager) handleDrop(link *Link) {
	if !link.close(ErrNotConnected) {
		return // already torn down by Disconnect
	}
	m.mu.Lock()
	if m.link == link {
		m.link = nil
		m.state = stateIdle
	}
	m.mu.Unlock()

	slog.Warn("[BLE] device disconnected", "address", link.address)
	m.sink.Publish(events.Log("device " + link.address + " disconnected"))
}

// ConfigureWiFi runs a provisioning session over the active link: START,
// SSID, PASSWORD and DONE each wait for PROVISION_SUCCESS, then REBOOT is sent
// without waiting. It blocks until the session ends; Disconnect or ctx
// cancellation from another goroutine aborts it.
//
// The returned error is nil on success, a *StepFailureError when the device
// reports PROVISION_FAILURE, and wraps ErrStepTimeout or ErrAborted otherwise.
func (m *Manager) ConfigureWiFi(ctx context.Context, ssid, password string) (Outcome, error) {
	switch {
	case ssid == "":
		return Outcome{}, fmt.Errorf("%w: ssid must not be empty", ErrInvalidArgument)
	case len(ssid) > protocol.MaxSSIDBytes:
		return Outcome{}, fmt.Errorf("%w: ssid is %d bytes, max %d", ErrInvalidArgument, len(ssid), protocol.MaxSSIDBytes)
	case len(password) > protocol.MaxPasswordBytes:
		return Outcome{}, fmt.Errorf("%w: password is %d bytes, max %d", ErrInvalidArgument, len(password), protocol.MaxPasswordBytes)
	}

	link := m.Active()
	if link == nil {
		return Outcome{}, ErrNotConnected
	}

	s := newSession(link, m.sink, m.opts.StepTimeout, ssid, password)
	if err := link.attach(s); err != nil {
		return Outcome{}, err
	}
	defer link.detach(s)

	slog.Info("[BLE] provisioning", "address", link.address, "ssid", ssid, "session", s.id)
	return s.run(ctx)
}

// Link is the single live GATT connection owned by a Manager.
type Link struct {
	address     string
	conn        Connection
	writeChar   Characteristic
	statusChar  Characteristic
	sink        events.Sink
	packetDelay time.Duration

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	err     error
	session *Session

	writeMu sync.Mutex // serializes commands
}

// Address returns the peer address.
func (l *Link) Address() string {
	return l.address
}

// Done is closed when the link is torn down for any reason.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Err reports why the link closed, or nil while it is live.
func (l *Link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Link) alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// close invalidates the link. Reports whether this call closed it.
func (l *Link) close(reason error) bool {
	closed := false
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.err = reason
		l.mu.Unlock()
		close(l.done)
		closed = true
	})
	return closed
}

func (l *Link) attach(s *Session) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return ErrNotConnected
	}
	if l.session != nil {
		return ErrSessionActive
	}
	l.session = s
	return nil
}

func (l *Link) detach(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session == s {
		l.session = nil
	}
}

// writeCommand frames and writes one command. A closed link fails fast with
// ErrNotConnected; transport errors are returned as-is, never retried.
func (l *Link) writeCommand(op protocol.Opcode, payload []byte) error {
	packets, err := protocol.BuildPackets(op, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	for i, pkt := range packets {
		if i > 0 && l.packetDelay > 0 {
			select {
			case <-time.After(l.packetDelay):
			case <-l.done:
				return ErrNotConnected
			}
		}
		if !l.alive() {
			return ErrNotConnected
		}
		if err := l.writeChar.Write(pkt); err != nil {
			if !l.alive() {
				return ErrNotConnected
			}
			return fmt.Errorf("ble: write %s packet %d/%d: %w", op, i+1, len(packets), err)
		}
	}
	return nil
}

// onNotification runs on the BLE stack's callback goroutine.
func (l *Link) onNotification(data []byte) {
	rec, err := protocol.DecodeStatus(data)
	if err != nil {
		slog.Warn("[BLE] discarding notification", "address", l.address, "error", err)
		l.sink.Publish(events.Log(fmt.Sprintf("discarded malformed notification %x", data)))
		return
	}

	l.mu.Lock()
	s := l.session
	l.mu.Unlock()

	e := events.Status(rec)
	if s != nil {
		e.SessionID = s.id
	}
	l.sink.Publish(e)

	if s != nil {
		s.deliver(rec)
	}
}
