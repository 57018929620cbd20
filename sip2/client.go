package sip2

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/libbridge/sip2go/common"
)

// DashboardFunc receives diagnostic events for the dashboard stream. The
// details map may carry a "raw" frame; the event bus redacts it before any
// subscriber sees it.
type DashboardFunc func(level, message string, details map[string]interface{})

// ClientConfig is the per-branch connection configuration snapshot a Client
// is created from.
type ClientConfig struct {
	Host        string
	Port        int
	Timeout     time.Duration // connect handshake and per-request reply timeout
	Institution string

	UseTLS bool
	// TLSSkipVerify disables certificate validation. Strict validation is the
	// default; only set this for LMS endpoints with self-signed certificates.
	TLSSkipVerify bool

	// ChecksumRequired rejects inbound frames that fail checksum
	// verification. When false a failed checksum only produces a warning.
	ChecksumRequired bool

	Logger    common.Logger
	Dashboard DashboardFunc
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = common.NopLogger()
	}
}

type pendingResult struct {
	frame string
	err   error
}

// pendingRequest lives from send until exactly one of: matching response,
// timer fire, socket close, or checksum rejection.
type pendingRequest struct {
	done  chan pendingResult
	timer *time.Timer
}

// Client owns one TCP or TLS socket to one LMS endpoint. The manager
// serializes operations per branch, so at most one request-response is in
// flight during steady state; the pending table still keys every outstanding
// request by sequence number to route responses correctly.
type Client struct {
	cfg ClientConfig
	log common.Logger

	mu         sync.Mutex
	conn       net.Conn
	connecting chan struct{}
	connectErr error
	buf        string
	pending    map[int]*pendingRequest
	seqCursor  int
}

// NewClient creates a client for one LMS endpoint. No connection is opened
// until the first operation or an explicit Connect.
func NewClient(cfg ClientConfig) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: make(map[int]*pendingRequest),
	}
}

func (c *Client) dashboard(level, message string, details map[string]interface{}) {
	if c.cfg.Dashboard != nil {
		c.cfg.Dashboard(level, message, details)
	}
}

// Connect is idempotent: an established socket returns immediately and a
// connect already in flight is joined rather than duplicated.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if ch := c.connecting; ch != nil {
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != nil {
			return nil
		}
		return c.connectErr
	}
	ch := make(chan struct{})
	c.connecting = ch
	c.mu.Unlock()

	conn, err := c.dial()

	c.mu.Lock()
	c.connecting = nil
	c.connectErr = err
	if err == nil {
		c.conn = conn
		c.buf = ""
	}
	c.mu.Unlock()
	close(ch)

	if err != nil {
		return err
	}
	c.log.Debug("connected", "host", c.cfg.Host, "port", c.cfg.Port, "tls", c.cfg.UseTLS)
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial() (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := &net.Dialer{Timeout: c.cfg.Timeout}

	var conn net.Conn
	var err error
	if c.cfg.UseTLS {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
			ServerName:         c.cfg.Host,
			InsecureSkipVerify: c.cfg.TLSSkipVerify,
		})
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, addr)
		}
		return nil, fmt.Errorf("sip2: connect %s: %w", addr, err)
	}
	return conn, nil
}

// readLoop pulls bytes off the socket until it closes or errors, then rejects
// every pending request.
func (c *Client) readLoop(conn net.Conn) {
	decoder := charmap.ISO8859_1.NewDecoder()
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			decoded, derr := decoder.Bytes(chunk[:n])
			if derr != nil {
				// ISO-8859-1 decodes every byte; this cannot fail in practice.
				decoded = chunk[:n]
			}
			c.appendAndDispatch(string(decoded))
		}
		if err != nil {
			c.handleDisconnect(err)
			return
		}
	}
}

// appendAndDispatch implements the frame reassembler: accumulate bytes, carve
// off complete \r-terminated messages, tolerate CRLF and leading whitespace.
func (c *Client) appendAndDispatch(data string) {
	c.mu.Lock()
	c.buf += data
	for {
		idx := strings.IndexByte(c.buf, '\r')
		if idx < 0 {
			break
		}
		raw := c.buf[:idx+1]
		c.buf = c.buf[idx+1:]
		raw = strings.TrimPrefix(raw, "\n")
		raw = strings.TrimLeft(raw, " \t\n")
		if strings.TrimSuffix(raw, "\r") == "" {
			continue
		}
		c.mu.Unlock()
		c.handleMessage(raw)
		c.mu.Lock()
	}
	c.mu.Unlock()
}

// extractSeq pulls the sequence digit out of a frame's AY<d>AZ region, or -1.
func extractSeq(frame string) int {
	m := trailerRe.FindStringSubmatch(strings.TrimRight(frame, "\r\n"))
	if m == nil {
		return -1
	}
	return int(m[1][0] - '0')
}

func (c *Client) handleMessage(frame string) {
	verified, err := VerifyTrailer(frame)
	if err != nil || !verified {
		if c.cfg.ChecksumRequired {
			c.dashboard("error", "SIP2 checksum verification failed", map[string]interface{}{"raw": frame})
			c.log.Error("checksum verification failed", "host", c.cfg.Host)
			if seq := extractSeq(frame); seq >= 0 {
				if pr := c.takePending(seq); pr != nil {
					pr.complete(pendingResult{err: ErrChecksumMismatch})
				}
			}
			return
		}
		c.dashboard("warn", "SIP2 checksum mismatch tolerated", map[string]interface{}{"raw": frame})
		c.log.Warn("checksum mismatch tolerated", "host", c.cfg.Host)
	}

	seq := extractSeq(frame)
	if seq >= 0 {
		if pr := c.takePending(seq); pr != nil {
			pr.complete(pendingResult{frame: frame})
			return
		}
		c.log.Warn("response with no matching request", "seq", seq)
		return
	}

	// No sequence digit: legacy systems omit the trailer. With exactly one
	// request outstanding the response is unambiguous; with more than one,
	// delivering it to the wrong caller would be a correctness violation.
	c.mu.Lock()
	var only int
	switch len(c.pending) {
	case 1:
		for k := range c.pending {
			only = k
		}
		c.mu.Unlock()
		if pr := c.takePending(only); pr != nil {
			pr.complete(pendingResult{frame: frame})
		}
	case 0:
		c.mu.Unlock()
		c.log.Warn("unsolicited message discarded", "host", c.cfg.Host)
	default:
		c.mu.Unlock()
		c.log.Error("untagged response with multiple requests in flight, discarding", "host", c.cfg.Host)
	}
}

// takePending removes and returns the entry for seq, stopping its timer.
func (c *Client) takePending(seq int) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	pr, ok := c.pending[seq]
	if !ok {
		return nil
	}
	delete(c.pending, seq)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	return pr
}

func (pr *pendingRequest) complete(res pendingResult) {
	select {
	case pr.done <- res:
	default:
	}
}

// AllocateSeq returns the next free sequence number, scanning ten candidates
// from the round-robin cursor.
func (c *Client) AllocateSeq() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < 10; i++ {
		cand := (c.seqCursor + i) % 10
		if _, busy := c.pending[cand]; !busy {
			c.seqCursor = (cand + 1) % 10
			return cand, nil
		}
	}
	return 0, ErrClientAtCapacity
}

// SendRaw transmits one frame and blocks until the matching response, the
// request timeout, or socket failure. A timeout destroys the socket so the
// next call starts from a clean connection.
func (c *Client) SendRaw(frame string, seq int) (string, error) {
	if err := c.Connect(); err != nil {
		return "", err
	}

	c.mu.Lock()
	if _, busy := c.pending[seq]; busy {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrSequenceInUse, seq)
	}
	pr := &pendingRequest{done: make(chan pendingResult, 1)}
	pr.timer = time.AfterFunc(c.cfg.Timeout, func() { c.onRequestTimeout(seq) })
	c.pending[seq] = pr
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		if pr := c.takePending(seq); pr != nil {
			pr.complete(pendingResult{err: ErrNotConnected})
		}
		res := <-pr.done
		return "", res.err
	}

	ascii := ToASCII(frame)
	c.dashboard("info", "SIP2 request", map[string]interface{}{
		"host": c.cfg.Host,
		"seq":  seq,
		"raw":  ascii,
	})

	if _, err := conn.Write([]byte(ascii)); err != nil {
		if pr := c.takePending(seq); pr != nil {
			pr.complete(pendingResult{err: err})
		}
		res := <-pr.done
		return "", res.err
	}

	res := <-pr.done
	return res.frame, res.err
}

func (c *Client) onRequestTimeout(seq int) {
	c.mu.Lock()
	pr, ok := c.pending[seq]
	if ok {
		delete(c.pending, seq)
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if ok {
		c.log.Warn("request timed out, destroying socket", "seq", seq, "host", c.cfg.Host)
		pr.complete(pendingResult{err: ErrRequestTimeout})
	}
}

// handleDisconnect runs when the socket closes or errors: every pending
// request is rejected and the table cleared.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	stale := c.pending
	c.pending = make(map[int]*pendingRequest)
	c.buf = ""
	c.mu.Unlock()

	for _, pr := range stale {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		pr.complete(pendingResult{err: fmt.Errorf("%w: %v", ErrNotConnected, err)})
	}
}

// Disconnect destroys the socket if present. Pending requests are rejected by
// the read loop's disconnect handling, not here.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Connected reports whether a live socket is held.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// PendingCount reports outstanding requests; at most ten.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) roundTrip(build func(seq int) (string, error)) (string, error) {
	seq, err := c.AllocateSeq()
	if err != nil {
		return "", err
	}
	frame, err := build(seq)
	if err != nil {
		return "", err
	}
	return c.SendRaw(frame, seq)
}

// Login performs the Login (93) round-trip. The handshake always runs on
// sequence 0, before any other traffic on the socket.
func (c *Client) Login(user, password, location string) (*LoginResponse, error) {
	frame, err := BuildLogin(user, password, location, 0)
	if err != nil {
		return nil, err
	}
	resp, err := c.SendRaw(frame, 0)
	if err != nil {
		return nil, err
	}
	return ParseLogin(resp)
}

// PatronStatus performs a Patron Status (23) round-trip.
func (c *Client) PatronStatus(barcode, language string) (*PatronStatusResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildPatronStatus(c.cfg.Institution, barcode, language, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParsePatronStatus(resp)
}

// Checkout performs a Checkout (11) round-trip.
func (c *Client) Checkout(patronBarcode, itemBarcode, patronPin string) (*CheckoutResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildCheckout(c.cfg.Institution, patronBarcode, itemBarcode, patronPin, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseCheckout(resp)
}

// Checkin performs a Checkin (09) round-trip.
func (c *Client) Checkin(itemBarcode string) (*CheckinResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildCheckin(c.cfg.Institution, itemBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseCheckin(resp)
}

// ItemInformation performs an Item Information (17) round-trip.
func (c *Client) ItemInformation(itemBarcode string) (*ItemInformationResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildItemInformation(c.cfg.Institution, itemBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseItemInformation(resp)
}

// Renew performs a Renew (29) round-trip. The response shares the Checkout
// layout.
func (c *Client) Renew(patronBarcode, itemBarcode, patronPin string) (*CheckoutResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildRenew(c.cfg.Institution, patronBarcode, itemBarcode, patronPin, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseCheckout(resp)
}

// FeePaid performs a Fee Paid (37) round-trip.
func (c *Client) FeePaid(patronBarcode, feeID, amount, feeType, paymentType, currency string) (*FeePaidResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildFeePaid(c.cfg.Institution, patronBarcode, feeID, amount, feeType, paymentType, currency, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseFeePaid(resp)
}

// PatronInformation performs a Patron Information (63) round-trip.
func (c *Client) PatronInformation(barcode, language string, summary PatronSummary, startItem, endItem int) (*PatronInformationResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildPatronInformation(c.cfg.Institution, barcode, language, summary, startItem, endItem, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParsePatronInformation(resp)
}

// Hold performs a Hold (15) round-trip.
func (c *Client) Hold(patronBarcode string, mode byte, itemBarcode, expiryDate, pickupLocation, titleID string) (*HoldResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildHold(c.cfg.Institution, patronBarcode, mode, itemBarcode, expiryDate, pickupLocation, titleID, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseHold(resp)
}

// RenewAll performs a Renew All (65) round-trip.
func (c *Client) RenewAll(patronBarcode string) (*RenewAllResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildRenewAll(c.cfg.Institution, patronBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseRenewAll(resp)
}

// EndSession performs an End Patron Session (35) round-trip.
func (c *Client) EndSession(patronBarcode string) (*EndSessionResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildEndSession(c.cfg.Institution, patronBarcode, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseEndSession(resp)
}

// SCStatus performs an SC Status (99) round-trip.
func (c *Client) SCStatus() (*ACSStatusResponse, error) {
	resp, err := c.roundTrip(BuildSCStatus)
	if err != nil {
		return nil, err
	}
	return ParseACSStatus(resp)
}

// ItemStatusUpdate performs an Item Status Update (19) round-trip.
func (c *Client) ItemStatusUpdate(itemBarcode string, securityMarker byte) (*ItemStatusUpdateResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildItemStatusUpdate(c.cfg.Institution, itemBarcode, securityMarker, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParseItemStatusUpdate(resp)
}

// PatronEnable performs a Patron Enable (25) round-trip. The response shares
// the Patron Status layout.
func (c *Client) PatronEnable(patronBarcode, patronPin string) (*PatronStatusResponse, error) {
	resp, err := c.roundTrip(func(seq int) (string, error) {
		return BuildPatronEnable(c.cfg.Institution, patronBarcode, patronPin, seq)
	})
	if err != nil {
		return nil, err
	}
	return ParsePatronStatus(resp)
}

// BlockPatron writes a Block Patron (01) frame. SIP2 defines no response for
// this command, so no pending entry is installed and the call returns once
// the frame is written.
func (c *Client) BlockPatron(patronBarcode string, cardRetained bool, message string) error {
	if err := c.Connect(); err != nil {
		return err
	}
	seq, err := c.AllocateSeq()
	if err != nil {
		return err
	}
	frame, err := BuildBlockPatron(c.cfg.Institution, patronBarcode, cardRetained, message, seq)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	ascii := ToASCII(frame)
	c.dashboard("info", "SIP2 request", map[string]interface{}{
		"host": c.cfg.Host,
		"seq":  seq,
		"raw":  ascii,
	})
	_, err = conn.Write([]byte(ascii))
	return err
}
