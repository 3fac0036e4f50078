// Package rotator drives the antenna rotator over TCP. Each axis (azimuth
// and elevation) is served by its own rotctld-style endpoint that accepts
// "P <degrees>" and answers "RPRT <code>" once the axis has settled.
package rotator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/groundstation/internal/logging"
)

// ErrLink wraps command failures: dial errors, timeouts and non-zero
// RPRT codes.
var ErrLink = errors.New("rotator link error")

// Axis identifies one rotator axis.
type Axis int

const (
	AxisAzimuth Axis = iota
	AxisElevation
)

func (a Axis) String() string {
	switch a {
	case AxisAzimuth:
		return "azimuth"
	case AxisElevation:
		return "elevation"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Config addresses the two axis endpoints.
type Config struct {
	Address       string
	AzimuthPort   int
	ElevationPort int
	// Timeout bounds the wait for an axis to confirm arrival.
	Timeout time.Duration
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns the local rotator endpoints.
func DefaultConfig() Config {
	return Config{
		Address:       "127.0.0.1",
		AzimuthPort:   8080,
		ElevationPort: 8081,
		Timeout:       30 * time.Second,
		DialTimeout:   2 * time.Second,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c Config) ApplyDefaults() Config {
	def := DefaultConfig()
	if c.Address == "" {
		c.Address = def.Address
	}
	if c.AzimuthPort <= 0 {
		c.AzimuthPort = def.AzimuthPort
	}
	if c.ElevationPort <= 0 {
		c.ElevationPort = def.ElevationPort
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	return c
}

func (c Config) endpoint(axis Axis) string {
	port := c.AzimuthPort
	if axis == AxisElevation {
		port = c.ElevationPort
	}
	return net.JoinHostPort(c.Address, strconv.Itoa(port))
}

// Recorder receives per-axis command outcomes. The observability collector
// implements it.
type Recorder interface {
	ObserveRotatorCommand(axis string, d time.Duration, err error)
}

type axisConn struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// Link is a connection to both rotator axes. A link whose axes failed to
// connect stays usable: each command redials a missing axis first.
type Link struct {
	cfg      Config
	log      logging.Logger
	recorder Recorder

	axes [2]axisConn
}

// Open dials both axes. Dial failures are logged and leave the link
// degraded rather than failing the call.
func Open(ctx context.Context, cfg Config, log logging.Logger, rec Recorder) *Link {
	if log == nil {
		log = logging.Noop()
	}
	l := &Link{cfg: cfg.ApplyDefaults(), log: log, recorder: rec}
	for _, axis := range []Axis{AxisAzimuth, AxisElevation} {
		ac := &l.axes[axis]
		ac.mu.Lock()
		err := l.dialLocked(ctx, axis, ac)
		ac.mu.Unlock()
		if err != nil {
			log.Warn(ctx, "rotator axis unavailable",
				logging.String("axis", axis.String()),
				logging.String("endpoint", l.cfg.endpoint(axis)),
				logging.Err(err),
			)
		}
	}
	return l
}

// Connected reports whether axis currently has an open connection.
func (l *Link) Connected(axis Axis) bool {
	ac := &l.axes[axis]
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.conn != nil
}

// Point commands both axes and blocks until each confirms arrival, fails or
// times out. Both axes move concurrently.
func (l *Link) Point(ctx context.Context, az, el float64) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.command(gctx, AxisAzimuth, az) })
	g.Go(func() error { return l.command(gctx, AxisElevation, el) })
	return g.Wait()
}

// Close closes both axis connections.
func (l *Link) Close() error {
	var errs []error
	for i := range l.axes {
		ac := &l.axes[i]
		ac.mu.Lock()
		if ac.conn != nil {
			if err := ac.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			ac.conn, ac.r = nil, nil
		}
		ac.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (l *Link) command(ctx context.Context, axis Axis, deg float64) (err error) {
	start := time.Now()
	defer func() {
		if l.recorder != nil {
			l.recorder.ObserveRotatorCommand(axis.String(), time.Since(start), err)
		}
	}()

	ac := &l.axes[axis]
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.conn == nil {
		if err := l.dialLocked(ctx, axis, ac); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLink, axis, err)
		}
	}

	deadline := time.Now().Add(l.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := ac.conn.SetDeadline(deadline); err != nil {
		l.dropLocked(ac)
		return fmt.Errorf("%w: %s: set deadline: %v", ErrLink, axis, err)
	}

	if _, err := fmt.Fprintf(ac.conn, "P %.2f\n", deg); err != nil {
		l.dropLocked(ac)
		return fmt.Errorf("%w: %s: send: %v", ErrLink, axis, err)
	}
	reply, err := ac.r.ReadString('\n')
	if err != nil {
		l.dropLocked(ac)
		return fmt.Errorf("%w: %s: wait for confirm: %v", ErrLink, axis, err)
	}
	code, err := parseReply(reply)
	if err != nil {
		l.dropLocked(ac)
		return fmt.Errorf("%w: %s: %v", ErrLink, axis, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: %s: rotator reported RPRT %d", ErrLink, axis, code)
	}
	return nil
}

func (l *Link) dialLocked(ctx context.Context, axis Axis, ac *axisConn) error {
	d := net.Dialer{Timeout: l.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", l.cfg.endpoint(axis))
	if err != nil {
		return err
	}
	ac.conn = conn
	ac.r = bufio.NewReader(conn)
	return nil
}

// A connection in an unknown protocol state is discarded and redialled on
// the next command.
func (l *Link) dropLocked(ac *axisConn) {
	if ac.conn != nil {
		_ = ac.conn.Close()
	}
	ac.conn, ac.r = nil, nil
}

func parseReply(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "RPRT" {
		return 0, fmt.Errorf("unexpected reply %q", strings.TrimSpace(line))
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("unexpected reply code %q", fields[1])
	}
	return code, nil
}
