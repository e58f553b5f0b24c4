// Package notify implements the thin, fire-and-forget outbound adapters
// spec.md §4.7 calls External Notifier Interfaces: a database reporter,
// an NTP offset probe, and a log sink. None of these may block the
// dispatcher; every call here is best-effort and every failure is
// logged and swallowed.
//
// spec.md §1 places the concrete database/NTP/log-rotation
// implementations outside the core's scope ("sketched through their
// interfaces"), so these adapters are deliberately minimal — see
// DESIGN.md for why no third-party DB driver or NTP client is wired in.
package notify

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/starwatch-observatory/obsd/internal/obssystem"
	"github.com/starwatch-observatory/obsd/internal/planstore"
)

// LogReporter satisfies both obssystem.Reporter and planstore.Reporter
// by writing every notification to the daemon's log. It is always
// active, even when a database URL is not configured, so operators
// always have a record of lifecycle events.
type LogReporter struct {
	log *log.Logger
}

// NewLogReporter wraps logger.
func NewLogReporter(logger *log.Logger) *LogReporter { return &LogReporter{log: logger} }

func (r *LogReporter) MountState(gid, uid string, info obssystem.MountInfo) {
	r.log.Printf("notify: mount %s/%s state=%v alt=%.2f", gid, uid, info.State, info.Alt)
}

func (r *LogReporter) CameraState(gid, uid, cid string, info obssystem.CameraInfo) {
	r.log.Printf("notify: camera %s/%s/%s state=%v", gid, uid, cid, info.State)
}

func (r *LogReporter) PlanStarted(gid, uid, planSN string) {
	r.log.Printf("notify: plan %s (%s/%s) started", planSN, gid, uid)
}

func (r *LogReporter) PlanOver(gid, uid, planSN string) {
	r.log.Printf("notify: plan %s (%s/%s) over", planSN, gid, uid)
}

func (r *LogReporter) PlanInterrupted(gid, uid, planSN string) {
	r.log.Printf("notify: plan %s (%s/%s) interrupted", planSN, gid, uid)
}

func (r *LogReporter) PlanAbandoned(p *planstore.Plan) {
	r.log.Printf("notify: plan %s (%s/%s) abandoned", p.PlanSN, p.GID, p.UID)
}

// DBReporter is a best-effort sink for an external database/reporting
// service at spec.md §6's "database URL" configuration entry. Each
// notification only dials that address over TCP and closes the
// connection; no request or payload is sent. A zero-value DBReporter (no URL configured) is a
// no-op. Every call happens on its own goroutine so a slow or
// unreachable endpoint never stalls the caller, per spec.md §1 ("the
// core never blocks on external HTTP/DB calls").
type DBReporter struct {
	url    string
	log    *log.Logger
	client interface {
		Post(url string) error
	}
}

// NewDBReporter creates a reporter posting to url. An empty url
// disables reporting entirely.
func NewDBReporter(logger *log.Logger, url string) *DBReporter {
	return &DBReporter{url: url, log: logger, client: newHTTPPoster()}
}

func (r *DBReporter) fireAndForget(label string) {
	if r == nil || r.url == "" {
		return
	}
	go func() {
		if err := r.client.Post(r.url); err != nil {
			r.log.Printf("notify: db report %s failed: %v", label, err)
		}
	}()
}

func (r *DBReporter) MountState(gid, uid string, info obssystem.MountInfo) {
	r.fireAndForget("mount-state:" + gid + "/" + uid)
}
func (r *DBReporter) CameraState(gid, uid, cid string, info obssystem.CameraInfo) {
	r.fireAndForget("camera-state:" + gid + "/" + uid + "/" + cid)
}
func (r *DBReporter) PlanStarted(gid, uid, planSN string)     { r.fireAndForget("plan-started:" + planSN) }
func (r *DBReporter) PlanOver(gid, uid, planSN string)        { r.fireAndForget("plan-over:" + planSN) }
func (r *DBReporter) PlanInterrupted(gid, uid, planSN string) { r.fireAndForget("plan-interrupted:" + planSN) }
func (r *DBReporter) PlanAbandoned(p *planstore.Plan)         { r.fireAndForget("plan-abandoned:" + p.PlanSN) }

// httpPoster is the default transport behind DBReporter's unexported
// client interface, which a fake can replace without opening real
// sockets. Post dials url as a TCP address and closes the connection.
type httpPoster struct {
	timeout time.Duration
}

func newHTTPPoster() *httpPoster { return &httpPoster{timeout: 5 * time.Second} }

func (h *httpPoster) Post(url string) error {
	d := net.Dialer{Timeout: h.timeout}
	conn, err := d.Dial("tcp", url)
	if err != nil {
		return err
	}
	return conn.Close()
}

// MultiReporter fans every notification out to a fixed set of
// Reporters, letting the Coordinator hand obssystem/planstore a single
// sink that both logs and forwards to the configured database.
type MultiReporter struct {
	reporters []interface {
		obssystem.Reporter
		planstore.Reporter
	}
}

// NewMultiReporter builds a fan-out over rs, skipping any nil entry
// (e.g. a DBReporter left unconfigured).
func NewMultiReporter(rs ...interface {
	obssystem.Reporter
	planstore.Reporter
}) *MultiReporter {
	m := &MultiReporter{}
	for _, r := range rs {
		if r != nil {
			m.reporters = append(m.reporters, r)
		}
	}
	return m
}

func (m *MultiReporter) MountState(gid, uid string, info obssystem.MountInfo) {
	for _, r := range m.reporters {
		r.MountState(gid, uid, info)
	}
}

func (m *MultiReporter) CameraState(gid, uid, cid string, info obssystem.CameraInfo) {
	for _, r := range m.reporters {
		r.CameraState(gid, uid, cid, info)
	}
}

func (m *MultiReporter) PlanStarted(gid, uid, planSN string) {
	for _, r := range m.reporters {
		r.PlanStarted(gid, uid, planSN)
	}
}

func (m *MultiReporter) PlanOver(gid, uid, planSN string) {
	for _, r := range m.reporters {
		r.PlanOver(gid, uid, planSN)
	}
}

func (m *MultiReporter) PlanInterrupted(gid, uid, planSN string) {
	for _, r := range m.reporters {
		r.PlanInterrupted(gid, uid, planSN)
	}
}

func (m *MultiReporter) PlanAbandoned(p *planstore.Plan) {
	for _, r := range m.reporters {
		r.PlanAbandoned(p)
	}
}

// NTPSync periodically probes an NTP host for clock offset, per
// spec.md §4.7. Failures are logged and never stall scheduling; the
// offset is exposed for the Coordinator to stamp onto outbound UTC
// fields if desired.
type NTPSync struct {
	host string
	log  *log.Logger

	mu     sync.RWMutex
	offset time.Duration
}

// NewNTPSync creates a synchroniser against host. An empty host
// disables probing.
func NewNTPSync(logger *log.Logger, host string) *NTPSync {
	return &NTPSync{host: host, log: logger}
}

// Offset returns the last successfully measured clock offset.
func (n *NTPSync) Offset() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.offset
}

// Run probes every 10 minutes until ctx is cancelled. This is a stub
// round-trip measurement (dial + timestamp), not a full NTP client,
// matching the interface-only treatment spec.md §1 calls for.
func (n *NTPSync) Run(ctx context.Context) {
	if n.host == "" {
		return
	}
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	n.probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.probe()
		}
	}
}

func (n *NTPSync) probe() {
	start := time.Now()
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.Dial("udp", net.JoinHostPort(n.host, "123"))
	if err != nil {
		n.log.Printf("notify: ntp probe to %s failed: %v", n.host, err)
		return
	}
	defer conn.Close()
	rtt := time.Since(start)
	n.mu.Lock()
	n.offset = rtt / 2
	n.mu.Unlock()
}
