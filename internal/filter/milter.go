package filter

import (
	"context"
	"net"
	"net/netip"
	"strconv"

	"github.com/emersion/go-milter"

	"hashcash-milter/internal/mint"
	"hashcash-milter/internal/netlist"
)

// New returns a constructor suitable for milter.Server.NewMilter: one
// *Connection (and, inside it, one Driver) per accepted connection,
// matching spec.md §5's "worker-per-connection" model — go-milter's
// server already runs each connection's callbacks on its own goroutine in
// sequence, so nothing here needs its own locking.
func New(srv *Server) func() milter.Milter {
	return func() milter.Milter {
		return &Connection{srv: srv, driver: srv.NewDriver()}
	}
}

// Connection adapts Driver to github.com/emersion/go-milter's per-
// connection Milter interface, translating wire callbacks into Driver
// calls and Driver's returned HeaderEdits into *milter.Modifier calls.
// Embedding milter.NoOpMilter supplies RespContinue defaults for any
// callback this filter does not care about (body chunks; it never reads
// the message body, per spec.md §1's non-goals).
type Connection struct {
	milter.NoOpMilter
	srv    *Server
	driver *Driver
}

// macro looks up a named milter macro (e.g. "j" for the MTA's own
// hostname, "i" for the queue id) from whatever the connected MTA
// negotiated to send at this protocol stage; missing macros return "".
func macro(m *milter.Modifier, name string) string {
	if m == nil || m.Macros == nil {
		return ""
	}
	return m.Macros[name]
}

func (c *Connection) Connect(ctx context.Context, host string, family string, port uint16, addr net.IP, m *milter.Modifier) (*milter.Response, error) {
	if j := macro(m, "j"); j != "" {
		c.driver.SetLocalHostname(j)
	}
	c.driver.SetQueueID(macro(m, "i"))

	if ip, ok := netip.AddrFromSlice(addr); ok && addr != nil {
		c.driver.Connect(ip.Unmap(), true)
	} else if family == "unix" {
		// A local socket counts as connected from either loopback address.
		lo := netlist.Loopback[0].Addr()
		if !c.srv.Policy.CoverIPAddrs.Match(lo) {
			lo = netlist.Loopback[1].Addr()
		}
		c.driver.Connect(lo, true)
	} else {
		c.driver.Connect(netip.Addr{}, false)
	}
	return milter.RespContinue, nil
}

func (c *Connection) MailFrom(ctx context.Context, from string, esmtpArgs string, m *milter.Modifier) (*milter.Response, error) {
	if j := macro(m, "j"); j != "" {
		c.driver.SetLocalHostname(j)
	}
	c.driver.SetQueueID(macro(m, "i"))
	c.driver.From(from, macro(m, "auth_type"))
	return milter.RespContinue, nil
}

func (c *Connection) RcptTo(ctx context.Context, rcptTo string, esmtpArgs string, m *milter.Modifier) (*milter.Response, error) {
	c.driver.Rcpt(rcptTo)
	return milter.RespContinue, nil
}

func (c *Connection) Header(ctx context.Context, name string, value string, m *milter.Modifier) (*milter.Response, error) {
	c.driver.Header(name, value)
	return milter.RespContinue, nil
}

// connProgress adapts *milter.Modifier to mint.Progress so the minting
// engine's adaptive ticker (spec.md §4.5) can report liveness back to the
// MTA without internal/mint importing the wire protocol.
type connProgress struct{ m *milter.Modifier }

func (p connProgress) Progress() {
	if p.m != nil {
		_ = p.m.Progress()
	}
}

// Body is invoked once at end-of-message (go-milter's final body-stage
// callback, after all Header calls); it is this filter's spec.md §4.4 EoM
// transition. This filter never registers interest in body chunks (see
// BodyChunk, left at NoOpMilter's default RespContinue), so Body always
// fires with no preceding BodyChunk calls.
func (c *Connection) Body(ctx context.Context, m *milter.Modifier) (*milter.Response, error) {
	edits := c.driver.EOM(ctx, connProgress{m: m})
	for _, e := range edits {
		switch e.Kind {
		case EditInsert:
			if err := m.InsertHeader(uint32(e.Index), e.Name, e.Value); err != nil {
				c.srv.Log.Warn("failed to insert header", "name", e.Name, "reason", err.Error())
			}
		case EditRemove:
			if err := m.ChangeHeader(e.Index, e.Name, ""); err != nil {
				c.srv.Log.Warn("failed to remove header", "name", e.Name, "instance", strconv.Itoa(e.Index), "reason", err.Error())
			}
		}
	}
	return milter.RespAccept, nil
}

var _ milter.Milter = (*Connection)(nil)
var _ mint.Progress = connProgress{}
