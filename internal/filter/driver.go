// Package filter implements the protocol driver: the per-connection
// state machine that consumes MTA callbacks and decides whether to
// mint, verify, or stay passive for a message, and which headers to add,
// remove, or leave alone (spec.md §4.4).
//
// Driver is deliberately decoupled from the wire protocol: it knows
// nothing about the milter binary protocol itself, only about the
// callback sequence Connect → From → Rcpt* → Header* → EOM → Close and
// the edits it must hand back. The transport binding lives in milter.go
// (Connection), which adapts github.com/emersion/go-milter's
// session callbacks onto Driver's methods and applies the returned edits
// through a *milter.Modifier. This split is what makes the state machine
// itself unit-testable without a running milter peer.
package filter

import (
	"context"
	"net/netip"
	"strings"

	"hashcash-milter/internal/address"
	"hashcash-milter/internal/authresult"
	"hashcash-milter/internal/hashcash"
	"hashcash-milter/internal/log"
	"hashcash-milter/internal/mint"
	"hashcash-milter/internal/msgstate"
	"hashcash-milter/internal/policy"
	"hashcash-milter/internal/verify"
)

// Server bundles the process-wide collaborators every connection's
// Driver needs: the immutable Policy and the already-constructed mint
// and verify engines (which themselves hold the RNG source and ledger).
// One Server constructs one Driver per connection.
type Server struct {
	Policy *policy.Policy
	Mint   *mint.Engine
	Verify *verify.Engine
	Log    log.Logger
}

// NewDriver returns a fresh Driver for a new connection, matching
// spec.md's "created on connect" lifecycle.
func (srv *Server) NewDriver() *Driver {
	return &Driver{srv: srv, state: msgstate.New()}
}

// Driver holds one connection's evolving msgstate.State and implements
// every transition in spec.md §4.4.
type Driver struct {
	srv           *Server
	state         *msgstate.State
	localHostname string
}

// EditKind distinguishes a header insertion from a header deletion.
type EditKind int

const (
	EditInsert EditKind = iota
	EditRemove
)

// HeaderEdit is one deferred header mutation to apply once EOM completes,
// matching spec.md §5's "header insertions carry explicit indices... are
// applied in the order recorded".
type HeaderEdit struct {
	Kind  EditKind
	Index int // Insert: 0-based header position to insert after. Remove: 1-based occurrence index of Name.
	Name  string
	Value string // only meaningful for EditInsert
}

// SetLocalHostname records the MTA's own hostname once known (typically
// obtained from the "j" macro at Connect or Helo), compared against
// Authentication-Results authserv-id and used to build this filter's own
// verdict header. It may be called more than once if the MTA supplies it
// later than Connect. Until it is known, both the verdict header and the
// screening of Authentication-Results headers against it are skipped.
func (d *Driver) SetLocalHostname(name string) {
	d.localHostname = name
}

// SetQueueID records the MTA's per-message queue id, used only for log
// context.
func (d *Driver) SetQueueID(id string) {
	if id != "" {
		d.state.QueueID = id
	}
}

// Connect classifies the connection's source address against the
// configured IP cover list, per spec.md §4.4's Connect transition.
// hasAddr is false when the MTA could not supply a source address (e.g.
// a message injected locally); local/unix-socket callers should pass
// netlist.Loopback's address instead of hasAddr=false, matching spec.md
// §4.2's "local sockets behave as if connected from the loopback
// address" rule.
func (d *Driver) Connect(addr netip.Addr, hasAddr bool) {
	switch {
	case len(d.srv.Policy.CoverIPAddrs) == 0:
		d.state.Direction = msgstate.DirectionIncoming
	case !hasAddr:
		d.state.Direction = msgstate.DirectionUnknown
	case d.srv.Policy.CoverIPAddrs.Match(addr):
		d.state.Direction = msgstate.DirectionOutgoing
	default:
		d.state.Direction = msgstate.DirectionIncoming
	}
}

// From handles the envelope-sender transition, setting Mode and Ignore
// per spec.md §4.4's From rules. A single connection may carry more than
// one SMTP transaction, so From resets the per-message fields (recipients,
// tokens, header bookkeeping) while keeping the Direction this connection
// was classified with at Connect.
func (d *Driver) From(path string, authType string) {
	d.state = d.state.Reset()

	mbox, ok, err := address.SplitPath(path)
	if err != nil {
		d.state.Ignore = true
		d.srv.Log.Warn("malformed MAIL FROM path, degrading to passive", "reason", err.Error())
		return
	}

	switch {
	case d.srv.Policy.CoverAuth && authType != "":
		d.state.Mode = msgstate.ModeMint
	case d.state.Direction == msgstate.DirectionOutgoing:
		d.state.Mode = msgstate.ModeMint
	case d.state.Direction == msgstate.DirectionIncoming:
		d.state.Mode = msgstate.ModeCheck
	default:
		d.state.Mode = msgstate.ModePassive
	}

	if d.bitsForMode() == 0 {
		d.state.Ignore = true
	}

	if d.state.Mode == msgstate.ModeMint && len(d.srv.Policy.CoverDomains) > 0 {
		if !ok || !d.srv.Policy.CoverDomains.Match(mbox.Domain) {
			d.state.Ignore = true
		}
	}
}

func (d *Driver) bitsForMode() int {
	switch d.state.Mode {
	case msgstate.ModeMint:
		return d.srv.Policy.MintBits
	case msgstate.ModeCheck:
		return d.srv.Policy.CheckBits
	default:
		return 0
	}
}

// Rcpt handles one RCPT TO path, per spec.md §4.4's Rcpt transition.
func (d *Driver) Rcpt(path string) {
	if d.state.Ignore {
		return
	}
	mbox, ok, err := address.SplitPath(path)
	if err != nil || !ok {
		d.srv.Log.Warn("malformed RCPT TO path, skipping this recipient", "path", path)
		return
	}
	d.state.AddEnvRcpt(mbox)
}

// Header handles one header field, per spec.md §4.4's Header transition.
// Any parse failure inside this callback sets Ignore but never rejects
// the message, matching spec.md §4.4's "any parse or allocation failure
// within a callback sets ignore = true but the message is not rejected".
func (d *Driver) Header(name, value string) {
	d.state.HeaderCount++

	switch {
	case strings.EqualFold(name, "To"), strings.EqualFold(name, "Cc"):
		d.headerAddressList(value)
	case strings.EqualFold(name, "Hashcash"):
		d.headerHashcash(msgstate.RemoveHashcashUnprefixed, 0, value)
	case strings.EqualFold(name, "X-Hashcash"):
		d.headerHashcash(msgstate.RemoveHashcashXPrefixed, 1, value)
	case strings.EqualFold(name, "Return-Path"), strings.EqualFold(name, "Received"):
		d.state.HashcashPos = d.state.HeaderCount
		d.state.AuthResultsPos = d.state.HeaderCount
	case strings.EqualFold(name, "Authentication-Results"):
		d.headerAuthResults(value)
	}
}

func (d *Driver) headerAddressList(value string) {
	addrs, err := address.ParseList(value)
	if err != nil {
		d.state.Ignore = true
		d.srv.Log.Warn("malformed To/Cc header, degrading to passive", "reason", err.Error())
		return
	}
	for _, a := range addrs {
		d.state.AddMsgRcpt(a)
	}
}

func (d *Driver) headerHashcash(kind msgstate.RemoveHashcashKind, prefixIdx int, value string) {
	if d.state.Mode == msgstate.ModeCheck && !d.state.Ignore {
		norm := hashcash.Normalize(value)
		tok, err := hashcash.ParseToken(norm)
		if err != nil {
			d.state.Neutral = true
			return
		}
		_ = tok
		d.state.AddToken(norm, d.state.HeaderCount)
		return
	}

	d.state.HashcashCount[prefixIdx]++
	d.state.Ignore = true
	if hashcash.IsSpecial(value, "skip") {
		d.state.DeferRemoveHashcash(kind, d.state.HashcashCount[prefixIdx])
	}
}

func (d *Driver) headerAuthResults(value string) {
	if d.state.Mode == msgstate.ModeMint {
		return
	}

	d.state.AuthResultsPos = d.state.HeaderCount
	d.state.AuthResultsCount++

	if d.localHostname == "" {
		if !d.state.WarnedAuthResults {
			d.srv.Log.Warn("local hostname not yet known, cannot screen Authentication-Results")
			d.state.WarnedAuthResults = true
		}
		return
	}

	id, version := authresult.ParseIdentifierVersion(value)
	if id != d.localHostname || version != "1" {
		return
	}

	_, results, err := authresult.Parse(value)
	if err != nil {
		d.state.Ignore = true
		return
	}
	for _, r := range results {
		if authresult.IsOwnVerdict(r) {
			d.state.DeferRemoveAuthResults(d.state.AuthResultsCount)
			break
		}
	}
}

// EOM dispatches to minting or verification (if not ignoring) and
// returns every header edit to apply, in the order spec.md §4.4
// describes: new headers first (at strictly increasing positions),
// then deferred removals. It always represents an "accept" decision —
// this filter never rejects a message.
func (d *Driver) EOM(ctx context.Context, progress mint.Progress) []HeaderEdit {
	var edits []HeaderEdit

	if !d.state.Ignore {
		switch d.state.Mode {
		case msgstate.ModeMint:
			edits = append(edits, d.mint(ctx, progress)...)
		case msgstate.ModeCheck:
			edits = append(edits, d.verify()...)
		}
	}

	if d.state.Mode != msgstate.ModeMint {
		for _, idx := range d.state.RemoveAuthResults {
			edits = append(edits, HeaderEdit{Kind: EditRemove, Index: idx, Name: "Authentication-Results"})
		}
	}
	if d.state.Mode != msgstate.ModeCheck && d.state.RemoveHashcash != msgstate.RemoveHashcashNone {
		edits = append(edits, HeaderEdit{
			Kind:  EditRemove,
			Index: d.state.RemoveHashcashInstance,
			Name:  d.state.RemoveHashcash.String(),
		})
	}

	return edits
}

func (d *Driver) mint(ctx context.Context, progress mint.Progress) []HeaderEdit {
	results, err := d.srv.Mint.Mint(ctx, d.state.MsgRcpts, progress)
	if err != nil {
		d.srv.Log.Warn("minting abandoned for this message", "reason", err.Error())
		return nil
	}

	var edits []HeaderEdit
	pos := d.state.HashcashPos
	for _, r := range results {
		pos++
		edits = append(edits, HeaderEdit{Kind: EditInsert, Index: pos, Name: "X-Hashcash", Value: r.Raw})
	}
	d.state.HashcashPos = pos
	return edits
}

func (d *Driver) verify() []HeaderEdit {
	tokens := make([]verify.ScoredToken, 0, len(d.state.Tokens))
	for _, t := range d.state.Tokens {
		tok, err := hashcash.ParseToken(t.Raw)
		if err != nil {
			continue
		}
		tokens = append(tokens, verify.ScoredToken{Raw: t.Raw, Token: tok})
	}

	verdict := d.srv.Verify.Score(d.state.EnvRcpts, d.state.MsgRcpts, tokens)

	if d.localHostname == "" {
		return nil
	}

	value := authresult.Format(d.localHostname, nil, authresult.Verdict{Word: verdict.Word, Detail: verdict.Detail})
	line := "Authentication-Results: " + value
	if len(line) > hashcash.MaxHeaderLine {
		d.srv.Log.Warn("verdict header too long, skipping")
		return nil
	}

	d.state.AuthResultsPos++
	return []HeaderEdit{{Kind: EditInsert, Index: d.state.AuthResultsPos, Name: "Authentication-Results", Value: value}}
}

// Close releases this connection's state. A Driver is not reused after
// Close.
func (d *Driver) Close() {
	d.state = nil
}
