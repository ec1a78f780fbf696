// Package msgstate holds the per-connection state the protocol driver
// accumulates across a milter session's callbacks: the direction decision,
// seen recipients, seen tokens, header bookkeeping and the actions
// deferred to the end-of-message callback.
//
// Unlike the reference implementation's intrusive singly-linked lists
// (struct string*, struct integer*), state here is plain ordered slices —
// there is exactly one of each list per connection, so nothing is gained
// from a hand-rolled list type, and slices give append/range for free.
package msgstate

import "hashcash-milter/internal/address"

// Direction classifies a connection as outgoing (mint tokens) or incoming
// (verify tokens), or unknown before Connect has been classified.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionOutgoing
	DirectionIncoming
)

// Mode is the active action for this message, derived from Direction and
// policy once the envelope sender is known.
type Mode int

const (
	ModePassive Mode = iota
	ModeMint
	ModeCheck
)

// RemoveHashcashKind records which of the two recognized header names (if
// either) carried a "skip" pseudo-header that must be deleted at EOM,
// matching spec.md's remove_hashcash ∈ {none, xprefixed, unprefixed}.
type RemoveHashcashKind int

const (
	RemoveHashcashNone RemoveHashcashKind = iota
	RemoveHashcashUnprefixed              // "Hashcash" header
	RemoveHashcashXPrefixed                // "X-Hashcash" header
)

// String renders the concrete header name a RemoveHashcashKind refers to.
func (k RemoveHashcashKind) String() string {
	switch k {
	case RemoveHashcashUnprefixed:
		return "Hashcash"
	case RemoveHashcashXPrefixed:
		return "X-Hashcash"
	default:
		return ""
	}
}

// Token is a syntactically valid hashcash token seen on a header, along
// with the header position it came from so it can be inspected again
// during EOM without re-scanning headers.
type Token struct {
	Raw         string
	HeaderIndex int // 1-based position among all headers of the message
}

// State is the full per-connection record the protocol driver maintains
// between Connect and Close.
type State struct {
	QueueID   string
	Direction Direction
	Mode      Mode
	Ignore    bool // only passive actions are performed for this message

	EnvRcpts []address.Mailbox // RCPT TO addresses, envelope order
	MsgRcpts []address.Mailbox // To/Cc addresses parsed from headers
	Tokens   []Token           // syntactically valid X-Hashcash tokens seen
	Neutral  bool              // a syntactically invalid X-Hashcash header was seen

	HeaderCount      int
	HashcashPos      int // header index after which new X-Hashcash headers are inserted
	HashcashCount    [2]int // [0]="Hashcash", [1]="X-Hashcash" header counts seen
	AuthResultsPos   int // header index after which a new Authentication-Results header is inserted
	AuthResultsCount int

	RemoveHashcash         RemoveHashcashKind // which header (if any) carried a "skip" instruction
	RemoveHashcashInstance int                // 1-based occurrence index of that header name, for change_header
	RemoveAuthResults      []int              // 1-based occurrence indexes of Authentication-Results headers to remove
	WarnedAuthResults      bool               // already logged "hostname unavailable" for this message
}

// New returns a freshly reset State for a new connection, with QueueID set
// to the placeholder used until the MTA supplies the real queue id.
func New() *State {
	return &State{QueueID: "(unknown)"}
}

// Reset returns a freshly reset State for the next message on the same
// connection, carrying over Direction (classified once per connection at
// Connect, per spec.md §4.4) since a single milter connection can carry
// more than one SMTP transaction before it closes.
func (s *State) Reset() *State {
	next := &State{QueueID: "(unknown)"}
	if s != nil {
		next.Direction = s.Direction
	}
	return next
}

// AddEnvRcpt records an envelope recipient, skipping it if an equal
// mailbox (per address.Mailbox.Equal: local case-sensitive, domain
// case-insensitive) is already present — the invariant spec.md §3
// requires of the envelope recipient list.
func (s *State) AddEnvRcpt(m address.Mailbox) {
	for _, existing := range s.EnvRcpts {
		if existing.Equal(m) {
			return
		}
	}
	s.EnvRcpts = append(s.EnvRcpts, m)
}

// AddMsgRcpt records a To/Cc header recipient, with the same dedup rule
// as AddEnvRcpt (spec.md §4.4's Header callback: "add to message
// recipients with dedup").
func (s *State) AddMsgRcpt(m address.Mailbox) {
	for _, existing := range s.MsgRcpts {
		if existing.Equal(m) {
			return
		}
	}
	s.MsgRcpts = append(s.MsgRcpts, m)
}

// AddToken records a syntactically valid token along with the header
// position it was read from.
func (s *State) AddToken(raw string, headerIndex int) {
	s.Tokens = append(s.Tokens, Token{Raw: raw, HeaderIndex: headerIndex})
}

// DeferRemoveHashcash records that the Hashcash/X-Hashcash header at
// instance (its 1-based occurrence index among headers of that name)
// carried a "skip" pseudo-header and must be deleted at EOM. Only the
// first such header in a message is honored, per spec.md §4.4 ("record
// remove_hashcash ... unless already set").
func (s *State) DeferRemoveHashcash(kind RemoveHashcashKind, instance int) {
	if s.RemoveHashcash != RemoveHashcashNone {
		return
	}
	s.RemoveHashcash = kind
	s.RemoveHashcashInstance = instance
}

// DeferRemoveAuthResults records that the Authentication-Results header at
// headerIndex (its 1-based occurrence index among Authentication-Results
// headers) must be removed at EOM because it carries an x-hashcash resinfo
// under this filter's own authserv-id.
func (s *State) DeferRemoveAuthResults(headerIndex int) {
	s.RemoveAuthResults = append(s.RemoveAuthResults, headerIndex)
}
