// Package verify implements the verification engine: per-recipient best-
// stamp selection, date range and double-spend checks, and aggregate result
// classification (spec.md §4.6). The resulting Verdict is rendered into an
// Authentication-Results header by the protocol driver in internal/filter.
package verify

import (
	"fmt"
	"time"

	"hashcash-milter/internal/address"
	"hashcash-milter/internal/hashcash"
	"hashcash-milter/internal/ledger"
	"hashcash-milter/internal/log"
	"hashcash-milter/internal/policy"
)

// Per-token scores, per spec.md §4.6.
const (
	sentinelNone  = -3 // no stamps seen for this recipient
	scoreSpent    = -4
	scoreInvalid  = -5
)

// Engine scores one message's tokens against Policy and the double-spend
// Ledger.
type Engine struct {
	Policy *policy.Policy
	Ledger *ledger.Store
	Log    log.Logger

	// Now, if set, overrides time.Now for the acceptance window; tests
	// use this to pin a deterministic "now".
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ScoredToken is one syntactically valid token and the exact bytes its
// SHA-1 preimage was computed over (the whitespace-stripped header
// value).
type ScoredToken struct {
	Raw   string
	Token hashcash.Token
}

// Verdict is the engine's classification for one message, ready to be
// handed to internal/authresult.Format.
type Verdict struct {
	Word   string
	Detail string
}

// Score classifies a message given its envelope recipients, its To/Cc
// message recipients, and its syntactically valid tokens, per spec.md
// §4.6. Only recipients present in both lists are scored ("envelope ∩
// message set").
func (e *Engine) Score(envRcpts, msgRcpts []address.Mailbox, tokens []ScoredToken) Verdict {
	now := e.now()
	date2 := hashcash.FormatDate(now.Unix(), 2*24*3600)
	date1 := hashcash.FormatDate(now.Unix(), -30*24*3600)

	if e.Ledger != nil {
		e.Ledger.Purge(date1, date2)
	}

	covered := intersect(envRcpts, msgRcpts)
	if len(covered) == 0 {
		return Verdict{Word: "neutral"}
	}

	anySeen := false
	scores := make([]int, 0, len(covered))

	for _, rcpt := range covered {
		best := sentinelNone
		for _, st := range tokens {
			res, err := address.ParseResource(st.Token.Resource)
			if err != nil || !res.Equal(rcpt) {
				continue
			}
			if score := e.scoreToken(st, date1, date2); score > best {
				best = score
			}
		}
		if best != sentinelNone {
			anySeen = true
		}
		scores = append(scores, best)
	}

	if !anySeen {
		return Verdict{Word: "neutral"}
	}

	minValue, maxValue := scores[0], scores[0]
	for _, sc := range scores[1:] {
		if sc < minValue {
			minValue = sc
		}
		if sc > maxValue {
			maxValue = sc
		}
	}

	return classify(minValue, maxValue, e.Policy.CheckBits)
}

// scoreToken scores a single token against the acceptance window,
// recording it in the double-spend ledger if it meets check_bits. Per
// spec.md §4.6, the token is truncated and inserted only once it is
// known to pass the bits threshold.
func (e *Engine) scoreToken(st ScoredToken, date1, date2 string) int {
	outcome := hashcash.Value(st.Raw, st.Token, date1, date2)
	switch outcome {
	case hashcash.OutcomeFuturistic:
		return -1
	case hashcash.OutcomeExpired:
		return -2
	case hashcash.OutcomeInvalid:
		return scoreInvalid
	}

	value := st.Token.Bits // OutcomeValid guarantees leading-zero-bits >= declared Bits

	if e.Ledger != nil && value >= e.Policy.CheckBits {
		key := []byte(hashcash.Truncate(st.Token))
		inserted, err := e.Ledger.InsertIfAbsent(key)
		if err != nil {
			e.Log.Warn("double-spend check skipped for this token", "reason", err.Error())
		} else if !inserted {
			return scoreSpent
		}
	}

	return value
}

func classify(minValue, maxValue, checkBits int) Verdict {
	switch {
	case minValue <= scoreSpent:
		if minValue == scoreSpent {
			return Verdict{Word: "fail", Detail: "already spent"}
		}
		return Verdict{Word: "fail", Detail: "invalid"}
	case minValue >= checkBits:
		return Verdict{Word: "pass", Detail: fmt.Sprintf("%d bits", minValue)}
	case maxValue >= checkBits:
		return Verdict{Word: "partial", Detail: fmt.Sprintf("highest %d bits", maxValue)}
	case maxValue >= 0:
		return Verdict{Word: "policy", Detail: fmt.Sprintf("only %d bits", maxValue)}
	case maxValue == -1:
		return Verdict{Word: "policy", Detail: "futuristic"}
	default:
		return Verdict{Word: "policy", Detail: "expired"}
	}
}

func intersect(env, msg []address.Mailbox) []address.Mailbox {
	var out []address.Mailbox
	for _, e := range env {
		for _, m := range msg {
			if e.Equal(m) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}
