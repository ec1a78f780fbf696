// Package mint implements the minting engine: a SHA-1 partial-preimage
// search over a bounded counter alphabet, with adaptive progress
// reporting and a wall-clock budget, producing RFC-compatible hashcash v1
// tokens (spec.md §4.5).
//
// The reference implementation's recursive counter enumeration (which
// sets an output character on unwinding) is re-architected here as
// iterative deepening over an explicit stack of cloned SHA-1 states, per
// spec.md §9's guidance — cloneable hash state is the primitive worth
// keeping, the recursion is not.
package mint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hashcash-milter/internal/address"
	"hashcash-milter/internal/hashcash"
	"hashcash-milter/internal/log"
	"hashcash-milter/internal/policy"
	"hashcash-milter/internal/sha1core"
)

// MaxCounterLen is the largest counter length tried before a recipient's
// mint is abandoned as an internal error, per spec.md §4.5.
const MaxCounterLen = 16

// randFieldLen is the length of the random token field minted tokens
// carry, per spec.md §4.5's "16-char random".
const randFieldLen = 16

var errTimeout = errors.New("mint: timed out")

// RandSource supplies the random field minted tokens carry. internal/rng.Source
// satisfies this; tests substitute a deterministic fake.
type RandSource interface {
	RandField(n int) (string, error)
}

// Progress is implemented by the caller (the protocol driver) to forward
// adaptive mint progress reports to the MTA, matching spec.md §4.5's
// "reports progress to the MTA" tick action.
type Progress interface {
	Progress()
}

// Engine mints tokens for one message's recipients under Policy.
type Engine struct {
	Policy *policy.Policy
	RNG    RandSource
	Log    log.Logger

	// Now, if set, overrides time.Now for the mint-time date field;
	// tests use this to pin a deterministic date.
	Now func() time.Time
}

// Result is one minted token, ready to be inserted as an X-Hashcash
// header.
type Result struct {
	Recipient address.Mailbox
	Token     hashcash.Token
	Raw       string // exact wire form of the token (the header value, without the field name)
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Mint produces one token per unique, dot-atom-addressable recipient in
// recipients, bounded by the configured mint timeout. On timeout the
// partial batch is discarded entirely — spec.md §4.5/§5 requires that no
// headers be inserted at all if the budget runs out mid-message.
func (e *Engine) Mint(ctx context.Context, recipients []address.Mailbox, progress Progress) ([]Result, error) {
	unique := dedupRecipients(recipients)
	bits := e.Policy.EffectiveBits(len(unique))

	var cancel context.CancelFunc
	if e.Policy.TimeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.Policy.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	tk := &ticker{
		perTick:  256,
		timeout:  time.Duration(e.Policy.TimeoutSeconds) * time.Second,
		started:  time.Now(),
		progress: progress,
	}

	var out []Result
	var totalTries uint64
	start := time.Now()

	for _, rcpt := range unique {
		if !isDotAtomAddressable(rcpt) {
			e.Log.Debugf("mint: skipping recipient requiring quoting: %s", rcpt.Resource())
			continue
		}

		raw, tok, tries, err := e.mintOne(ctx, rcpt, bits, tk)
		totalTries += tries
		if err != nil {
			if errors.Is(err, errTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				e.Log.Warn("mint timed out, discarding partial batch", "recipients", len(unique))
				return nil, errTimeout
			}
			e.Log.Error("mint abandoned for recipient", err, "recipient", rcpt.Resource())
			continue
		}

		if hashcash.MaxHeaderLine < len("X-Hashcash: ")+len(raw) {
			e.Log.Warn("minted token too long for a header line, skipping", "recipient", rcpt.Resource())
			continue
		}

		if outcome := hashcash.Value(raw, tok, tok.Date, tok.Date); outcome != hashcash.OutcomeValid {
			return nil, fmt.Errorf("mint: self-verify failed for %s", rcpt.Resource())
		}

		out = append(out, Result{Recipient: rcpt, Token: tok, Raw: raw})
	}

	elapsed := time.Since(start)
	e.Log.Msg("mint batch complete", "recipients", len(out), "tries", totalTries, "khash_s", rate(totalTries, elapsed))

	return out, nil
}

// mintOne searches for a single recipient's token, returning the number
// of leaf evaluations performed (for throughput logging) alongside any
// error.
func (e *Engine) mintOne(ctx context.Context, rcpt address.Mailbox, bits int, tk *ticker) (string, hashcash.Token, uint64, error) {
	randField, err := e.RNG.RandField(randFieldLen)
	if err != nil {
		return "", hashcash.Token{}, 0, fmt.Errorf("rng: %w", err)
	}

	date := e.now().UTC().Format("060102")

	prefix := fmt.Sprintf("1:%d:%s:%s::%s:", bits, date, rcpt.Resource(), randField)
	base := sha1core.Begin()
	base.FeedBytes([]byte(prefix))

	var tries uint64
	for length := 1; length <= MaxCounterLen; length++ {
		counter, ok, n, err := search(ctx, base, bits, length, tk)
		tries += n
		if err != nil {
			return "", hashcash.Token{}, tries, err
		}
		if ok {
			raw := prefix + counter
			tok := hashcash.Token{
				Bits:     bits,
				Date:     date,
				Resource: rcpt.Resource(),
				Ext:      "",
				Rand:     randField,
				Counter:  counter,
			}
			return raw, tok, tries, nil
		}
		e.Log.Debugf("mint: no match at counter length %d for %s, escalating", length, rcpt.Resource())
	}

	return "", hashcash.Token{}, tries, fmt.Errorf("mint: counter space exhausted at length %d", MaxCounterLen)
}

// search performs depth-first, alphabet-order iterative deepening over
// exactly `length` counter characters, returning the first string whose
// SHA-1 digest (base extended by that string) has at least bits leading
// zero bits. Traversal state is an explicit stack of cloned SHA-1 states
// (one per depth) plus the next alphabet index to try at that depth —
// the "explicit stack" spec.md §9 calls for in place of recursion.
func search(ctx context.Context, base *sha1core.State, bits, length int, tk *ticker) (string, bool, uint64, error) {
	type frame struct {
		state *sha1core.State
		idx   int
	}

	suffix := make([]byte, length)
	stack := make([]frame, length)
	stack[0] = frame{state: base.Clone(), idx: 0}

	var tries uint64
	depth := 0
	for depth >= 0 {
		select {
		case <-ctx.Done():
			return "", false, tries, errTimeout
		default:
		}

		f := &stack[depth]
		if f.idx >= len(hashcash.Alphabet) {
			depth--
			continue
		}

		c := hashcash.Alphabet[f.idx]
		f.idx++
		suffix[depth] = c

		st := f.state.Clone()
		st.FeedByte(c)

		if depth == length-1 {
			tries++
			digest := st.Finalize()
			if sha1core.LeadingZeroBits(digest, bits) >= bits {
				return string(suffix), true, tries, nil
			}
			if err := tk.tick(); err != nil {
				return "", false, tries, err
			}
			continue
		}

		depth++
		stack[depth] = frame{state: st, idx: 0}
	}

	return "", false, tries, nil
}

// ticker drives spec.md §4.5's adaptive progress reporting: a tick fires
// every perTick leaf misses, at most rescaling perTick to target a tick
// every 200-300ms of wall clock, reporting progress and checking the
// overall timeout.
type ticker struct {
	perTick  int64
	count    int64
	timeout  time.Duration
	started  time.Time
	lastTick time.Time
	progress Progress
}

// tickerCeiling approximates "roughly half of the largest representable
// long" from spec.md §4.5 as a generous, platform-independent bound.
const tickerCeiling = 1 << 30

func (t *ticker) tick() error {
	t.count++
	if t.count < t.perTick {
		return nil
	}
	t.count = 0

	if t.timeout <= 0 {
		return nil
	}

	now := time.Now()
	first := t.lastTick.IsZero()
	elapsed := now.Sub(t.lastTick)

	if first || elapsed >= time.Second {
		if t.progress != nil {
			t.progress.Progress()
		}
	}
	t.lastTick = now

	if now.Sub(t.started) >= t.timeout {
		return errTimeout
	}

	if !first {
		switch {
		case elapsed > 500*time.Millisecond:
			t.perTick /= 2
		case elapsed > 300*time.Millisecond:
			t.perTick = t.perTick * 5 / 6
		case elapsed < 200*time.Millisecond:
			t.perTick *= 2
		}
	}
	if t.perTick < 1 {
		t.perTick = 1
	}
	if t.perTick > tickerCeiling {
		t.perTick = tickerCeiling
	}

	return nil
}

// rate computes khashes/sec without overflowing for large try counts or
// very short elapsed durations, per spec.md §4.5's "helper that scales
// tries / elapsed_ns by 10^6 without overflow" and the original's own
// comment about that overflow risk (see SPEC_FULL.md's supplemented
// features).
func rate(tries uint64, elapsed time.Duration) float64 {
	ns := elapsed.Nanoseconds()
	if ns <= 0 {
		return 0
	}
	return float64(tries) * 1e6 / float64(ns)
}

func dedupRecipients(in []address.Mailbox) []address.Mailbox {
	var out []address.Mailbox
	for _, m := range in {
		dup := false
		for _, existing := range out {
			if existing.Equal(m) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

// isDotAtomAddressable reports whether m can be rendered unquoted as
// dot-atom-text on both sides of '@' (RFC 5322 §3.2.3), per spec.md
// §4.5's "silently skip recipients that require quoting".
func isDotAtomAddressable(m address.Mailbox) bool {
	return isDotAtomText(m.Local) && isDotAtomText(m.Domain)
}

func isDotAtomText(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	prevDot := false
	for _, r := range s {
		if r == '.' {
			if prevDot {
				return false
			}
			prevDot = true
			continue
		}
		prevDot = false
		if !isAtext(r) {
			return false
		}
	}
	return true
}

const atextExtra = "!#$%&'*+-/=?^_`{|}~"

func isAtext(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	default:
		return strings.ContainsRune(atextExtra, r)
	}
}
