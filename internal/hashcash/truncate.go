package hashcash

import "strconv"

// Truncate builds the key recorded in the double-spend ledger for a valid
// token: `date : version : resource : ext : rand : counter : bits`. The
// date field is rotated to the front (so expired entries sort first and
// Purge can walk them off the front of the ledger as a contiguous
// prefix), and the whole key is then shrunk toward a target length when
// the token is longer than necessary.
//
// The cost of minting a token is almost independent of its length (it is
// dominated by the counter search), so without a length cap a sender
// could pad an otherwise-cheap stamp with a long resource, ext, rand or
// counter field to bloat the ledger. Fields are dropped in this order —
// counter (front-to-back), ext (entirely), rand (back-to-front), bits
// (entirely), then the tail of the date beyond the first twelve digits —
// stopping as soon as the key is short enough, and resource is never
// shortened since double-spend lookups key on it matching exactly.
func Truncate(t Token) string {
	budget := roundUp64(19+len(t.Resource)+387+9) - 9
	if budget < len(t.Resource) {
		budget = len(t.Resource)
	}

	date := t.Date
	const version = "1"
	ext := t.Ext
	rnd := t.Rand
	counter := t.Counter
	bits := strconv.Itoa(t.Bits)

	length := func() int {
		return len(date) + len(version) + len(t.Resource) + len(ext) + len(rnd) + len(counter) + len(bits) + 6
	}

	for length() > budget && len(counter) > 0 {
		counter = counter[1:]
	}
	if length() > budget {
		ext = ""
	}
	for length() > budget && len(rnd) > 0 {
		rnd = rnd[:len(rnd)-1]
	}
	if length() > budget {
		bits = ""
	}
	for length() > budget && len(date) > 12 {
		date = date[:len(date)-1]
	}

	return date + ":" + version + ":" + t.Resource + ":" + ext + ":" + rnd + ":" + counter + ":" + bits
}

// roundUp64 rounds n up to the next multiple of 64 (a SHA-1 block size),
// matching the reference implementation's sizing of the truncation budget.
func roundUp64(n int) int {
	return (n + 63) / 64 * 64
}
