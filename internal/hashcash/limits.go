package hashcash

// MaxHeaderLine is the RFC 5322 unfolded header line length this filter
// will not exceed when inserting a new header, shared by the minting
// engine (X-Hashcash) and the verification engine (Authentication-
// Results), per spec.md §4.5/§4.6.
const MaxHeaderLine = 998
