package sip2

import "errors"

var (
	// ErrNotConnected is returned when a frame is written before the TCP
	// session is established.
	ErrNotConnected = errors.New("sip2: connection not established")
	// ErrConnectTimeout indicates the TCP or TLS handshake did not complete
	// within the configured timeout.
	ErrConnectTimeout = errors.New("sip2: connect timeout")
	// ErrRequestTimeout indicates the LMS did not answer within the configured
	// timeout. The socket is destroyed when this fires.
	ErrRequestTimeout = errors.New("sip2: timeout waiting for response")
	// ErrInvalidSequence is returned for sequence numbers outside 0-9.
	ErrInvalidSequence = errors.New("sip2: sequence number out of range")
	// ErrSequenceInUse is returned when a send is attempted with a sequence
	// number that already has a pending request.
	ErrSequenceInUse = errors.New("sip2: sequence number already in use")
	// ErrClientAtCapacity is returned when all ten sequence numbers have
	// pending requests.
	ErrClientAtCapacity = errors.New("sip2: all sequence numbers in flight")
	// ErrMalformedTrailer is returned when a frame does not end with an
	// AZ<hex4> checksum trailer.
	ErrMalformedTrailer = errors.New("sip2: malformed checksum trailer")
	// ErrChecksumMismatch is returned when checksum verification is required
	// and the received frame fails it.
	ErrChecksumMismatch = errors.New("sip2: checksum mismatch")
	// ErrUnexpectedResponseCode is returned when a response frame carries a
	// command code the caller did not ask for.
	ErrUnexpectedResponseCode = errors.New("sip2: unexpected response code")
)
