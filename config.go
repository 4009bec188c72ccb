package accessmgr

import "time"

// Options carries the tunables shared across writer, reader and client nodes.
// Zero values are replaced by the defaults from DefaultOptions at the point of
// use, so a partially populated struct is fine.
type Options struct {
	// BufferSizeLimit is the total buffered event count that triggers a
	// size-limited flush.
	BufferSizeLimit int
	// BufferFlushInterval is the looping flush strategy's timer period.
	BufferFlushInterval time.Duration
	// RetryCount and RetryInterval drive the shard client's fixed-interval
	// retry on transient transport errors.
	RetryCount    int
	RetryInterval time.Duration
	// CacheCapacity bounds the event cache ring.
	CacheCapacity int
	// IncludeInnerExceptions controls whether wrapped error details are
	// serialized into wire error payloads.
	IncludeInnerExceptions bool
	// OverrideInternalServerErrors collapses 5xx responses into
	// ServiceUnavailable on the REST surface.
	OverrideInternalServerErrors bool
	// StoreBidirectionalMappings enables reverse-index maintenance on reader
	// stores. Writers always maintain both directions.
	StoreBidirectionalMappings bool
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		BufferSizeLimit:              10000,
		BufferFlushInterval:          10 * time.Second,
		RetryCount:                   5,
		RetryInterval:                time.Second,
		CacheCapacity:                5000,
		IncludeInnerExceptions:       false,
		OverrideInternalServerErrors: true,
		StoreBidirectionalMappings:   true,
	}
}

// FillDefaults returns a copy of o with zero-valued fields replaced by the
// defaults.
func (o Options) FillDefaults() Options {
	d := DefaultOptions()
	if o.BufferSizeLimit <= 0 {
		o.BufferSizeLimit = d.BufferSizeLimit
	}
	if o.BufferFlushInterval <= 0 {
		o.BufferFlushInterval = d.BufferFlushInterval
	}
	if o.RetryCount <= 0 {
		o.RetryCount = d.RetryCount
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = d.CacheCapacity
	}
	return o
}
