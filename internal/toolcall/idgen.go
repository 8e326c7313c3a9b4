package toolcall

import "github.com/google/uuid"

// NewUUIDGenerator returns the default IDGenerator, producing random UUIDv4
// strings. Tests inject a deterministic IDGenerator instead (spec 9).
func NewUUIDGenerator() IDGenerator {
	return func() string {
		return uuid.NewString()
	}
}

// PrefixedIDGenerator wraps a generator, prefixing every id - used by
// protocols that want ids of the shape "call_<uuid>" without hardcoding the
// prefix into the generic generator.
func PrefixedIDGenerator(prefix string, gen IDGenerator) IDGenerator {
	return func() string {
		return prefix + gen()
	}
}

// ResolveIDGen returns opts.IDGen or the default UUID generator. Protocol
// implementations call this rather than reading opts.IDGen directly so a
// zero-value ParseOptions is always usable.
func ResolveIDGen(opts ParseOptions) IDGenerator {
	if opts.IDGen != nil {
		return opts.IDGen
	}
	return NewUUIDGenerator()
}

// ResolveOnError returns opts.OnError or a no-op.
func ResolveOnError(opts ParseOptions) ErrorFunc {
	if opts.OnError != nil {
		return opts.OnError
	}
	return func(string, map[string]any) {}
}
