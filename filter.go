package main

// Filter is a pure predicate over a session, evaluated at broadcast time
// (spec.md §4.F). Filters compose with And/Or/Not.
type Filter func(s *Session) bool

// NoFilter matches every session.
func NoFilter() Filter {
	return func(s *Session) bool { return true }
}

// ExceptFilter excludes a single session (typically the sender).
func ExceptFilter(except *Session) Filter {
	return func(s *Session) bool { return s != except }
}

// TgFilter matches members of tg.
func TgFilter(tg uint32) Filter {
	return func(s *Session) bool { return s.CurrentTG() == tg }
}

// TgMonitorFilter matches sessions monitoring tg (whether or not they are
// members of it).
func TgMonitorFilter(tg uint32) Filter {
	return func(s *Session) bool { return s.IsMonitoring(tg) }
}

// ProtoVerRangeFilter matches sessions whose negotiated protocol major
// version falls within [lo, hi].
func ProtoVerRangeFilter(lo, hi uint8) Filter {
	return func(s *Session) bool {
		major := s.ProtoMajor()
		return major >= lo && major <= hi
	}
}

// And composes filters with logical AND.
func And(filters ...Filter) Filter {
	return func(s *Session) bool {
		for _, f := range filters {
			if !f(s) {
				return false
			}
		}
		return true
	}
}

// Or composes filters with logical OR.
func Or(filters ...Filter) Filter {
	return func(s *Session) bool {
		for _, f := range filters {
			if f(s) {
				return true
			}
		}
		return false
	}
}

// Not negates a filter.
func Not(f Filter) Filter {
	return func(s *Session) bool { return !f(s) }
}
