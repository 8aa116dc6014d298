package shared

import "github.com/prometheus/client_golang/prometheus"

// MustRegister registers c with reg, returning the already registered
// collector of the same description when there is one. Constructors can then
// be called more than once against the same registry (tests, several
// services sharing the default registerer). Any other error panics.
func MustRegister[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
