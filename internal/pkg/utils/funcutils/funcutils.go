package funcutils

import (
	log "github.com/sirupsen/logrus"
)

// PanicOrLogOnErr runs a fallible cleanup step and makes its outcome
// observable: panic for invariant violations, log-and-continue otherwise.
func PanicOrLogOnErr(f func() error, panicOnErr bool, msg string) {
	if err := f(); err != nil {
		if panicOnErr {
			log.Panicf("%s: %s", msg, err)
		}
		log.Errorf("%s: %s", msg, err)
	}
}
