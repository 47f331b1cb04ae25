package logsvc

import (
	"io/ioutil"
	"log"

	"github.com/trezcool/bursar/core"
)

// NewTestLogger returns a RollbarLogger that reports nothing & discards its output.
func NewTestLogger() *RollbarLogger {
	l := NewRollbarLogger(log.New(ioutil.Discard, "", 0), &core.Config{Env: "TEST", Build: "test"})
	l.Enable(false)
	return l
}
