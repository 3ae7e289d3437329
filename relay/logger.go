package relay

import (
	"fmt"

	"github.com/temoto/groundstation/log2"
)

// mqttLogger adapts log2 to paho package-level loggers.
type mqttLogger struct {
	log   *log2.Log
	level log2.Level
	tag   string
}

func (self mqttLogger) Println(v ...interface{}) {
	self.log.Log(self.level, self.tag+fmt.Sprint(v...))
}

func (self mqttLogger) Printf(format string, v ...interface{}) {
	self.log.Logf(self.level, self.tag+format, v...)
}
