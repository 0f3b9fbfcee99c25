package flowctl

import (
	"github.com/go-i2p/logger"
)

// log is the package-level logger for flow control events
var log = logger.GetGoI2PLogger()
