package pool

import (
	"github.com/go-i2p/logger"
)

// log is the package-level logger for pool events
var log = logger.GetGoI2PLogger()
