// Package autoload initializes the process logger from the environment as a
// side effect of being imported.
package autoload

import (
	configx "github.com/pwachirah/stride-coach/pkg/config"
	logx "github.com/pwachirah/stride-coach/pkg/logger"
)

func init() {
	cfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*cfg)
}
