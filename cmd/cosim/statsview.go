package main

import (
	"fmt"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"

	"cosim/internal/common"
)

const (
	statsviewAddr = "localhost:12600"
	statsviewURL  = "/debug/statsview"
)

// launchStatsview serves the runtime statistics of the simulator process
// while a long session steps. The returned func stops the server.
func launchStatsview(logger common.Logger) func() {
	viewer.SetConfiguration(viewer.WithAddr(statsviewAddr))
	mgr := statsview.New()
	go mgr.Start()
	logger.Info(fmt.Sprintf("stats server available at %s%s", statsviewAddr, statsviewURL))
	return func() { mgr.Stop() }
}
