package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "isppipe",
	Name:      "build_info",
	Help:      "Build metadata, always 1",
}, []string{"version", "commit", "go_version"})

// SetBuildInfo publishes the running build.
func SetBuildInfo(version, commit, goVersion string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
