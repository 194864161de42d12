package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Заполняются через -ldflags "-X .../internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Service: имя бинаря в логах и health-ответах.
const Service = "credits-service"

const shortRevisionLen = 12

var readBuildInfo = debug.ReadBuildInfo

// Build описывает сборку сервиса начислений.
type Build struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version,omitempty"`
}

// Current возвращает сведения о сборке. Значения из -ldflags приоритетны,
// без них commit и date берутся из vcs-меток go build.
func Current() Build {
	b := Build{Service: Service, Version: version, Commit: commit, Date: date}

	info, ok := readBuildInfo()
	if !ok || info == nil {
		return b
	}
	b.GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && setting.Value != "" {
				b.Commit = shorten(setting.Value)
			}
		case "vcs.time":
			if b.Date == "unknown" && setting.Value != "" {
				b.Date = setting.Value
			}
		case "vcs.modified":
			if setting.Value == "true" && b.Version == "dev" {
				b.Version = "dev-dirty"
			}
		}
	}
	return b
}

// Fields отдаёт сборку полями logrus для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"service": b.Service,
		"version": b.Version,
		"commit":  b.Commit,
		"date":    b.Date,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("%s version=%s commit=%s date=%s", b.Service, b.Version, b.Commit, b.Date)
}

// GetVersion возвращает версию сборки для health-ответов.
func GetVersion() string { return Current().Version }

func shorten(revision string) string {
	if len(revision) > shortRevisionLen {
		return revision[:shortRevisionLen]
	}
	return revision
}
