// Package version хранит информацию о сборке, заполняемую через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/ordercore/internal/version.version=v1.2.0"
//
// Без ldflags коммит и дата берутся из VCS-меток, которые go build вшивает в бинарь.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = unknown
	date    = unknown
)

var (
	resolveOnce sync.Once
	readBuild   = debug.ReadBuildInfo
)

// resolve дополняет незаданные поля из debug.BuildInfo.
func resolve() {
	resolveOnce.Do(func() {
		info, ok := readBuild()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if commit == unknown && setting.Value != "" {
					commit = shortRevision(setting.Value)
				}
			case "vcs.time":
				if date == unknown && setting.Value != "" {
					date = setting.Value
				}
			}
		}
	})
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// GetCommit возвращает хэш коммита.
func GetCommit() string {
	resolve()
	return commit
}

// GetDate возвращает дату сборки.
func GetDate() string {
	resolve()
	return date
}

// Fields возвращает поля для стартового лога.
func Fields() map[string]any {
	return map[string]any{"version": GetVersion(), "commit": GetCommit(), "build_date": GetDate()}
}

func String() string {
	return fmt.Sprintf("ordercore %s (commit %s, built %s)", GetVersion(), GetCommit(), GetDate())
}
