// Package version guarda a identificação do build, preenchida via ldflags:
//
//	go build -ldflags "-X github.com/radieske/odds-feed-service/internal/version.Version=v1.2.0 \
//	  -X github.com/radieske/odds-feed-service/internal/version.Commit=$(git rev-parse --short HEAD)"
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String devolve a linha impressa por -version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
