package routing

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const loaderLogPrefix = "routing:loader"

// SupportedFileVersions is the range of route file versions this build understands.
const SupportedFileVersions = "^1"

// DefaultRoutePaths are tried, in order, after any explicit path.
var DefaultRoutePaths = []string{"config/routes.yaml", "routes.yaml"}

// RouteFile is the on-disk routing configuration.
type RouteFile struct {
	Version string      `yaml:"version"`
	Items   []RouteItem `yaml:"items"`
}

// RouteItem is one route as written in the configuration file.
type RouteItem struct {
	Subject      string   `yaml:"subject"`
	Group        string   `yaml:"group"`
	HandlerClass string   `yaml:"handlerClass"`
	Roles        []string `yaml:"roles"`
	DtoType      string   `yaml:"dtoType"`
	// Response is a pointer so an explicit empty payload is distinguishable from absence.
	Response *string `yaml:"response"`
}

// ToEntry converts the item into a table entry.
func (it RouteItem) ToEntry() Entry {
	e := Entry{
		Subject:       it.Subject,
		QueueGroup:    it.Group,
		HandlerID:     it.HandlerClass,
		RequestTypeID: it.DtoType,
		Roles:         it.Roles,
	}
	if it.Response != nil {
		e.StaticResponse = []byte(*it.Response)
	}
	return e
}

// ParseRouteFile decodes YAML route configuration and checks its version.
func ParseRouteFile(data []byte) (*RouteFile, error) {
	var rf RouteFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, configErr(-1, "", "malformed route file: %v", err)
	}
	if err := checkVersion(rf.Version); err != nil {
		return nil, err
	}
	return &rf, nil
}

func checkVersion(raw string) error {
	if raw == "" {
		return nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return configErr(-1, "", "invalid route file version %q: %v", raw, err)
	}
	c, err := semver.NewConstraint(SupportedFileVersions)
	if err != nil {
		return configErr(-1, "", "invalid supported version range: %v", err)
	}
	if !c.Check(v) {
		return configErr(-1, "", "route file version %s is outside supported range %s", v, SupportedFileVersions)
	}
	return nil
}

// Entries converts every item of the file.
func (rf *RouteFile) Entries() []Entry {
	out := make([]Entry, len(rf.Items))
	for i, it := range rf.Items {
		out[i] = it.ToEntry()
	}
	return out
}

// LoadTable reads the first readable route file from paths (then DefaultRoutePaths),
// validates it and builds the table. Unlike a missing file, a file that exists but
// does not parse or validate is a hard error.
func LoadTable(paths ...string) (*Table, string, error) {
	candidates := make([]string, 0, len(paths)+len(DefaultRoutePaths))
	for _, p := range paths {
		if p != "" {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, DefaultRoutePaths...)

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, p, fmt.Errorf("%s - failed to read %s: %w", loaderLogPrefix, p, err)
		}

		rf, err := ParseRouteFile(data)
		if err != nil {
			return nil, p, err
		}
		table, err := Build(rf.Entries())
		if err != nil {
			return nil, p, err
		}
		slog.Info(fmt.Sprintf("%s - Loaded %d routes from %s", loaderLogPrefix, table.Len(), p))
		return table, p, nil
	}

	return nil, "", fmt.Errorf("%s - no route file found (tried %v)", loaderLogPrefix, candidates)
}
