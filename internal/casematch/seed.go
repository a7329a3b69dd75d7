package casematch

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
)

// LoadSeedFile reads a YAML or JSON case list, either a bare sequence or a
// mapping with a "cases" key. Cases without an ID are numbered by position.
func LoadSeedFile(path string) ([]model.Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "casematch: read seed file %s", path)
	}

	var list []model.Case
	if err := yaml.Unmarshal(data, &list); err != nil {
		var wrapped struct {
			Cases []model.Case `yaml:"cases"`
		}
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, eris.Wrapf(err, "casematch: parse seed file %s", path)
		}
		list = wrapped.Cases
	}

	out := make([]model.Case, 0, len(list))
	for i, c := range list {
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			return nil, eris.Errorf("casematch: seed file %s: case %d has no title", path, i+1)
		}
		if c.ID == "" {
			c.ID = strconv.Itoa(i + 1)
		}
		out = append(out, c)
	}
	return out, nil
}
