package queryfile

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/multiscrape/internal/model"
)

type yamlFile struct {
	Kind    model.Kind    `yaml:"type"`
	Queries []model.Query `yaml:"queries"`
}

// ParseYAML reads either a bare list of queries or a document of the form
//
//	type: vehicle
//	queries:
//	  - query: 1969 Camaro
//	    max_results: 5
//
// A document-level type overrides defaultKind.
func ParseYAML(r io.Reader, defaultKind model.Kind) ([]model.Query, error) {
	data, err := readAll(r, "yaml")
	if err != nil {
		return nil, err
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "queryfile: parse yaml")
	}
	if len(doc.Content) == 0 {
		return nil, eris.New("queryfile: file is empty")
	}

	var file yamlFile
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&file.Queries); err != nil {
			return nil, eris.Wrap(err, "queryfile: decode queries")
		}
	case yaml.MappingNode:
		if err := root.Decode(&file); err != nil {
			return nil, eris.Wrap(err, "queryfile: decode queries")
		}
	default:
		return nil, eris.New("queryfile: expected a list or a mapping with queries")
	}

	kind := defaultKind
	if file.Kind != "" {
		kind = file.Kind
	}

	out := make([]model.Query, 0, len(file.Queries))
	for i, q := range file.Queries {
		if q.Kind == "" {
			q.Kind = kind
		}
		if err := q.Validate(); err != nil {
			return nil, eris.Wrapf(err, "queryfile: query %d", i)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, eris.New("queryfile: no queries found")
	}
	return out, nil
}
