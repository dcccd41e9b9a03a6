package export

import (
	"io"

	"gopkg.in/yaml.v3"
)

type yamlExporter struct{}

func (yamlExporter) Export(doc Document, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func (yamlExporter) Extension() string {
	return "yaml"
}

func (yamlExporter) ContentType() string {
	return "application/yaml"
}
