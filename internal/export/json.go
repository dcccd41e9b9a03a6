package export

import (
	"encoding/json"
	"io"
)

type jsonExporter struct{}

func (jsonExporter) Export(doc Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (jsonExporter) Extension() string {
	return "json"
}

func (jsonExporter) ContentType() string {
	return "application/json"
}
