package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of the configuration file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "toml",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	schema := r.Reflect(&Config{})
	schema.Title = "sandchat configuration"
	schema.ID = "https://github.com/tejjnayak/sandchat/sandchat.schema.json"
	return json.MarshalIndent(schema, "", "  ")
}
