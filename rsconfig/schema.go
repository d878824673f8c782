package rsconfig

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of resource_servers.json: an array of
// ResourceServer objects.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	item := r.Reflect(&ResourceServer{})
	item.Version = ""
	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "UDAP gateway resource servers",
		Type:        "array",
		Items:       item,
		Description: "Per-resource-server identity, trust anchor and signing configuration.",
	}
}
