package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/marmos91/vengine/pkg/config"
)

const defaultOutput = "config.schema.json"

func main() {
	output := defaultOutput
	if len(os.Args) > 1 {
		output = os.Args[1]
	}

	data, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(output, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", output)
}

// generate reflects config.Config into an indented JSON schema. Property
// names follow the mapstructure tags, i.e. the keys used in YAML/TOML files.
func generate() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:              "mapstructure",
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	schema := reflector.Reflect(&config.Config{})
	schema.Title = "vengine Configuration"
	schema.Description = "Configuration schema for the vengine RESP command server"
	schema.Version = "1.0.0"

	return json.MarshalIndent(schema, "", "  ")
}
