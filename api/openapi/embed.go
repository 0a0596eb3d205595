// Package openapi embeds the OpenAPI document of the worker endpoints.
package openapi

import _ "embed"

// Spec is the OpenAPI 3 document in YAML.
//
//go:embed openapi.yaml
var Spec []byte
