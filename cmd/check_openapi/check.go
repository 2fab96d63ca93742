package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	errorResponseRef = "#/components/responses/Error"
	errorSchemaRef   = "#/components/schemas/ErrorResponse"
)

var httpMethods = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"patch": true, "head": true, "options": true,
}

type openAPIDoc struct {
	Paths      map[string]map[string]yaml.Node `yaml:"paths"`
	Components struct {
		Schemas    map[string]schema    `yaml:"schemas"`
		Responses  map[string]response  `yaml:"responses"`
		Parameters map[string]yaml.Node `yaml:"parameters"`
	} `yaml:"components"`

	refs []string
}

type namedDoc struct {
	name string
	doc  openAPIDoc
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

type operation struct {
	Responses map[string]response `yaml:"responses"`
}

type response struct {
	Ref     string               `yaml:"$ref"`
	Content map[string]mediaType `yaml:"content"`
}

type mediaType struct {
	Schema schema `yaml:"schema"`
}

type propertyShape struct {
	Type     string
	ItemsRef string
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	return parseDoc(raw)
}

func parseDoc(raw []byte) (openAPIDoc, error) {
	var doc openAPIDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse: %w", err)
	}
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return doc, fmt.Errorf("parse: %w", err)
	}
	doc.refs = collectRefs(&root, nil)
	return doc, nil
}

// checkDocs validates each document on its own, then requires every
// document to publish the same ErrorResponse shape.
func checkDocs(docs []namedDoc) []error {
	var errs []error
	for _, d := range docs {
		for _, err := range checkDoc(d.doc) {
			errs = append(errs, fmt.Errorf("%s: %w", d.name, err))
		}
	}
	for i := 1; i < len(docs); i++ {
		left, lok := docs[0].doc.Components.Schemas["ErrorResponse"]
		right, rok := docs[i].doc.Components.Schemas["ErrorResponse"]
		if !lok || !rok {
			continue
		}
		if err := ensureSameShape(shapeOf(left), shapeOf(right)); err != nil {
			errs = append(errs, fmt.Errorf("%s vs %s: ErrorResponse %w", docs[0].name, docs[i].name, err))
		}
	}
	return errs
}

func checkDoc(doc openAPIDoc) []error {
	var errs []error
	if err := validateErrorResponse(doc); err != nil {
		errs = append(errs, err)
	}
	if len(doc.Paths) == 0 {
		errs = append(errs, errors.New("paths missing"))
	}

	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		for method, node := range doc.Paths[p] {
			if !httpMethods[method] {
				continue
			}
			var op operation
			if err := node.Decode(&op); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", strings.ToUpper(method), p, err))
				continue
			}
			errs = append(errs, checkOperation(strings.ToUpper(method)+" "+p, op)...)
		}
	}

	for _, ref := range doc.refs {
		if !resolves(doc, ref) {
			errs = append(errs, fmt.Errorf("unresolved $ref %q", ref))
		}
	}
	return errs
}

func checkOperation(label string, op operation) []error {
	if len(op.Responses) == 0 {
		return []error{fmt.Errorf("%s: responses missing", label)}
	}
	var errs []error
	hasSuccess := false
	for code, resp := range op.Responses {
		status, err := strconv.Atoi(code)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: response code %q is not numeric", label, code))
			continue
		}
		if status < 400 {
			hasSuccess = true
			continue
		}
		if resp.Ref == errorResponseRef {
			continue
		}
		if media, ok := resp.Content["application/json"]; ok && media.Schema.Ref == errorSchemaRef {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %d response must use ErrorResponse", label, status))
	}
	if !hasSuccess {
		errs = append(errs, fmt.Errorf("%s: no success response", label))
	}
	return errs
}

func validateErrorResponse(doc openAPIDoc) error {
	s, ok := doc.Components.Schemas["ErrorResponse"]
	if !ok {
		return errors.New("schema \"ErrorResponse\" missing")
	}
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	if !makeSet(s.Required)["error"] {
		return errors.New("ErrorResponse.required must include \"error\"")
	}
	if prop, ok := s.Properties["error"]; !ok || prop.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	return nil
}

func resolves(doc openAPIDoc, ref string) bool {
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	if !strings.HasPrefix(ref, "#/") || len(parts) != 3 || parts[0] != "components" {
		return false
	}
	switch parts[1] {
	case "schemas":
		_, ok := doc.Components.Schemas[parts[2]]
		return ok
	case "responses":
		_, ok := doc.Components.Responses[parts[2]]
		return ok
	case "parameters":
		_, ok := doc.Components.Parameters[parts[2]]
		return ok
	}
	return false
}

func collectRefs(n *yaml.Node, out []string) []string {
	if n == nil {
		return out
	}
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Value == "$ref" && val.Kind == yaml.ScalarNode {
				out = append(out, val.Value)
				continue
			}
			out = collectRefs(val, out)
		}
		return out
	}
	for _, child := range n.Content {
		out = collectRefs(child, out)
	}
	return out
}

func shapeOf(s schema) map[string]propertyShape {
	out := make(map[string]propertyShape, len(s.Properties)+1)
	required := append([]string(nil), s.Required...)
	sort.Strings(required)
	out["(required)"] = propertyShape{Type: strings.Join(required, ",")}
	for name, prop := range s.Properties {
		shape := propertyShape{Type: prop.Type}
		if prop.Items != nil {
			shape.ItemsRef = strings.TrimSpace(prop.Items.Ref)
		}
		out[name] = shape
	}
	return out
}

func ensureSameShape(left, right map[string]propertyShape) error {
	if len(left) != len(right) {
		return fmt.Errorf("property count mismatch: %d vs %d", len(left), len(right))
	}
	for key, l := range left {
		r, ok := right[key]
		if !ok {
			return fmt.Errorf("missing property %q", key)
		}
		if l != r {
			return fmt.Errorf("property %q mismatch: %+v vs %+v", key, l, r)
		}
	}
	return nil
}

func makeSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = true
	}
	return out
}
