package main

import (
	"strings"
	"testing"
)

func TestRepositoryDocsPass(t *testing.T) {
	var docs []namedDoc
	for _, path := range []string{"../../api/openapi/chat.yaml", "../../api/openapi/functions.yaml"} {
		doc, err := loadDoc(path)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		docs = append(docs, namedDoc{name: path, doc: doc})
	}
	if errs := checkDocs(docs); len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}

const validDoc = `
paths:
  /x:
    parameters:
      - $ref: "#/components/parameters/ID"
    get:
      responses:
        "200":
          description: ok
        "404":
          $ref: "#/components/responses/Error"
components:
  parameters:
    ID:
      name: id
      in: path
  responses:
    Error:
      description: err
      content:
        application/json:
          schema:
            $ref: "#/components/schemas/ErrorResponse"
  schemas:
    ErrorResponse:
      type: object
      required: [error]
      properties:
        error:
          type: string
`

func TestCheckDocFindings(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{name: "valid", doc: validDoc},
		{name: "dangling ref", doc: strings.Replace(validDoc, "parameters/ID", "parameters/Nope", 1), want: "unresolved $ref"},
		{name: "plain error body", doc: strings.Replace(validDoc, `$ref: "#/components/responses/Error"`, "description: bare", 1), want: "404 response must use ErrorResponse"},
		{name: "error not required", doc: strings.Replace(validDoc, "required: [error]", "required: []", 1), want: "must include \"error\""},
		{name: "no success", doc: strings.Replace(validDoc, `"200":`, `"500":`, 1), want: "no success response"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := parseDoc([]byte(tc.doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			errs := checkDoc(doc)
			if tc.want == "" {
				if len(errs) != 0 {
					t.Fatalf("errs = %v, want none", errs)
				}
				return
			}
			for _, err := range errs {
				if strings.Contains(err.Error(), tc.want) {
					return
				}
			}
			t.Fatalf("errs = %v, want one containing %q", errs, tc.want)
		})
	}
}

func TestErrorShapeMustMatchAcrossDocs(t *testing.T) {
	a, _ := parseDoc([]byte(validDoc))
	b, _ := parseDoc([]byte(validDoc + "        advisory:\n          type: string\n"))
	errs := checkDocs([]namedDoc{{name: "a", doc: a}, {name: "b", doc: b}})
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "property count mismatch") {
		t.Fatalf("errs = %v", errs)
	}
}
