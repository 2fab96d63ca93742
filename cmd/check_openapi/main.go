package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml> [openapi.yaml...]\n", os.Args[0])
		os.Exit(2)
	}

	docs := make([]namedDoc, 0, len(os.Args)-1)
	for _, path := range os.Args[1:] {
		doc, err := loadDoc(path)
		if err != nil {
			exitErr(err)
		}
		docs = append(docs, namedDoc{name: path, doc: doc})
	}

	if errs := checkDocs(docs); len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
