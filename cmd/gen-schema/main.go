// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema generates the extension manifest JSON Schema file.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/exthost/internal/manifest"
)

const defaultOutPath = "schemas/extension.schema.json"

func main() {
	out := pflag.StringP("out", "o", defaultOutPath, "output path")
	pflag.Parse()

	if err := generate(*out, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// generate writes the manifest schema to outPath, creating its directory.
func generate(outPath string, w io.Writer) error {
	schema, err := manifest.GenerateSchema()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return oops.In("gen-schema").With("path", outPath).Hint("failed to create directory").Wrap(err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return oops.In("gen-schema").With("path", outPath).Hint("failed to write schema").Wrap(err)
	}
	_, _ = fmt.Fprintf(w, "Generated %s\n", outPath)
	return nil
}
