// Command lrmsggen generates the command class and id tables of package
// wire from a YAML schema.
//
// Usage:
//
//	lrmsggen -schema schema.yaml -out descriptors_gen.go [-package wire]
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/tools/imports"
)

func main() {
	schemaPath := flag.String("schema", "", "Path to the message schema YAML")
	outPath := flag.String("out", "", "Output Go file")
	pkg := flag.String("package", "wire", "Package name of the generated file")
	flag.Parse()

	if *schemaPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: lrmsggen -schema <path> -out <file> [-package <name>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(*schemaPath, *outPath, *pkg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(schemaPath, outPath, pkg string) error {
	schema, err := LoadSchema(schemaPath)
	if err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	if err := schema.Validate(); err != nil {
		return fmt.Errorf("validating schema: %w", err)
	}

	code, err := Generate(schema, pkg, filepath.Base(schemaPath))
	if err != nil {
		return fmt.Errorf("generating: %w", err)
	}
	if err := writeFormatted(outPath, code); err != nil {
		return err
	}
	fmt.Printf("  generated %s (%d classes, %d commands)\n", outPath, len(schema.Classes), schema.CommandCount())
	return nil
}

func writeFormatted(path string, code string) error {
	formatted, err := imports.Process(path, []byte(code), nil)
	if err != nil {
		// Write unformatted so you can debug the generator output
		_ = os.WriteFile(path+".broken", []byte(code), 0o644)
		return fmt.Errorf("goimports %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, formatted, 0o644)
}
