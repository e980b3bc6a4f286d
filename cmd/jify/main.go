// Command jify is the CLI front end over package jify: build field
// indexes, run queries, and snapshot a database off-box.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/jify-db/jify"
	"github.com/jify-db/jify/index"
	"github.com/jify-db/jify/query"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "jify:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: jify <index|find|backup|restore> ...")
	}

	switch args[0] {
	case "index":
		return runIndex(args[1:])
	case "find":
		return runFind(args[1:])
	case "backup":
		return runBackup(args[1:])
	case "restore":
		return runRestore(args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// stringSlice collects repeated occurrences of the same flag, used for
// --field and --query, both of which may be given more than once.
type stringSlice []string

func (s *stringSlice) String() string { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func indexPathFor(dataPath string) string {
	return dataPath + ".idx"
}

func runIndex(args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	var fields stringSlice
	fs.Var(&fields, "field", "field to index, NAME or NAME:TYPE (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// Parsing stops at the first positional argument; resume after each one
	// so flags may follow FILE.
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return err
		}
	}
	if len(positional) != 1 {
		return fmt.Errorf("usage: jify index FILE --field NAME[:TYPE] ...")
	}
	dataPath := positional[0]

	specs := make([]index.FieldSpec, len(fields))
	for i, f := range fields {
		name, typ, _ := strings.Cut(f, ":")
		specs[i] = index.FieldSpec{Name: name, Type: typ}
	}

	db, err := openOrCreate(dataPath, specs)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Index(specs...); err != nil {
		return err
	}
	fmt.Printf("indexed %d field(s) in %s\n", len(specs), dataPath)
	return nil
}

func runFind(args []string) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	var queries stringSlice
	fs.Var(&queries, "query", "field<op>value[,...] (repeatable; forms a disjunction)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	// Parsing stops at the first positional argument; resume after each one
	// so flags may follow FILE.
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return err
		}
	}
	if len(positional) != 1 || len(queries) == 0 {
		return fmt.Errorf("usage: jify find FILE --query \"field<op>value[,...]\" ...")
	}
	dataPath := positional[0]

	db, err := jify.Open(dataPath, indexPathFor(dataPath))
	if err != nil {
		return err
	}
	defer db.Close()

	parsed := make([]query.Query, len(queries))
	for i, q := range queries {
		pq, err := query.Parse(q)
		if err != nil {
			return err
		}
		parsed[i] = pq
	}

	records, err := db.Find(parsed...)
	if err != nil {
		return err
	}
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
	}
	return nil
}

func openOrCreate(dataPath string, fields []index.FieldSpec) (*jify.Database, error) {
	indexPath := indexPathFor(dataPath)
	if _, err := os.Stat(dataPath); err == nil {
		return jify.Open(dataPath, indexPath)
	}
	return jify.Create(dataPath, indexPath, nil)
}
