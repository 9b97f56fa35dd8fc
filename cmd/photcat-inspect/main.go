// Package main implements photcat-inspect, the offline inspection tool
// for catalog containers and the product ledger.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/photcat/photcat/internal/registry"
	"github.com/photcat/photcat/internal/store"
	"github.com/photcat/photcat/pkg/types"
)

func main() {
	var (
		storePath    string
		listSections bool
		sectionName  string
		rows         int
		showStats    bool
		verify       bool

		registryPath string
		listProducts bool
		target       string
		limit        int
	)

	flag.StringVar(&storePath, "store", "", "Catalog container to inspect")
	flag.BoolVar(&listSections, "sections", false, "List sections and their columns")
	flag.StringVar(&sectionName, "section", "", "Dump the first rows of one section")
	flag.IntVar(&rows, "rows", 10, "Rows to dump with --section")
	flag.BoolVar(&showStats, "stats", false, "Print the store's run statistics")
	flag.BoolVar(&verify, "verify", false, "Decode every section and check flag invariants")

	flag.StringVar(&registryPath, "registry", "", "Product ledger database to inspect")
	flag.BoolVar(&listProducts, "products", false, "List ledger products")
	flag.StringVar(&target, "target", "", "Restrict the product listing to one target")
	flag.IntVar(&limit, "limit", 0, "Cap the product listing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "photcat-inspect - catalog container and ledger inspection\n\n")
		fmt.Fprintf(os.Stderr, "Usage: photcat-inspect [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  photcat-inspect --store m31.pcat --sections\n")
		fmt.Fprintf(os.Stderr, "  photcat-inspect --store m31.pcat --section data --rows 5\n")
		fmt.Fprintf(os.Stderr, "  photcat-inspect --store m31.pcat --verify\n")
		fmt.Fprintf(os.Stderr, "  photcat-inspect --registry registry.db --products --target m31\n")
	}
	flag.Parse()

	_ = godotenv.Load()

	ctx := context.Background()
	switch {
	case storePath != "":
		inspectStore(ctx, storePath, listSections, sectionName, rows, showStats, verify)
	case registryPath != "":
		inspectRegistry(ctx, registryPath, listProducts, target, limit)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func inspectStore(ctx context.Context, path string, listSections bool, sectionName string, rows int, showStats, verify bool) {
	reader, err := store.OpenReader(path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer reader.Close()

	ran := false
	if listSections {
		ran = true
		printSections(ctx, reader)
	}
	if sectionName != "" {
		ran = true
		dumpSection(ctx, reader, sectionName, rows)
	}
	if showStats {
		ran = true
		printStats(ctx, reader)
	}
	if verify {
		ran = true
		verifyStore(ctx, reader, path)
	}
	if !ran {
		printSections(ctx, reader)
	}
}

func printSections(ctx context.Context, reader *store.Reader) {
	sections, err := reader.Sections(ctx)
	if err != nil {
		log.Fatalf("Failed to list sections: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SECTION\tKIND\tROWS\tCOLUMNS\tCREATED")
	for _, s := range sections {
		cols, err := reader.Columns(ctx, s.Name)
		if err != nil {
			log.Fatalf("Failed to list columns of %s: %v", s.Name, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			s.Name, s.Kind, s.RowCount, len(cols), s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()
}

func dumpSection(ctx context.Context, reader *store.Reader, name string, rows int) {
	table, err := reader.ReadSection(ctx, name)
	if err != nil {
		log.Fatalf("Failed to read section %s: %v", name, err)
	}
	if rows > table.NumRows() {
		rows = table.NumRows()
	}

	names := table.ColumnNames()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for i := 0; i < rows; i++ {
		values := make([]string, len(names))
		for j, colName := range names {
			col, _ := table.Column(colName)
			values[j] = renderValue(col, i)
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	w.Flush()
	if rows < table.NumRows() {
		fmt.Printf("... %d of %d rows\n", rows, table.NumRows())
	}
}

func renderValue(c *types.Column, i int) string {
	if c.IsNull(i) {
		return "null"
	}
	switch c.Kind {
	case types.KindFlag:
		return c.Flags[i].String()
	case types.KindString:
		return c.Strings[i]
	default:
		return fmt.Sprintf("%g", c.Floats[i])
	}
}

func printStats(ctx context.Context, reader *store.Reader) {
	stats, err := reader.Stats(ctx)
	if err != nil {
		log.Fatalf("Failed to read stats: %v", err)
	}
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s = %s\n", k, stats[k])
	}
}

// verifyStore decodes every section and checks that each good-star flag
// only fires where the matching star flag does.
func verifyStore(ctx context.Context, reader *store.Reader, path string) {
	sections, err := reader.Sections(ctx)
	if err != nil {
		log.Fatalf("Failed to list sections: %v", err)
	}

	problems := 0
	for _, s := range sections {
		table, err := reader.ReadSection(ctx, s.Name)
		if err != nil {
			log.Fatalf("Section %s does not decode: %v", s.Name, err)
		}
		if int64(table.NumRows()) != s.RowCount {
			fmt.Printf("FAIL %s: decoded %d rows, directory says %d\n",
				s.Name, table.NumRows(), s.RowCount)
			problems++
		}
		problems += checkFlagPairs(table, s.Name)
	}

	if problems > 0 {
		fmt.Printf("%s: %d problem(s) found\n", path, problems)
		os.Exit(1)
	}
	fmt.Printf("%s: OK (%d sections)\n", path, len(sections))
}

// checkFlagPairs verifies gst implies st for every <name>_st/<name>_gst
// column pair present in the table.
func checkFlagPairs(table *types.Table, section string) int {
	problems := 0
	for _, name := range table.ColumnNames() {
		if !strings.HasSuffix(name, "_gst") {
			continue
		}
		stName := strings.TrimSuffix(name, "_gst") + "_st"
		gst, _ := table.Column(name)
		st, ok := table.Column(stName)
		if !ok || gst.Kind != types.KindFlag || st.Kind != types.KindFlag {
			continue
		}
		for i := 0; i < gst.Len(); i++ {
			gstVal, gstDefined := gst.Flags[i].Bool()
			stVal, stDefined := st.Flags[i].Bool()
			if gstDefined && gstVal && (!stDefined || !stVal) {
				fmt.Printf("FAIL %s: row %d has %s set without %s\n",
					section, i, name, stName)
				problems++
				break
			}
		}
	}
	return problems
}

func inspectRegistry(ctx context.Context, path string, listProducts bool, target string, limit int) {
	reg, err := registry.Open(path)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer reg.Close()

	var products []*registry.ProductRecord
	if target != "" {
		products, err = reg.FindByTarget(ctx, target)
	} else {
		products, err = reg.List(ctx, limit)
	}
	if err != nil {
		log.Fatalf("Failed to list products: %v", err)
	}
	if !listProducts && target == "" {
		count, err := reg.Count(ctx)
		if err != nil {
			log.Fatalf("Failed to count products: %v", err)
		}
		fmt.Printf("%d product(s) in %s\n", count, path)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tROWS\tSECTIONS\tFILTERS\tCREATED\tSUPERSEDED BY")
	for _, p := range products {
		superseded := "-"
		if p.SupersededBy != nil {
			superseded = *p.SupersededBy
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			p.ID, p.Target, p.RowCount, p.SectionCount,
			strings.Join(p.Filters, ","),
			p.CreatedAt.Format("2006-01-02 15:04:05"), superseded)
	}
	w.Flush()
}
