// auditxlsx audits a raw capture (.bin, sample size and interval taken from
// the file name) or tabulates a key log (.jsonl) into an Excel workbook with
// charts. The workbook is written next to the input.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func run(path, out string) (string, error) {
	var (
		s   sheet
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		s, err = captureSheet(path)
	case ".jsonl":
		s, err = keyLogSheet(path)
	default:
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	if err != nil {
		return "", err
	}
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".xlsx"
	}
	return out, s.write(out)
}

func main() {
	out := flag.String("o", "", "output workbook; default replaces the input extension with .xlsx")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: auditxlsx [-o out.xlsx] <capture.bin | keys.jsonl>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	saved, err := run(flag.Arg(0), *out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println("wrote", saved)
}
