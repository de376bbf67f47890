package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sentineld/sentineld/internal/engine"
)

func main() {
	journalPath := flag.String("journal", "data/signatures.json", "Path to the signature journal")
	csvPath := flag.String("csv", "", "CSV file to import (sha256,md5,name,family,description,threat_level,source)")
	action := flag.String("action", "", "Action to perform: import, count, add")

	sha256 := flag.String("sha256", "", "SHA-256 hash (add)")
	md5 := flag.String("md5", "", "MD5 hash (add)")
	name := flag.String("name", "", "Signature name (add)")
	family := flag.String("family", "", "Threat family (add)")
	threatLevel := flag.Int("threat-level", 100, "Threat level 0-100 (add)")

	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: sigimport -journal <path> -action <action> [flags]\n")
		fmt.Fprintf(os.Stderr, "Actions: import, count, add\n")
		os.Exit(1)
	}

	sigEngine := engine.NewSignatureEngine(*journalPath)
	if err := sigEngine.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load signature journal: %v\n", err)
		os.Exit(1)
	}

	switch *action {
	case "import":
		if *csvPath == "" {
			fmt.Fprintf(os.Stderr, "-csv is required for import\n")
			os.Exit(1)
		}
		f, err := os.Open(*csvPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open CSV: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		n, err := sigEngine.ImportCSV(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to import CSV: %v\n", err)
			os.Exit(1)
		}
		if err := sigEngine.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save journal: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Imported %d record(s); journal now has %d total\n", n, sigEngine.Count())

	case "count":
		fmt.Printf("%d record(s) in %s\n", sigEngine.Count(), *journalPath)

	case "add":
		if *sha256 == "" && *md5 == "" {
			fmt.Fprintf(os.Stderr, "-sha256 or -md5 is required for add\n")
			os.Exit(1)
		}
		sigEngine.Add(engine.SignatureRecord{
			SHA256:      *sha256,
			MD5:         *md5,
			Name:        *name,
			Family:      *family,
			ThreatLevel: *threatLevel,
			Source:      "sigimport",
		})
		if err := sigEngine.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save journal: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added record; journal now has %d total\n", sigEngine.Count())

	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", *action)
		os.Exit(1)
	}
}
