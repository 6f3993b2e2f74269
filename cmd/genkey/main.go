// Package main is a utility for generating API keys for the audit service.
// The service stores only bcrypt hashes of API keys — never the raw key
// values — so this tool is used when manually seeding api_keys records for
// SIEM pollers and scripted report pulls without running the full server.
// It prints the raw key once (hand it to the integration) and the hash to
// insert into the api_keys table.
package main

import (
	"fmt"
	"os"

	"github.com/finvest-platform/audit-service/internal/auth"
)

func main() {
	prefix := "aud_"
	if len(os.Args) > 1 {
		prefix = os.Args[1]
	}

	key, hash, err := auth.GenerateAPIKey(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (give to the caller, shown only once):\n  %s\n\n", key)
	fmt.Printf("bcrypt hash (store in api_keys.key_hash):\n  %s\n", hash)
}
