package main

import (
	"fmt"
	"log"
	"os"

	"scanstation/internal/auth"
	"scanstation/internal/config"
)

// Prints an operator token for the station API.
// Usage: token <operator-id> [role]
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: token <operator-id> [role]")
		os.Exit(2)
	}
	role := "operator"
	if len(os.Args) > 2 {
		role = os.Args[2]
	}

	cfg := config.Load()
	token, exp, err := auth.Issue(os.Args[1], role, cfg.OperatorIssuer, cfg.OperatorSigningKey, cfg.OperatorTokenTTL)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format("2006-01-02 15:04:05 MST"))
}
