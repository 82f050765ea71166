// Command sealtool generates sealed-bid commitments offline. Bidders run it
// locally so the bid amount and secret never transit Discord before reveal.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/jensholdgaard/discord-sealed-bid-bot/internal/commitment"
)

func main() {
	amount := flag.Uint64("amount", 0, "bid amount to commit to")
	secret := flag.String("secret", "", "secret to blind the commitment (random if omitted)")
	flag.Parse()

	if err := run(*amount, *secret); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(amount uint64, secret string) error {
	sec := []byte(secret)
	if len(sec) == 0 {
		sec = make([]byte, 16)
		if _, err := rand.Read(sec); err != nil {
			return fmt.Errorf("generating secret: %w", err)
		}
		secret = hex.EncodeToString(sec)
		// The reveal command takes the secret as a string, so a generated
		// secret is the hex text itself, not the raw bytes.
		sec = []byte(secret)
		fmt.Printf("secret:     %s\n", secret)
	}

	c := commitment.Compute(amount, sec)
	fmt.Printf("amount:     %d\n", amount)
	fmt.Printf("commitment: %s\n", c)
	fmt.Println()
	fmt.Println("Submit the commitment with /commit, keep the amount and secret for /reveal.")
	return nil
}
