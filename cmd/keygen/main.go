package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
)

// Generates a fresh 32-byte vault encryption key as 64 hex characters.
func main() {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}

	fmt.Println("Vault encryption key (keep secret, set as LUMARA_VAULT_KEY):")
	fmt.Println(hex.EncodeToString(key))
}
