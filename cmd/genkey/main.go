// Command genkey generates an Ed25519 keypair for a new relay identity.
// The public key is what gets registered; the private key stays with the
// agent and signs every relay request.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func main() {
	jsonOut := flag.Bool("json", false, "emit {publicKey, privateKey} as JSON")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key generation failed: %v\n", err)
		os.Exit(1)
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	privB64 := base64.StdEncoding.EncodeToString(priv)

	if *jsonOut {
		json.NewEncoder(os.Stdout).Encode(map[string]string{
			"publicKey":  pubB64,
			"privateKey": privB64,
		})
		return
	}

	fmt.Printf("Public key (base64, register with the relay): %s\n", pubB64)
	fmt.Printf("Private key (base64, keep secret):            %s\n", privB64)
}
