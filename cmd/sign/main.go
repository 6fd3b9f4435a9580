// Command sign produces the X-Relay-* auth headers for a request.
//
// For body-bearing requests (send, ack) the signature covers the exact body
// bytes; pass the body via -body or stdin. For bodyless requests (inbox
// poll) pass -method and -path instead, and the signature covers the
// canonical "METHOD PATH TIMESTAMP" string.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/agentrelay/relay/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	agentName := flag.String("agent", "", "Agent name")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	method := flag.String("method", "", "HTTP method for a bodyless request")
	path := flag.String("path", "", "Request path for a bodyless request")
	flag.Parse()

	if *privKeyB64 == "" || *agentName == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -agent <name> [-body <file> | -method <m> -path <p>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin when neither -body nor -method/-path is given")
		os.Exit(1)
	}

	privKeyBytes, err := base64.StdEncoding.DecodeString(*privKeyB64)
	if err != nil || len(privKeyBytes) != ed25519.PrivateKeySize {
		fmt.Fprintln(os.Stderr, "Invalid private key")
		os.Exit(1)
	}
	privKey := ed25519.PrivateKey(privKeyBytes)

	timestamp := time.Now().UnixMilli()

	var payload []byte
	bodyless := *method != "" && *path != ""
	if bodyless {
		payload = crypto.CanonicalRequest(*method, *path, timestamp)
	} else {
		if *bodyFile != "" {
			payload, err = os.ReadFile(*bodyFile)
		} else {
			payload, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
			os.Exit(1)
		}
	}

	signature := crypto.Sign(privKey, payload)

	fmt.Printf("X-Relay-Agent: %s\n", *agentName)
	fmt.Printf("X-Relay-Signature: %s\n", signature)
	if bodyless {
		fmt.Printf("X-Relay-Timestamp: %d\n", timestamp)
	}
}
