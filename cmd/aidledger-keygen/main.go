// Copyright 2025 AidTrace Project
//
// aidledger-keygen generates an ECDSA P-256 keypair and prints the
// public key plus the passphrase-encrypted private key, for
// out-of-band validator provisioning.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aidtrace/aid-ledger/pkg/crypto/keys"
	"github.com/aidtrace/aid-ledger/pkg/vault"
)

func main() {
	passphrase := flag.String("passphrase", "", "passphrase to encrypt the private key under (required)")
	outPath := flag.String("out", "", "optional file to write the encrypted private key to")
	flag.Parse()

	if *passphrase == "" {
		fmt.Fprintln(os.Stderr, "usage: aidledger-keygen -passphrase <passphrase> [-out <file>]")
		os.Exit(2)
	}

	pub, priv, err := keys.GenerateKeyPair()
	if err != nil {
		log.Fatalf("Failed to generate keypair: %v", err)
	}
	encrypted, err := vault.Encrypt(priv, *passphrase)
	if err != nil {
		log.Fatalf("Failed to encrypt private key: %v", err)
	}

	fmt.Printf("public_key: %s\n", pub)
	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(encrypted+"\n"), 0o600); err != nil {
			log.Fatalf("Failed to write %s: %v", *outPath, err)
		}
		fmt.Printf("encrypted private key written to %s\n", *outPath)
		return
	}
	fmt.Printf("encrypted_private_key: %s\n", encrypted)
}
