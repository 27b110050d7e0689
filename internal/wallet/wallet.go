// Package wallet stores keypairs as JSON files on disk, named by address.
// The core only ever sees the derived address and keys.
package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aibtcc/aibtcc-go/internal/crypto"
)

const walletDirName = "wallets"

// Wallet is one stored keypair.
type Wallet struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// KeyPair reconstructs the signing keypair from the stored private key.
func (w *Wallet) KeyPair() (*crypto.KeyPair, error) {
	return crypto.KeyPairFromPrivateHex(w.PrivateKey)
}

// Create generates a fresh keypair and persists it under dataDir.
func Create(dataDir string) (*Wallet, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}

	w := &Wallet{
		Address:    kp.Address,
		PublicKey:  kp.PublicKeyHex,
		PrivateKey: kp.PrivateKeyHex,
	}

	dir := filepath.Join(dataDir, walletDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create wallet dir: %w", err)
	}

	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode wallet: %w", err)
	}
	if err := os.WriteFile(walletPath(dataDir, w.Address), data, 0600); err != nil {
		return nil, fmt.Errorf("write wallet file: %w", err)
	}
	return w, nil
}

// Load reads the wallet file of the given address.
func Load(dataDir, address string) (*Wallet, error) {
	data, err := os.ReadFile(walletPath(dataDir, address))
	if err != nil {
		return nil, fmt.Errorf("read wallet file: %w", err)
	}

	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode wallet file: %w", err)
	}
	if w.Address != address {
		return nil, fmt.Errorf("wallet file for %s holds address %s", address, w.Address)
	}
	return &w, nil
}

// List returns the addresses of every stored wallet.
func List(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, walletDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read wallet dir: %w", err)
	}

	var addresses []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		addresses = append(addresses, name[:len(name)-len(".json")])
	}
	return addresses, nil
}

func walletPath(dataDir, address string) string {
	return filepath.Join(dataDir, walletDirName, address+".json")
}
