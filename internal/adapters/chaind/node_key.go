package chaind

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	ConfigDir       = "config"
	GenesisFileName = "genesis.json"
	NodeKeyFileName = "node_key.json"
	PrivValFileName = "priv_validator_key.json"
)

type nodeKey struct {
	PrivKey struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"priv_key"`
}

// ReadNodeID derives the p2p node id from config/node_key.json under home.
func ReadNodeID(home string) (string, error) {
	b, err := os.ReadFile(filepath.Join(home, ConfigDir, NodeKeyFileName))
	if err != nil {
		return "", err
	}
	var nk nodeKey
	if err := json.Unmarshal(b, &nk); err != nil {
		return "", fmt.Errorf("parse node key: %w", err)
	}

	privKeyBytes, err := base64.StdEncoding.DecodeString(nk.PrivKey.Value)
	if err != nil {
		return "", fmt.Errorf("decode priv key: %w", err)
	}
	if len(privKeyBytes) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid priv key length: %d", len(privKeyBytes))
	}

	pubKey := ed25519.PrivateKey(privKeyBytes).Public().(ed25519.PublicKey)

	// Address is the first 20 bytes of SHA256(PubKey)
	sha := sha256.Sum256(pubKey)
	return hex.EncodeToString(sha[:20]), nil
}

type genesisDoc struct {
	ChainID string `json:"chain_id"`
}

// ReadChainID returns the chain id recorded in home's genesis.
func ReadChainID(home string) (string, error) {
	b, err := os.ReadFile(filepath.Join(home, ConfigDir, GenesisFileName))
	if err != nil {
		return "", err
	}
	var doc genesisDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return "", err
	}
	return doc.ChainID, nil
}
