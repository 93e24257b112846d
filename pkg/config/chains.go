package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/speedrun-hq/bridge-harness/pkg/ledger"
)

// chainNames maps chain IDs to their display names
var chainNames = map[int]string{
	1:        "ETHEREUM",
	56:       "BSC",
	97:       "BSC_TESTNET",
	1337:     "ETH_LOCAL",
	9999:     "BNB_LOCAL",
	11155111: "SEPOLIA",
}

// GetChainName returns the display name of a chain, or its ID when unknown
func GetChainName(chainID int) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return strconv.Itoa(chainID)
}

// ChainConfig holds the configuration for one ledger under test
type ChainConfig struct {
	Name       string
	RPCURL     string
	PrivateKey string
	Deployment ledger.Deployment
	Channels   []Channel
	Pools      []uint64
}

// Channel is the local end of an IBC channel toward a peer chain
type Channel struct {
	PeerChainID int
	Port        string
	Channel     string
}

type deployedContract struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// GetEnvChainConfig reads the <NAME>_* variables of one chain
func GetEnvChainConfig(name string) (ChainConfig, error) {
	cfg := ChainConfig{Name: name}

	cfg.RPCURL = os.Getenv(name + "_RPC_URL")
	if cfg.RPCURL == "" {
		return cfg, fmt.Errorf("%s_RPC_URL environment variable is required", name)
	}
	cfg.PrivateKey = strings.TrimPrefix(os.Getenv(name+"_PRIVATE_KEY"), "0x")
	if cfg.PrivateKey == "" {
		return cfg, fmt.Errorf("%s_PRIVATE_KEY environment variable is required", name)
	}

	report := os.Getenv(name + "_DEPLOY_REPORT")
	if report == "" {
		return cfg, fmt.Errorf("%s_DEPLOY_REPORT environment variable is required", name)
	}
	deployment, err := LoadDeployReport(report)
	if err != nil {
		return cfg, fmt.Errorf("%s_DEPLOY_REPORT: %w", name, err)
	}
	cfg.Deployment = deployment

	cfg.Channels, err = ParseChannels(os.Getenv(name + "_CHANNELS"))
	if err != nil {
		return cfg, fmt.Errorf("%s_CHANNELS: %w", name, err)
	}
	cfg.Pools, err = ParsePools(os.Getenv(name + "_POOLS"))
	if err != nil {
		return cfg, fmt.Errorf("%s_POOLS: %w", name, err)
	}
	return cfg, nil
}

// LoadDeployReport parses a deploy report given inline as a JSON array or as a path to one
func LoadDeployReport(src string) (ledger.Deployment, error) {
	raw := []byte(src)
	if !strings.HasPrefix(strings.TrimSpace(src), "[") {
		data, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("read deploy report: %w", err)
		}
		raw = data
	}
	return ParseDeployReport(raw)
}

// ParseDeployReport decodes [{"name": ..., "address": ...}] into a deployment
func ParseDeployReport(raw []byte) (ledger.Deployment, error) {
	var entries []deployedContract
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode deploy report: %w", err)
	}
	deployment := make(ledger.Deployment, len(entries))
	for _, e := range entries {
		if !common.IsHexAddress(e.Address) {
			return nil, fmt.Errorf("contract %s has invalid address %q", e.Name, e.Address)
		}
		deployment[e.Name] = common.HexToAddress(e.Address)
	}
	return deployment, nil
}

// ParseChannels parses comma-separated peerChainId:port:channel entries
func ParseChannels(raw string) ([]Channel, error) {
	var channels []Channel
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid channel %q, want peerChainId:port:channel", entry)
		}
		peer, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid peer chain id in %q", entry)
		}
		channels = append(channels, Channel{PeerChainID: peer, Port: parts[1], Channel: parts[2]})
	}
	return channels, nil
}

// ParsePools parses a comma-separated list of pool IDs, defaulting to pool 0
func ParsePools(raw string) ([]uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return []uint64{0}, nil
	}
	var pools []uint64
	for _, p := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid pool id %q", p)
		}
		pools = append(pools, id)
	}
	return pools, nil
}
