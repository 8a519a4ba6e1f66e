package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"feepools/core/rewards"
	"feepools/core/types"
)

// Scenario is a replayable block sequence. Identities are referred to by
// name; a name that is a 32-byte hex string is used as the id itself and any
// other name maps to keccak256(name).
type Scenario struct {
	Shares map[string][]shareEntry `yaml:"shares"`
	Blocks []blockEntry            `yaml:"blocks"`
}

type shareEntry struct {
	PayTo       string `yaml:"payTo"`
	BasisPoints uint32 `yaml:"basisPoints"`
}

type blockEntry struct {
	Height         uint64 `yaml:"height"`
	TimeMs         int64  `yaml:"timeMs"`
	Proposer       string `yaml:"proposer"`
	Epoch          uint16 `yaml:"epoch"`
	EpochChange    bool   `yaml:"epochChange"`
	ProcessingFees uint64 `yaml:"processingFees"`
	StorageFees    uint64 `yaml:"storageFees"`
	FeeMultiplier  uint64 `yaml:"feeMultiplier"`
	// Repeat expands the entry into that many consecutive blocks. Only the
	// first one carries EpochChange.
	Repeat int `yaml:"repeat"`
	// IntervalMs advances TimeMs between repeated blocks.
	IntervalMs int64 `yaml:"intervalMs"`
}

// ReplayBlock is one expanded scenario block.
type ReplayBlock struct {
	Block types.BlockInfo
	Epoch types.EpochInfo
	Fees  types.BlockFees
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(raw)
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(s.Blocks) == 0 {
		return nil, fmt.Errorf("scenario has no blocks")
	}
	for i, b := range s.Blocks {
		if strings.TrimSpace(b.Proposer) == "" {
			return nil, fmt.Errorf("block %d: proposer required", i)
		}
		if b.Repeat < 0 {
			return nil, fmt.Errorf("block %d: repeat must not be negative", i)
		}
	}
	return &s, nil
}

// Expand returns the block sequence with repeats unrolled and heights
// checked to increase strictly.
func (s *Scenario) Expand() ([]ReplayBlock, error) {
	var out []ReplayBlock
	var lastHeight uint64
	for i, entry := range s.Blocks {
		proposer, err := Identity(entry.Proposer)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		count := entry.Repeat
		if count == 0 {
			count = 1
		}
		for n := 0; n < count; n++ {
			height := entry.Height + uint64(n)
			if len(out) > 0 && height <= lastHeight {
				return nil, fmt.Errorf("block %d: height %d does not follow %d", i, height, lastHeight)
			}
			lastHeight = height
			out = append(out, ReplayBlock{
				Block: types.BlockInfo{Height: height, TimeMs: entry.TimeMs + int64(n)*entry.IntervalMs, ProposerID: proposer},
				Epoch: types.EpochInfo{CurrentIndex: entry.Epoch, IsEpochChange: entry.EpochChange && n == 0},
				Fees: types.BlockFees{
					ProcessingFees: entry.ProcessingFees,
					StorageFees:    entry.StorageFees,
					FeeMultiplier:  entry.FeeMultiplier,
				},
			})
		}
	}
	return out, nil
}

// ShareResolver builds the reward share table of the scenario.
func (s *Scenario) ShareResolver() (rewards.StaticShares, error) {
	table := rewards.StaticShares{}
	for name, entries := range s.Shares {
		proposer, err := Identity(name)
		if err != nil {
			return nil, err
		}
		shares := make([]rewards.Share, 0, len(entries))
		for _, entry := range entries {
			payTo, err := Identity(entry.PayTo)
			if err != nil {
				return nil, err
			}
			shares = append(shares, rewards.Share{PayTo: payTo, BasisPoints: entry.BasisPoints})
		}
		if err := rewards.ValidateShares(shares); err != nil {
			return nil, fmt.Errorf("shares of %s: %w", name, err)
		}
		table[proposer] = shares
	}
	return table, nil
}

// Names returns every identity name mentioned in the scenario, sorted.
func (s *Scenario) Names() []string {
	seen := map[string]struct{}{}
	for _, b := range s.Blocks {
		seen[b.Proposer] = struct{}{}
	}
	for name, entries := range s.Shares {
		seen[name] = struct{}{}
		for _, entry := range entries {
			seen[entry.PayTo] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Identity resolves a scenario name to an identifier.
func Identity(name string) (types.Identifier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Identifier{}, fmt.Errorf("empty identity name")
	}
	if hexName := strings.TrimPrefix(name, "0x"); len(hexName) == 2*types.IdentifierLength {
		if id, err := types.ParseIdentifier(hexName); err == nil {
			return id, nil
		}
	}
	return types.Identifier(crypto.Keccak256Hash([]byte(name))), nil
}
