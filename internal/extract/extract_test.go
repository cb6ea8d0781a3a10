package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalforge/fusion/internal/model"
)

func TestSymbols_ExtractsAllThreeShapes(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"dollar sign prefix", "Huge news: $PEPE is listing tomorrow", []string{"PEPE"}},
		{"slash pair", "WIF/USDT just went live on the spot market", []string{"WIF"}},
		{"bare uppercase token", "BONK surges after the announcement", []string{"BONK"}},
		{"stop words excluded", "THE new listing WILL pump BONK", []string{"BONK"}},
		{"dedupes repeated symbol", "$PEPE $PEPE PEPE listing", []string{"PEPE"}},
		{"caps at five symbols", "AAA BBB CCC DDD EEE FFF GGG", []string{"AAA", "BBB", "CCC", "DDD", "EEE"}},
		{"no candidates", "nothing tradable in this sentence at all", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Symbols(tt.text))
		})
	}
}

func TestContractAddress_EVMPatternTakesPriorityOverSolanaPattern(t *testing.T) {
	// Even with Solana context words present, an EVM-shaped address in the
	// same text is matched first (ContractAddress checks EVM before Solana).
	text := "New pair on solana raydium: 0x1234567890123456789012345678901234567890"
	addr, chain, ok := ContractAddress(text)
	assert.True(t, ok)
	assert.Equal(t, "0x1234567890123456789012345678901234567890", addr)
	assert.Equal(t, model.ChainSolana, chain) // InferChain matches on the "solana" keyword, independent of address shape
}

func TestContractAddress_EVMDefaultsToEthereumWithoutChainKeyword(t *testing.T) {
	text := "contract 0x1234567890123456789012345678901234567890 just deployed"
	addr, chain, ok := ContractAddress(text)
	assert.True(t, ok)
	assert.Equal(t, "0x1234567890123456789012345678901234567890", addr)
	assert.Equal(t, model.ChainEthereum, chain)
}

func TestContractAddress_SolanaRequiresContextKeyword(t *testing.T) {
	// A base58-looking token with no Solana context word must not match.
	noContext := "random string: 3N2sXNZVnSEtZo4JpSCeHF3HGCvnyVGcfYqWZpk8Mbya nothing else"
	_, _, ok := ContractAddress(noContext)
	assert.False(t, ok)

	withContext := "new solana pump.fun token: 3N2sXNZVnSEtZo4JpSCeHF3HGCvnyVGcfYqWZpk8Mbya"
	addr, chain, ok := ContractAddress(withContext)
	assert.True(t, ok)
	assert.Equal(t, model.ChainSolana, chain)
	assert.NotEmpty(t, addr)
}

func TestContractAddress_NoCandidateReturnsFalse(t *testing.T) {
	_, _, ok := ContractAddress("just a plain announcement with no addresses")
	assert.False(t, ok)
}

func TestInferChain(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.ChainID
	}{
		{"bsc keyword", "deployed on bsc today", model.ChainBSC},
		{"bnb chain phrase", "live on binance smart chain", model.ChainBSC},
		{"arbitrum keyword", "bridging to arbitrum now", model.ChainArbitrum},
		{"polygon keyword", "matic network listing", model.ChainPolygon},
		{"solana keyword", "new solana memecoin", model.ChainSolana},
		{"default to ethereum", "no chain mentioned here", model.ChainEthereum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferChain(tt.text))
		})
	}
}
