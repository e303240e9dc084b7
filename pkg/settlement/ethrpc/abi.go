package ethrpc

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// tradesABI is the subset of the market contract the client calls. Amounts
// and prices are 2^64 fixed-point int256 values; a positive status means
// success.
const tradesABI = `[
	{"type":"function","name":"getOrderBook","stateMutability":"view",
	 "inputs":[{"name":"market","type":"bytes32"}],
	 "outputs":[{"name":"orders","type":"int256[]"}]},
	{"type":"function","name":"getParticipantSharesPurchased","stateMutability":"view",
	 "inputs":[{"name":"market","type":"bytes32"},{"name":"trader","type":"address"},{"name":"outcome","type":"int256"}],
	 "outputs":[{"name":"shares","type":"int256"}]},
	{"type":"function","name":"balance","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"cash","type":"int256"}]},
	{"type":"function","name":"commitTrade","stateMutability":"nonpayable",
	 "inputs":[{"name":"tradeHash","type":"bytes32"}],
	 "outputs":[{"name":"status","type":"int256"}]},
	{"type":"function","name":"trade","stateMutability":"nonpayable",
	 "inputs":[{"name":"maxValue","type":"int256"},{"name":"maxAmount","type":"int256"},{"name":"tradeIDs","type":"bytes32[]"},{"name":"tradeGroupID","type":"bytes32"}],
	 "outputs":[{"name":"status","type":"int256"},{"name":"sharesBought","type":"int256"},{"name":"cashFromTrade","type":"int256"},{"name":"unmatchedShares","type":"int256"},{"name":"unmatchedCash","type":"int256"},{"name":"tradingFees","type":"int256"}]},
	{"type":"function","name":"shortSell","stateMutability":"nonpayable",
	 "inputs":[{"name":"buyerTradeID","type":"bytes32"},{"name":"maxAmount","type":"int256"},{"name":"tradeGroupID","type":"bytes32"}],
	 "outputs":[{"name":"status","type":"int256"},{"name":"matchedShares","type":"int256"},{"name":"cashFromTrade","type":"int256"},{"name":"unmatchedShares","type":"int256"},{"name":"tradingFees","type":"int256"}]}
]`

// orderWords is the number of int256 words per order in getOrderBook's
// result: id, type, market, amount, price, owner, block, outcome.
const orderWords = 8

var parsedABI = mustParseABI(tradesABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ethrpc: bad contract ABI: " + err.Error())
	}
	return parsed
}
