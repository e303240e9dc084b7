// Command estimate classifies a trade against an order book snapshot
// without touching a node.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	flags "github.com/jessevdk/go-flags"

	"github.com/uhyunpark/predikt/pkg/app/core/market"
	"github.com/uhyunpark/predikt/pkg/app/core/matcher"
	"github.com/uhyunpark/predikt/pkg/app/core/orderbook"
	"github.com/uhyunpark/predikt/pkg/fxp"
)

type options struct {
	Book     string `short:"b" long:"book" required:"true" description:"JSON file with the order book's orders"`
	Side     string `short:"s" long:"side" default:"buy" choice:"buy" choice:"sell" description:"Trade side"`
	Outcome  string `short:"o" long:"outcome" required:"true" description:"Outcome ID to trade"`
	Shares   string `short:"n" long:"shares" required:"true" description:"Number of shares"`
	Limit    string `short:"l" long:"limit" description:"Limit price; omit for a market order"`
	Position string `short:"p" long:"position" default:"0" description:"Shares of the outcome already held"`
	User     string `short:"u" long:"user" description:"Trader address; its own orders are skipped"`

	Markets  string `long:"markets" description:"Markets JSON file to take fees and scalar range from"`
	MarketID string `short:"m" long:"market" description:"Market ID within --markets"`
	MakerFee string `long:"makerfee" default:"0" description:"Maker fee fraction when no market is given"`
	TakerFee string `long:"takerfee" default:"0" description:"Taker fee fraction when no market is given"`

	JSON bool `short:"j" long:"json" description:"Print the classification as JSON"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).ParseArgs(args); err != nil {
		return err
	}

	trade, marketID, err := opts.trade()
	if err != nil {
		return err
	}
	book, err := loadBook(opts.Book, marketID)
	if err != nil {
		return err
	}

	c, err := matcher.New(matcher.DefaultGas()).Classify(trade, book)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(c)
	}
	printClassification(out, c)
	return nil
}

func (o options) trade() (matcher.Trade, string, error) {
	var t matcher.Trade
	if err := t.Side.UnmarshalText([]byte(o.Side)); err != nil {
		return t, "", err
	}
	t.Outcome = o.Outcome

	var err error
	if t.Shares, err = fxp.Parse(o.Shares); err != nil {
		return t, "", fmt.Errorf("--shares: %w", err)
	}
	if t.UserPosition, err = fxp.Parse(o.Position); err != nil {
		return t, "", fmt.Errorf("--position: %w", err)
	}
	if o.Limit != "" {
		limit, err := fxp.Parse(o.Limit)
		if err != nil {
			return t, "", fmt.Errorf("--limit: %w", err)
		}
		t.LimitPrice = &limit
	}
	if o.User != "" {
		if !common.IsHexAddress(o.User) {
			return t, "", fmt.Errorf("--user: invalid address %q", o.User)
		}
		t.UserID = common.HexToAddress(o.User)
	}

	if o.Markets != "" {
		registry := market.NewRegistry()
		if _, err := registry.LoadFile(o.Markets); err != nil {
			return t, "", err
		}
		m, err := registry.Get(o.MarketID)
		if err != nil {
			return t, "", err
		}
		if !m.HasOutcome(o.Outcome) {
			return t, "", fmt.Errorf("market %s has no outcome %q", m.ID, o.Outcome)
		}
		t.Fees = m.Fees()
		t.Scalar = m.ScalarRange()
		return t, m.ID, nil
	}

	if t.Fees.Maker, err = fxp.Parse(o.MakerFee); err != nil {
		return t, "", fmt.Errorf("--makerfee: %w", err)
	}
	if t.Fees.Taker, err = fxp.Parse(o.TakerFee); err != nil {
		return t, "", fmt.Errorf("--takerfee: %w", err)
	}
	return t, o.MarketID, nil
}

func loadBook(path, marketID string) (*orderbook.Book, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read order book: %w", err)
	}
	var orders []orderbook.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, fmt.Errorf("decode order book %s: %w", path, err)
	}
	return orderbook.FromOrders(marketID, orders)
}

func printClassification(out io.Writer, c matcher.Classification) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tSHARES\tAVG PRICE\tCOST\tFEE\tFEE %\tGAS")
	for _, a := range c.Actions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Action, a.Shares, a.AvgPrice.StringFixed(8), a.CostEth.StringFixed(8),
			a.FeeEth.StringFixed(8), a.FeePercent.StringFixed(4), a.GasEth)
	}
	tw.Flush()

	t := c.Totals
	fmt.Fprintf(out, "\ntotal cost %s, cash flow %s, trading fees %s, gas %s\n",
		t.TotalCost.StringFixed(8), t.CashFlow.StringFixed(8), t.TradingFees.StringFixed(8), t.GasFees)
	if err := c.Err(); err != nil {
		fmt.Fprintf(out, "warning: %v\n", err)
	}
}
