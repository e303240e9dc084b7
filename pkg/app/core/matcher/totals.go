package matcher

// CalculateTradeTotals sums the cost, fees and gas of a trade's actions.
func CalculateTradeTotals(t Trade, actions []TradeAction) Totals {
	totals := Totals{
		Side:       t.Side,
		Shares:     t.Shares,
		LimitPrice: t.LimitPrice,
	}
	for _, a := range actions {
		totals.TotalCost = totals.TotalCost.Add(a.CostEth)
		totals.CashFlow = totals.CashFlow.Add(a.CashFlow())
		totals.TradingFees = totals.TradingFees.Add(a.FeeEth)
		totals.GasFees = totals.GasFees.Add(a.GasEth)
	}
	totals.FeePercent = feePercent(totals.TradingFees, totals.TotalCost)
	return totals
}
