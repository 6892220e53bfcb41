package order

// Schedule holds the trading and margin fee parameters shared by the
// confirmed and projected books.
type Schedule struct {
	// FeeRate is the trade fee rate F.
	FeeRate float64
	// MarginFee is the margin fee rate MF charged on borrowed funds.
	MarginFee float64
	// MarginRate is the leverage MR; must be greater than 1 for margin trading.
	MarginRate float64
}

// Spot is the result of pricing a non-margin order.
type Spot struct {
	// Cost is debited from the consumed currency.
	Cost float64
	// Amount is the (fee-adjusted for buys) order amount.
	Amount float64
	// Proceeds is credited to the opposite currency at fill.
	Proceeds float64
	Fee      float64
}

// Buy prices a non-margin buy. The fee reduces the received amount.
func (s Schedule) Buy(price, amount float64) Spot {
	cost := price * amount
	amount = cost * (1 - s.FeeRate) / price
	return Spot{
		Cost:     cost,
		Amount:   amount,
		Proceeds: amount,
		Fee:      price * amount * s.FeeRate,
	}
}

// Sell prices a non-margin sell. The base amount is debited and quote
// proceeds net of the fee are credited.
func (s Schedule) Sell(price, amount float64) Spot {
	return Spot{
		Cost:     amount,
		Amount:   amount,
		Proceeds: amount * price * (1 - s.FeeRate),
		Fee:      amount * price * s.FeeRate,
	}
}

// Leveraged is the result of pricing a margin open.
type Leveraged struct {
	Cost      float64
	Amount    float64
	Fund      float64
	MarginFee float64
	Fee       float64
}

// MarginOpen prices opening a margin position of amount at price.
func (s Schedule) MarginOpen(price, amount float64) Leveraged {
	mr := s.MarginRate
	var mf float64
	if mr > 1 {
		mf = s.MarginFee / (mr - 1)
	}
	cost := amount / mr * price
	amount = cost / (1/mr + s.FeeRate + mf) / price
	fund := amount / mr * (mr - 1) * price
	return Leveraged{
		Cost:      cost,
		Amount:    amount,
		Fund:      fund,
		MarginFee: fund * s.MarginFee,
		Fee:       price * amount * s.FeeRate,
	}
}

// Settlement is the result of closing a margin position.
type Settlement struct {
	// Fee is the total trade fee of the position, open plus close.
	Fee float64
	PL  float64
	// Return is credited back to the quote currency.
	Return float64
}

// MarginClose settles a position opened at openPrice with the given open fee
// and margin fee, closed at closePrice.
func (s Schedule) MarginClose(side Side, openPrice, closePrice, amount, openFee, marginFee float64) Settlement {
	diff := side.Sign() * (closePrice - openPrice)
	closeFee := amount * closePrice * s.FeeRate
	fee := openFee + closeFee
	return Settlement{
		Fee:    fee,
		PL:     diff*amount - fee - marginFee,
		Return: openPrice*amount/s.MarginRate + diff*amount - closeFee,
	}
}
