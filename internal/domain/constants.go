package domain

const (
	// SettlementCurrency is the currency every Request amount is expressed in.
	SettlementCurrency = "KGS"

	RequestTypeDeposit  = "deposit"
	RequestTypeWithdraw = "withdraw"

	SourceBot         = "bot"
	SourceMiniApp     = "miniapp"
	SourceUnspecified = "unspecified"

	// ProcessedByAutopayment marks requests finished without an operator.
	ProcessedByAutopayment = "autopayment"

	ProviderCryptoBot = "cryptobot"
	ProviderBank      = "bank"

	PaymentStatusPaid    = "paid"
	PaymentStatusActive  = "active"
	PaymentStatusExpired = "expired"

	// Status detail markers written for operators.
	DetailRateUnavailable  = "rate_unavailable"
	DetailRateFallback     = "rate_unavailable:used_request_amount"
	DetailCreditFailed     = "credit_failed"
	DetailPayoutFailed     = "payout_failed"
	DetailUnclaimedPayment = "unclaimed_payment"
)
