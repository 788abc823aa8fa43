package types

import "github.com/shopspring/decimal"

// Decimal is the fixed-precision type used for every monetary column in the
// data model (balances, costs, credits) — spec §3 marks these DECIMAL.
type Decimal = decimal.Decimal

// Zero is the additive identity, re-exported for convenience.
var Zero = decimal.Zero
