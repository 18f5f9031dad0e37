package domain

// Ledger entry kinds.
const (
	EntryTypeTopup    = "TOPUP"
	EntryTypeTransfer = "TRANSFER"
	EntryTypeWithdraw = "WITHDRAW"
	EntryTypeBillPay  = "BILLPAY"
	EntryTypeCashIn   = "CASHIN"
	EntryTypeFee      = "FEE"
	EntryTypeReversal = "REVERSAL"
)

// Operation statuses shared by ledger entries, transfers and cash operations.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Cash operation kinds.
const (
	CashKindIn  = "CASHIN"
	CashKindOut = "CASHOUT"
)

// Reference prefixes, one per operation family.
const (
	RefPrefixTransfer = "TRF"
	RefPrefixCashIn   = "CASHIN"
	RefPrefixCashOut  = "CASHOUT"
	RefPrefixTopup    = "TOP"
	RefPrefixBill     = "BILL"
	RefPrefixFee      = "FEE"
)

// Actor roles carried in auth claims.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// Fee rule operation keys.
const (
	FeeOpTransfer = "TRANSFER"
	FeeOpTopup    = "TOPUP"
	FeeOpBillPay  = "BILLPAY"
	FeeOpCashIn   = "CASHIN"
	FeeOpCashOut  = "CASHOUT"
)

// Mobile operators supported for top-ups.
const (
	OperatorMattel     = "MATTEL"
	OperatorChinguitel = "CHINGUITEL"
	OperatorMauritel   = "MAURITEL"
)

// OperatorPrefixes maps each operator to the leading digit its subscriber
// numbers carry.
var OperatorPrefixes = map[string]string{
	OperatorMattel:     "3",
	OperatorChinguitel: "2",
	OperatorMauritel:   "4",
}

// Bill categories.
const (
	BillCategoryElectricity = "ELECTRICITY"
	BillCategoryWater       = "WATER"
	BillCategoryInternet    = "INTERNET"
	BillCategoryTV          = "TV"
	BillCategoryOther       = "OTHER"
)

// BillCategories lists the accepted bill categories.
var BillCategories = map[string]struct{}{
	BillCategoryElectricity: {},
	BillCategoryWater:       {},
	BillCategoryInternet:    {},
	BillCategoryTV:          {},
	BillCategoryOther:       {},
}

// Currency is the single currency the ledger operates in.
const Currency = "MRU"

// TokenLength is the fixed length of cash-out redemption tokens.
const TokenLength = 8
