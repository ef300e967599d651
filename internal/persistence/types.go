// Package persistence defines the durable-store contracts the trading runtime
// requires and a sqlite-backed implementation.
package persistence

import "time"

// OrderStatus enumerates the lifecycle states an Order can be in.
type OrderStatus string

const (
	OrderPendingSubmit OrderStatus = "PendingSubmit"
	OrderPreSubmitted  OrderStatus = "PreSubmitted"
	OrderSubmitted     OrderStatus = "Submitted"
	OrderFilled        OrderStatus = "Filled"
	OrderCancelled     OrderStatus = "Cancelled"
	OrderApiCancelled  OrderStatus = "ApiCancelled"
	OrderInactive      OrderStatus = "Inactive"
)

// IsTerminal reports whether the status is one of the final lifecycle states.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderApiCancelled, OrderInactive:
		return true
	default:
		return false
	}
}

// OrderType enumerates the broker order types.
type OrderType string

const (
	OrderTypeMKT       OrderType = "MKT"
	OrderTypeLMT       OrderType = "LMT"
	OrderTypeSTP       OrderType = "STP"
	OrderTypeSTPLMT    OrderType = "STP LMT"
	OrderTypeTRAIL     OrderType = "TRAIL"
	OrderTypeTRAILLMT  OrderType = "TRAIL LIMIT"
	OrderTypeREL       OrderType = "REL"
	OrderTypeMIT       OrderType = "MIT"
	OrderTypeMOC       OrderType = "MOC"
	OrderTypeLOC       OrderType = "LOC"
)

// TimeInForce enumerates order duration instructions.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFGTD TimeInForce = "GTD"
)

// Side is BUY or SELL.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is the durable record of a placed or proposed broker order.
type Order struct {
	OrderID       int64
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	LimitPrice    *float64
	StopPrice     *float64
	TrailingPct   *float64
	TIF           TimeInForce
	ParentOrderID *int64
	OCAGroup      *string
	CorrelationID string
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Execution is an immutable fill record.
type Execution struct {
	ExecID      string
	OrderID     int64
	Side        Side
	Shares      float64
	Price       float64
	CumQty      float64
	AvgPrice    float64
	Commission  *float64
	RealizedPnL *float64
	ExecTime    time.Time
}

// Alert is an external signal, immutable after ingest.
type Alert struct {
	ID         int64
	Symbol     string
	Strategy   *string
	EntryPrice *float64
	StopPrice  *float64
	Shares     *float64
	LastPrice  *float64
	AlertTime  time.Time
	ExitTime   *time.Time
}

// ProviderOutput is one scoring provider's raw contribution to an Evaluation.
type ProviderOutput struct {
	ProviderID  string  `json:"provider_id"`
	Score       float64 `json:"score"`
	ExpectedRR  float64 `json:"expected_rr"`
	Confidence  float64 `json:"confidence"`
	ShouldTrade bool    `json:"should_trade"`
	RawText     string  `json:"raw_text"`
	Compliant   bool    `json:"compliant"`
}

// Evaluation is the ensemble scoring result keyed to an alert or ad-hoc request.
type Evaluation struct {
	ID                  int64
	AlertID             *int64
	ProviderOutputs     []ProviderOutput
	TradeScore          float64
	Median              float64
	ExpectedRR          float64
	Confidence          float64
	ScoreSpread         float64
	DisagreementPenalty float64
	Unanimous           bool
	Majority            bool
	ShouldTrade         bool
	Regime              string
	FeatureVector       map[string]float64
	WeightsUsed         map[string]float64
	CreatedAt           time.Time
}

// Outcome is post-trade ground truth tied to an Evaluation.
type Outcome struct {
	ID                    int64
	EvaluationID          int64
	TradeTaken            bool
	RealizedRR            *float64
	ConfidencePercentile  *float64
	EntryTime             *time.Time
	ExitTime              *time.Time
}

// Signal links an Evaluation to a tradeable instruction (GLOSSARY).
type Signal struct {
	EvaluationID int64     `json:"evaluation_id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnalyticsJob tracks a background analytics run.
type AnalyticsJob struct {
	ID         int64
	JobName    string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	Detail     string
}
