package redisx

import "time"

const (
	// Consumed on-chain transaction ids: set usdt:consumed_tx
	KeyConsumedTx = "usdt:consumed_tx"

	// Cache of order status for cheap GETs: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Dedup gateway callback deliveries: dedup:alipay:{out_trade_no}:{trade_no}
	KeyAlipayDedup = "dedup:alipay:%s:%s"
)

var (
	TTLConsumedTx  = 7 * 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
