package model

import "time"

// TraceRecord is one delivered packet as observed by the sink.
type TraceRecord struct {
	Time             time.Duration
	IMSI             NodeID // terminal identity
	CellID           NodeID // serving base station
	RNTI             uint16
	FlowID           FlowID
	ComponentCarrier uint8
	PacketSize       int
}

// FlowStats summarises one flow in the manner of a flow monitor.
type FlowStats struct {
	FlowID      FlowID
	TxPackets   int
	RxPackets   int
	TxBytes     int64
	RxBytes     int64
	FirstTx     time.Duration
	LastTx      time.Duration
	Suspensions int
}

// NoCell stands in for the serving cell of an unattached terminal.
const NoCell NodeID = -1

// AttachmentEvent records one association change. FromCell is NoCell when
// the terminal was unattached; ToCell is NoCell on detach.
type AttachmentEvent struct {
	Time       time.Duration
	TerminalID NodeID
	FromCell   NodeID
	ToCell     NodeID
	RNTI       uint16
	Quality    float64
}

// LinkClass is a coarse classification of a link derived from its SNR.
type LinkClass string

const (
	LinkClassDown      LinkClass = "down"
	LinkClassPoor      LinkClass = "poor"
	LinkClassFair      LinkClass = "fair"
	LinkClassGood      LinkClass = "good"
	LinkClassExcellent LinkClass = "excellent"
)

// Link is the evaluated radio relation between a base station and a
// terminal at one instant. It is derived and must not be cached across
// endpoint movement.
type Link struct {
	BaseStationID NodeID
	TerminalID    NodeID
	Condition     ChannelCondition
	// Quality is the received power in dBm; larger is better.
	Quality    float64
	PathLossDB float64
	SNRDB      float64
	Class      LinkClass
	DistanceM  float64
	Blocked    bool
}
