// Package workflowevent defines the inbound workflow event shape shared by
// the ingestion engine (C3) and the state/aggregate engine (C4), plus the
// status-bucket normalization both components apply.
package workflowevent
