package models

import "time"

// ConnectionState is the lifecycle state of the data source connection.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateFailed       ConnectionState = "failed"
)

// DataSourceConnection is the single live connection record of a workspace.
// Identifier is set if and only if State is connected. The secret used to
// connect is never stored here.
type DataSourceConnection struct {
	// Type is the data source kind, e.g. "mysql". Host is host[:port].
	Type     string `json:"type"`
	Host     string `json:"host"`
	Username string `json:"username"`

	// Identifier is issued by the tool service on connect.
	Identifier        string          `json:"data_src_id,omitempty"`
	State             ConnectionState `json:"state"`
	LastScanTimestamp *time.Time      `json:"scan_time,omitempty"`
	Error             string          `json:"error,omitempty"`

	// Generation increments on every connect attempt and disconnect.
	// Responses issued against an older generation are discarded.
	Generation uint64 `json:"generation"`
}

// IsConnected returns true if the record holds a usable identifier.
func (c *DataSourceConnection) IsConnected() bool {
	return c.State == ConnectionStateConnected && c.Identifier != ""
}
