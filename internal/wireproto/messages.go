// Package wireproto defines the JSON envelopes exchanged over the
// browser-facing WebSocket. Every outbound frame that carries event data
// is a JSON header immediately followed by a raw binary WebSocket frame
// holding the decimated payload; the two together form one logical
// message and must never be separated by another frame.
package wireproto

import (
	"encoding/json"
	"fmt"

	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
)

// ClientMessage is the tagged union of everything the browser can send.
// The "type" field selects which of the pointer fields is populated.
type ClientMessage struct {
	Type string `json:"type"`

	Connect         *ConnectRequest         `json:"connect,omitempty"`
	OpenFile        *OpenFileRequest        `json:"open_file,omitempty"`
	RequestNewRange *RequestNewRangeRequest `json:"request_new_range,omitempty"`
	SetChannelID    *SetChannelIDRequest    `json:"set_channel_id,omitempty"`
	Disconnect      *DisconnectRequest      `json:"disconnect,omitempty"`
}

type ConnectRequest struct {
	Addr string `json:"addr"`
}

// OpenFileRequest asks to attach to a discovered trace file by path; path
// must appear in the current discovered-files snapshot or the request
// fails with ConnectError(UnknownFile).
type OpenFileRequest struct {
	Path string `json:"path"`
}

type RequestNewRangeRequest struct {
	ConnID uint32 `json:"conn_id"`
	Start  uint64 `json:"start"`
	End    uint64 `json:"end"`
}

type SetChannelIDRequest struct {
	ConnID    uint32               `json:"conn_id"`
	ChannelID eventstore.ChannelID `json:"channel_id"`
	Name      string               `json:"name"`
}

type DisconnectRequest struct {
	ConnID uint32 `json:"conn_id"`
}

// ServerMessage is the tagged union of everything the server sends. Exactly
// one of the pointer fields is non-nil depending on Type.
type ServerMessage struct {
	Type string `json:"type"`

	DiscoveredClients *DiscoveredClientsMessage `json:"discovered_clients,omitempty"`
	ActiveConnections []ActiveConnectionInfo    `json:"active_connections,omitempty"`
	ConnectError      *string                   `json:"connect_error,omitempty"`
	Connected         *ConnectedMessage         `json:"connected,omitempty"`
	Addressed         *AddressedMessage         `json:"addressed,omitempty"`
}

// DiscoveredClientsMessage reports both discovery sources unified: UDP
// multicast groups and trace/*.sprk files, each tagged with whether a
// connection is already open to it.
type DiscoveredClientsMessage struct {
	Clients []DiscoveredClient `json:"clients"`
	Files   []DiscoveredFile   `json:"files"`
}

// DiscoveredClient is one discovered process, represented as every address
// it was seen advertising itself on (a process may be reachable on more
// than one interface) — the original's `Vec<Vec<SocketAddr>>` grouping.
type DiscoveredClient struct {
	Addresses []string `json:"addresses"`
	Connected bool     `json:"connected"`
}

type DiscoveredFile struct {
	Path      string `json:"path"`
	Connected bool   `json:"connected"`
}

// ActiveConnectionInfo summarizes one producer connection. ChannelNames and
// EventNames are flattened to slices rather than maps keyed by ChannelID,
// since a struct key isn't directly JSON-marshalable.
type ActiveConnectionInfo struct {
	ID           uint32                  `json:"id"`
	Addr         string                  `json:"addr"`
	Online       bool                    `json:"online"`
	Stats        eventstore.StorageStats `json:"stats"`
	ChannelNames []ChannelNameEntry      `json:"channel_names"`
	EventNames   []ChannelEventNames     `json:"event_names"`
}

type ChannelNameEntry struct {
	ChannelID eventstore.ChannelID `json:"channel_id"`
	Name      string               `json:"name"`
}

type ChannelEventNames struct {
	ChannelID eventstore.ChannelID `json:"channel_id"`
	Names     map[uint16]string    `json:"names"`
}

type ConnectedMessage struct {
	ID   uint32 `json:"id"`
	Addr string `json:"addr"`
}

// AddressedMessage wraps a reply that is specific to one producer
// connection id. Exactly one of the Kind-selected payload fields is set.
type AddressedMessage struct {
	ConnID uint32                `json:"conn_id"`
	Kind   string                `json:"kind"`
	Header *NewEventsHeader      `json:"header,omitempty"`
	Finish *EventsFinished       `json:"finished,omitempty"`
	Stamps *ConnectionTimestamps `json:"timestamps,omitempty"`
}

// NewEventsHeader precedes the binary frame for a channel's decimated
// events; the binary frame itself (plus a trailing 4-byte little-endian
// msg_id) follows immediately as a separate WebSocket frame.
type NewEventsHeader struct {
	ChannelID eventstore.ChannelID       `json:"channel_id"`
	MsgID     uint32                     `json:"msg_id"`
	Stats     eventstore.EventsSkipStats `json:"stats"`
}

// EventsFinished marks the end of one RequestNewRange's reply stream: every
// channel that had events in the window has had its header+frame sent.
type EventsFinished struct {
	MsgID uint32 `json:"msg_id"`
}

type ConnectionTimestamps struct {
	MinTm uint64 `json:"min_tm"`
	MaxTm uint64 `json:"max_tm"`
	Now   uint64 `json:"now"`
}

func addressed(connID uint32, kind string) AddressedMessage {
	return AddressedMessage{ConnID: connID, Kind: kind}
}

func NewEventsHeaderMessage(connID uint32, header NewEventsHeader) ServerMessage {
	a := addressed(connID, "new_events_header")
	a.Header = &header
	return ServerMessage{Type: "addressed", Addressed: &a}
}

func EventsFinishedMessage(connID uint32, msgID uint32) ServerMessage {
	a := addressed(connID, "events_finished")
	a.Finish = &EventsFinished{MsgID: msgID}
	return ServerMessage{Type: "addressed", Addressed: &a}
}

func ConnectionTimestampsMessage(connID uint32, stamps ConnectionTimestamps) ServerMessage {
	a := addressed(connID, "connection_timestamps")
	a.Stamps = &stamps
	return ServerMessage{Type: "addressed", Addressed: &a}
}

func DiscoveredClients(clients []DiscoveredClient, files []DiscoveredFile) ServerMessage {
	return ServerMessage{Type: "discovered_clients", DiscoveredClients: &DiscoveredClientsMessage{Clients: clients, Files: files}}
}

func ActiveConnections(conns []ActiveConnectionInfo) ServerMessage {
	return ServerMessage{Type: "active_connections", ActiveConnections: conns}
}

func ConnectError(msg string) ServerMessage {
	return ServerMessage{Type: "connect_error", ConnectError: &msg}
}

func Connected(id uint32, addr string) ServerMessage {
	return ServerMessage{Type: "connected", Connected: &ConnectedMessage{ID: id, Addr: addr}}
}

// Marshal and ParseClientMessage are thin wrappers kept so callers never
// reach for encoding/json directly, matching the rest of the codebase's
// habit of centralizing (de)serialization at the package boundary.
func Marshal(msg ServerMessage) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("wireproto: marshal %s: %w", msg.Type, err)
	}
	return b, nil
}

func ParseClientMessage(b []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("wireproto: unmarshal client message: %w", err)
	}
	return msg, nil
}
