package wsconn

import (
	"encoding/binary"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/sparkles-gui/sparkles-backend/internal/eventstore"
	"github.com/sparkles-gui/sparkles-backend/internal/producer"
	"github.com/sparkles-gui/sparkles-backend/internal/registry"
	"github.com/sparkles-gui/sparkles-backend/internal/wireproto"
)

// queryTimeout bounds how long a session waits on a producer's actor to
// answer a synchronous query before giving up on that one producer,
// keeping one stalled actor from hanging the whole snapshot tick.
const queryTimeout = 150 * time.Millisecond

func (s *Session) handleClientMessage(raw []byte) {
	msg, err := wireproto.ParseClientMessage(raw)
	if err != nil {
		s.log.Debug("dropping unparseable client message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "connect":
		s.handleConnect(msg.Connect)
	case "open_file":
		s.handleOpenFile(msg.OpenFile)
	case "request_new_range":
		s.handleRequestNewRange(msg.RequestNewRange)
	case "set_channel_id":
		s.handleSetChannelID(msg.SetChannelID)
	case "disconnect":
		s.handleDisconnect(msg.Disconnect)
	default:
		s.log.Debug("unknown client message type", zap.String("type", msg.Type))
	}
}

func (s *Session) handleConnect(req *wireproto.ConnectRequest) {
	if req == nil {
		return
	}
	id, err := s.mgr.ConnectTCP(req.Addr)
	if err != nil {
		s.send(wireproto.ConnectError(err.Error()))
		return
	}
	s.send(wireproto.Connected(id, req.Addr))
}

func (s *Session) handleOpenFile(req *wireproto.OpenFileRequest) {
	if req == nil {
		return
	}
	if !s.isDiscoveredFile(req.Path) {
		s.send(wireproto.ConnectError("unknown file"))
		return
	}
	id, err := s.mgr.ConnectFile(req.Path)
	if err != nil {
		s.send(wireproto.ConnectError(err.Error()))
		return
	}
	s.send(wireproto.Connected(id, req.Path))
}

// isDiscoveredFile rejects OpenFile requests for paths the discovery
// scanner hasn't actually surfaced, so a session can't probe the
// filesystem through this endpoint.
func (s *Session) isDiscoveredFile(path string) bool {
	for _, f := range s.disc.Snapshot().Files {
		if f == path {
			return true
		}
	}
	return false
}

func (s *Session) handleDisconnect(req *wireproto.DisconnectRequest) {
	if req == nil {
		return
	}
	s.mgr.Disconnect(req.ConnID)
}

func (s *Session) handleSetChannelID(req *wireproto.SetChannelIDRequest) {
	if req == nil {
		return
	}
	reply := make(chan struct{})
	if !s.reg.Send(req.ConnID, producer.SetChannelName{Channel: req.ChannelID, Name: req.Name, Reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-time.After(queryTimeout):
		s.log.Warn("set_channel_id timed out", zap.Uint32("conn_id", req.ConnID))
	}
}

// handleRequestNewRange transitions Idle -> Waiting. A request issued
// while already Waiting is rejected with ConnectError("Already waiting
// for a range") rather than replacing the in-flight one.
func (s *Session) handleRequestNewRange(req *wireproto.RequestNewRangeRequest) {
	if req == nil {
		return
	}
	if s.waiting {
		s.send(wireproto.ConnectError("Already waiting for a range"))
		return
	}
	if !s.rangeLimiter.Allow() {
		s.log.Debug("request_new_range rate limited", zap.Uint32("conn_id", req.ConnID))
		return
	}
	events := make(chan producer.ChannelFrame, 64)
	ok := s.reg.Send(req.ConnID, producer.RequestNewRange{
		WsID:   s.id,
		Start:  req.Start,
		End:    req.End,
		Events: events,
	})
	if !ok {
		s.send(wireproto.ConnectError("unknown connection"))
		return
	}
	s.msgID++
	s.activeReqConnID = req.ConnID
	s.eventDataRx = events
	s.waiting = true
}

func (s *Session) sendChannelFrame(frame producer.ChannelFrame) {
	header := wireproto.NewEventsHeader{
		ChannelID: frame.Channel,
		MsgID:     s.msgID,
		Stats:     frame.Stats,
	}
	s.send(wireproto.NewEventsHeaderMessage(s.activeReqConnID, header))
	s.enqueue(outboundFrame{opcode: ws.OpBinary, payload: appendMsgID(frame.Frame, s.msgID)})
}

// appendMsgID appends the trailing little-endian msg_id the session-level
// framing adds on top of the Decimator's own frame body, per the binary
// frame layout's session framing.
func appendMsgID(frame []byte, msgID uint32) []byte {
	out := make([]byte, len(frame)+4)
	copy(out, frame)
	binary.LittleEndian.PutUint32(out[len(frame):], msgID)
	return out
}

func (s *Session) sendDiscoverySnapshot() {
	snap := s.disc.Snapshot()
	clients := make([]wireproto.DiscoveredClient, len(snap.Clients))
	for i, c := range snap.Clients {
		connected := false
		for _, addr := range c.Addresses {
			if s.reg.IsConnected(addr) {
				connected = true
				break
			}
		}
		clients[i] = wireproto.DiscoveredClient{Addresses: c.Addresses, Connected: connected}
	}
	files := make([]wireproto.DiscoveredFile, len(snap.Files))
	for i, f := range snap.Files {
		files[i] = wireproto.DiscoveredFile{Path: f, Connected: s.reg.IsConnected("file:" + f)}
	}
	s.send(wireproto.DiscoveredClients(clients, files))
}

func (s *Session) sendActiveConnections() {
	handles := s.reg.Snapshot()
	infos := make([]wireproto.ActiveConnectionInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, s.buildActiveConnectionInfo(h))
	}
	s.send(wireproto.ActiveConnections(infos))
}

func (s *Session) buildActiveConnectionInfo(h registry.ProducerHandle) wireproto.ActiveConnectionInfo {
	info := wireproto.ActiveConnectionInfo{ID: h.ID, Addr: h.Addr, Online: h.Online}

	statsReply := make(chan eventstore.StorageStats, 1)
	if s.reg.Send(h.ID, producer.GetStorageStats{Reply: statsReply}) {
		select {
		case stats := <-statsReply:
			info.Stats = stats
		case <-time.After(queryTimeout):
		}
	}

	namesReply := make(chan map[eventstore.ChannelID]string, 1)
	if s.reg.Send(h.ID, producer.GetChannelNames{Reply: namesReply}) {
		select {
		case names := <-namesReply:
			for id, name := range names {
				info.ChannelNames = append(info.ChannelNames, wireproto.ChannelNameEntry{ChannelID: id, Name: name})
			}
		case <-time.After(queryTimeout):
		}
	}

	for _, entry := range info.ChannelNames {
		evReply := make(chan map[uint16]string, 1)
		if s.reg.Send(h.ID, producer.GetEventNames{Channel: entry.ChannelID, Reply: evReply}) {
			select {
			case names := <-evReply:
				info.EventNames = append(info.EventNames, wireproto.ChannelEventNames{ChannelID: entry.ChannelID, Names: names})
			case <-time.After(queryTimeout):
			}
		}
	}

	return info
}

func (s *Session) sendTimestampSync() {
	if s.activeReqConnID == 0 {
		return
	}
	reply := make(chan producer.ConnectionTimestampsReply, 1)
	if !s.reg.Send(s.activeReqConnID, producer.GetConnectionTimestamps{Reply: reply}) {
		return
	}
	select {
	case r := <-reply:
		if r.OK {
			s.send(wireproto.ConnectionTimestampsMessage(s.activeReqConnID, wireproto.ConnectionTimestamps{
				MinTm: r.Min, MaxTm: r.Max, Now: r.Now,
			}))
		}
	case <-time.After(queryTimeout):
	}
}
