package p2p

import (
	"fmt"
	"io"

	"github.com/geofmureithi/ubu-block/ledgererr"
	"github.com/geofmureithi/ubu-block/wire"
)

// ReadMessage reads one length-prefixed frame from r and decodes it into
// a Message, rejecting frames larger than maxMessageSize.
func ReadMessage(r io.Reader, maxMessageSize uint32) (Message, error) {
	frame, err := wire.ReadFrame(r, maxMessageSize)
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.FramingError, "read frame: %v", err)
	}
	msg, err := Decode(frame)
	if err != nil {
		return nil, ledgererr.Newf(ledgererr.PeerProtocol, "decode message: %v", err)
	}
	return msg, nil
}

// WriteMessage encodes m and writes it to w as one length-prefixed frame.
func WriteMessage(w io.Writer, m Message) error {
	payload := Encode(m)
	if len(payload) > wire.MaxFrame {
		return ledgererr.Newf(ledgererr.MessageTooLarge, "encoded message is %d bytes", len(payload))
	}
	if err := wire.WriteFrame(w, payload); err != nil {
		return ledgererr.Newf(ledgererr.FramingError, "write frame: %v", err)
	}
	return nil
}

// Describe renders a short, log-friendly label for a message, used by
// the replication engine's diagnostic output.
func Describe(m Message) string {
	switch v := m.(type) {
	case Hello:
		return fmt.Sprintf("Hello{node=%s height=%d}", v.NodeID, v.ChainHeight)
	case HelloResponse:
		return fmt.Sprintf("HelloResponse{node=%s accepted=%v}", v.NodeID, v.Accepted)
	case BlockAnnouncement:
		return fmt.Sprintf("BlockAnnouncement{height=%d}", v.Block.Height)
	case BlockRequest:
		return "BlockRequest"
	case BlockResponse:
		return "BlockResponse"
	case ChainHeightRequest:
		return "ChainHeightRequest"
	case ChainHeightResponse:
		return fmt.Sprintf("ChainHeightResponse{height=%d}", v.Height)
	case GetBlocks:
		return fmt.Sprintf("GetBlocks{start=%d count=%d}", v.StartHeight, v.Count)
	case BlocksResponse:
		return fmt.Sprintf("BlocksResponse{n=%d}", len(v.Blocks))
	case GetPeers:
		return "GetPeers"
	case PeersResponse:
		return fmt.Sprintf("PeersResponse{n=%d}", len(v.Peers))
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	case Disconnect:
		return fmt.Sprintf("Disconnect{reason=%q}", v.Reason)
	default:
		return "Message(?)"
	}
}
