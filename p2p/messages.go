// Package p2p implements the framed wire protocol between ledger nodes:
// message encoding/decoding, the length-prefixed transport envelope, and
// per-peer connection state. Message shapes and tag numbers are fixed by
// protocol version (§6) and must not be renumbered.
package p2p

import (
	"fmt"

	"github.com/geofmureithi/ubu-block/ledger"
	"github.com/geofmureithi/ubu-block/wire"
)

// Tag is the fixed u32 variant discriminator prefixing every encoded
// Message. These values are a compatibility-critical surface.
type Tag uint32

const (
	TagHello               Tag = 0
	TagHelloResponse       Tag = 1
	TagBlockAnnouncement   Tag = 2
	TagBlockRequest        Tag = 3
	TagBlockResponse       Tag = 4
	TagChainHeightRequest  Tag = 5
	TagChainHeightResponse Tag = 6
	TagGetBlocks           Tag = 7
	TagBlocksResponse      Tag = 8
	TagGetPeers            Tag = 9
	TagPeersResponse       Tag = 10
	TagPing                Tag = 11
	TagPong                Tag = 12
	TagDisconnect          Tag = 13
)

// Message is implemented by every P2P message variant.
type Message interface {
	Tag() Tag
}

type Hello struct {
	NodeID      string
	Version     uint32
	ChainHeight int64
}

func (Hello) Tag() Tag { return TagHello }

type HelloResponse struct {
	NodeID      string
	Version     uint32
	ChainHeight int64
	Accepted    bool
}

func (HelloResponse) Tag() Tag { return TagHelloResponse }

type BlockAnnouncement struct {
	Block *ledger.Block
}

func (BlockAnnouncement) Tag() Tag { return TagBlockAnnouncement }

type BlockRequest struct {
	Hash [32]byte
}

func (BlockRequest) Tag() Tag { return TagBlockRequest }

type BlockResponse struct {
	Block *ledger.Block // nil if not found
}

func (BlockResponse) Tag() Tag { return TagBlockResponse }

type ChainHeightRequest struct{}

func (ChainHeightRequest) Tag() Tag { return TagChainHeightRequest }

type ChainHeightResponse struct {
	Height int64
}

func (ChainHeightResponse) Tag() Tag { return TagChainHeightResponse }

type GetBlocks struct {
	StartHeight int64
	Count       uint32
}

func (GetBlocks) Tag() Tag { return TagGetBlocks }

type BlocksResponse struct {
	Blocks []*ledger.Block
}

func (BlocksResponse) Tag() Tag { return TagBlocksResponse }

type GetPeers struct{}

func (GetPeers) Tag() Tag { return TagGetPeers }

type PeersResponse struct {
	Peers []string
}

func (PeersResponse) Tag() Tag { return TagPeersResponse }

type Ping struct{}

func (Ping) Tag() Tag { return TagPing }

type Pong struct{}

func (Pong) Tag() Tag { return TagPong }

type Disconnect struct {
	Reason string
}

func (Disconnect) Tag() Tag { return TagDisconnect }

// Encode canonically encodes m: a u32 tag, then the variant's fields in
// the order given in §6.
func Encode(m Message) []byte {
	w := wire.NewWriter()
	w.PutUint32(uint32(m.Tag()))
	switch v := m.(type) {
	case Hello:
		w.PutString(v.NodeID)
		w.PutUint32(v.Version)
		w.PutInt64(v.ChainHeight)
	case HelloResponse:
		w.PutString(v.NodeID)
		w.PutUint32(v.Version)
		w.PutInt64(v.ChainHeight)
		putBool(w, v.Accepted)
	case BlockAnnouncement:
		w.PutBytes(ledger.EncodeBlock(v.Block))
	case BlockRequest:
		w.PutRaw(v.Hash[:])
	case BlockResponse:
		putOptionalBlock(w, v.Block)
	case ChainHeightRequest:
		// no fields
	case ChainHeightResponse:
		w.PutInt64(v.Height)
	case GetBlocks:
		w.PutInt64(v.StartHeight)
		w.PutUint32(v.Count)
	case BlocksResponse:
		w.PutUint32(uint32(len(v.Blocks)))
		for _, b := range v.Blocks {
			w.PutBytes(ledger.EncodeBlock(b))
		}
	case GetPeers:
		// no fields
	case PeersResponse:
		w.PutUint32(uint32(len(v.Peers)))
		for _, p := range v.Peers {
			w.PutString(p)
		}
	case Ping:
		// no fields
	case Pong:
		// no fields
	case Disconnect:
		w.PutString(v.Reason)
	default:
		panic(fmt.Sprintf("p2p: Encode: unhandled message type %T", m))
	}
	return w.Bytes()
}

func putBool(w *wire.Writer, b bool) {
	if b {
		w.PutByte(1)
	} else {
		w.PutByte(0)
	}
}

func putOptionalBlock(w *wire.Writer, b *ledger.Block) {
	if b == nil {
		w.PutByte(0)
		return
	}
	w.PutByte(1)
	w.PutBytes(ledger.EncodeBlock(b))
}

// Decode parses a Message from its canonical encoding, dispatching on
// the leading tag.
func Decode(data []byte) (Message, error) {
	r := wire.NewReader(data)
	tagRaw, err := r.Uint32()
	if err != nil {
		return nil, fmt.Errorf("p2p: decode tag: %w", err)
	}
	tag := Tag(tagRaw)

	var msg Message
	switch tag {
	case TagHello:
		nodeID, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode Hello.node_id: %w", err)
		}
		version, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode Hello.version: %w", err)
		}
		height, err := r.Int64()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode Hello.chain_height: %w", err)
		}
		msg = Hello{NodeID: nodeID, Version: version, ChainHeight: height}
	case TagHelloResponse:
		nodeID, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode HelloResponse.node_id: %w", err)
		}
		version, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode HelloResponse.version: %w", err)
		}
		height, err := r.Int64()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode HelloResponse.chain_height: %w", err)
		}
		acceptedByte, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode HelloResponse.accepted: %w", err)
		}
		msg = HelloResponse{NodeID: nodeID, Version: version, ChainHeight: height, Accepted: acceptedByte == 1}
	case TagBlockAnnouncement:
		blockBytes, err := r.Bytes()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode BlockAnnouncement.block: %w", err)
		}
		b, err := ledger.DecodeBlock(blockBytes)
		if err != nil {
			return nil, fmt.Errorf("p2p: decode BlockAnnouncement.block: %w", err)
		}
		msg = BlockAnnouncement{Block: b}
	case TagBlockRequest:
		hashRaw, err := r.Raw(32)
		if err != nil {
			return nil, fmt.Errorf("p2p: decode BlockRequest.hash: %w", err)
		}
		var hash [32]byte
		copy(hash[:], hashRaw)
		msg = BlockRequest{Hash: hash}
	case TagBlockResponse:
		b, err := getOptionalBlock(r)
		if err != nil {
			return nil, fmt.Errorf("p2p: decode BlockResponse.block: %w", err)
		}
		msg = BlockResponse{Block: b}
	case TagChainHeightRequest:
		msg = ChainHeightRequest{}
	case TagChainHeightResponse:
		height, err := r.Int64()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode ChainHeightResponse.height: %w", err)
		}
		msg = ChainHeightResponse{Height: height}
	case TagGetBlocks:
		start, err := r.Int64()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode GetBlocks.start_height: %w", err)
		}
		count, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode GetBlocks.count: %w", err)
		}
		msg = GetBlocks{StartHeight: start, Count: count}
	case TagBlocksResponse:
		count, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode BlocksResponse.count: %w", err)
		}
		blocks := make([]*ledger.Block, count)
		for i := range blocks {
			blockBytes, err := r.Bytes()
			if err != nil {
				return nil, fmt.Errorf("p2p: decode BlocksResponse.blocks[%d]: %w", i, err)
			}
			b, err := ledger.DecodeBlock(blockBytes)
			if err != nil {
				return nil, fmt.Errorf("p2p: decode BlocksResponse.blocks[%d]: %w", i, err)
			}
			blocks[i] = b
		}
		msg = BlocksResponse{Blocks: blocks}
	case TagGetPeers:
		msg = GetPeers{}
	case TagPeersResponse:
		count, err := r.Uint32()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode PeersResponse.count: %w", err)
		}
		peers := make([]string, count)
		for i := range peers {
			addr, err := r.String()
			if err != nil {
				return nil, fmt.Errorf("p2p: decode PeersResponse.peers[%d]: %w", i, err)
			}
			peers[i] = addr
		}
		msg = PeersResponse{Peers: peers}
	case TagPing:
		msg = Ping{}
	case TagPong:
		msg = Pong{}
	case TagDisconnect:
		reason, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("p2p: decode Disconnect.reason: %w", err)
		}
		msg = Disconnect{Reason: reason}
	default:
		return nil, fmt.Errorf("p2p: unknown message tag %d", tagRaw)
	}

	if !r.Done() {
		return nil, fmt.Errorf("p2p: trailing bytes after decoding message tag %d", tagRaw)
	}
	return msg, nil
}

func getOptionalBlock(r *wire.Reader) (*ledger.Block, error) {
	flag, err := r.Byte()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		return nil, nil
	}
	blockBytes, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	return ledger.DecodeBlock(blockBytes)
}
