package p2p

import (
	"bytes"
	"testing"
	"time"

	"github.com/geofmureithi/ubu-block/crypto"
	"github.com/geofmureithi/ubu-block/ledger"
)

func testBlock(t *testing.T) *ledger.Block {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	now := time.Unix(1700000000, 0).UTC()
	signer := ledger.NewSigner(kp, "test-node", 0, now)
	g, err := ledger.Genesis(signer, []byte("SETUP"), now)
	if err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	return g
}

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	encoded := Encode(m)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode(%T): %v", m, err)
	}
	return decoded
}

func TestEncodeDecodeHello(t *testing.T) {
	in := Hello{NodeID: "node-a", Version: 1, ChainHeight: 42}
	out, ok := roundTrip(t, in).(Hello)
	if !ok || out != in {
		t.Fatalf("Hello round trip: got %+v, want %+v", out, in)
	}
}

func TestEncodeDecodeHelloResponse(t *testing.T) {
	in := HelloResponse{NodeID: "node-b", Version: 1, ChainHeight: 7, Accepted: true}
	out, ok := roundTrip(t, in).(HelloResponse)
	if !ok || out != in {
		t.Fatalf("HelloResponse round trip: got %+v, want %+v", out, in)
	}
	rejected := HelloResponse{NodeID: "node-c", Version: 1, ChainHeight: 0, Accepted: false}
	out2, ok := roundTrip(t, rejected).(HelloResponse)
	if !ok || out2.Accepted {
		t.Fatalf("HelloResponse accepted=false did not round trip: %+v", out2)
	}
}

func TestEncodeDecodeBlockAnnouncement(t *testing.T) {
	b := testBlock(t)
	in := BlockAnnouncement{Block: b}
	out, ok := roundTrip(t, in).(BlockAnnouncement)
	if !ok {
		t.Fatalf("wrong type back: %T", out)
	}
	if out.Block.Hash != b.Hash {
		t.Fatalf("BlockAnnouncement round trip hash mismatch")
	}
}

func TestEncodeDecodeBlockRequest(t *testing.T) {
	var hash [32]byte
	hash[0] = 0xAB
	hash[31] = 0xCD
	in := BlockRequest{Hash: hash}
	out, ok := roundTrip(t, in).(BlockRequest)
	if !ok || out.Hash != hash {
		t.Fatalf("BlockRequest round trip mismatch")
	}
}

func TestEncodeDecodeBlockResponseFound(t *testing.T) {
	b := testBlock(t)
	in := BlockResponse{Block: b}
	out, ok := roundTrip(t, in).(BlockResponse)
	if !ok || out.Block == nil || out.Block.Hash != b.Hash {
		t.Fatalf("BlockResponse(found) round trip mismatch")
	}
}

func TestEncodeDecodeBlockResponseNotFound(t *testing.T) {
	in := BlockResponse{Block: nil}
	out, ok := roundTrip(t, in).(BlockResponse)
	if !ok || out.Block != nil {
		t.Fatalf("BlockResponse(not found) round trip mismatch: %+v", out)
	}
}

func TestEncodeDecodeChainHeight(t *testing.T) {
	reqOut, ok := roundTrip(t, ChainHeightRequest{}).(ChainHeightRequest)
	if !ok {
		t.Fatalf("ChainHeightRequest round trip type mismatch")
	}
	_ = reqOut

	in := ChainHeightResponse{Height: 99}
	out, ok := roundTrip(t, in).(ChainHeightResponse)
	if !ok || out != in {
		t.Fatalf("ChainHeightResponse round trip mismatch: %+v", out)
	}
}

func TestEncodeDecodeGetBlocks(t *testing.T) {
	in := GetBlocks{StartHeight: 5, Count: 100}
	out, ok := roundTrip(t, in).(GetBlocks)
	if !ok || out != in {
		t.Fatalf("GetBlocks round trip mismatch: %+v", out)
	}
}

func TestEncodeDecodeBlocksResponse(t *testing.T) {
	b1 := testBlock(t)
	b2 := testBlock(t)
	in := BlocksResponse{Blocks: []*ledger.Block{b1, b2}}
	out, ok := roundTrip(t, in).(BlocksResponse)
	if !ok || len(out.Blocks) != 2 {
		t.Fatalf("BlocksResponse round trip mismatch: %+v", out)
	}
	if out.Blocks[0].Hash != b1.Hash || out.Blocks[1].Hash != b2.Hash {
		t.Fatalf("BlocksResponse element mismatch")
	}
}

func TestEncodeDecodeBlocksResponseEmpty(t *testing.T) {
	in := BlocksResponse{Blocks: nil}
	out, ok := roundTrip(t, in).(BlocksResponse)
	if !ok || len(out.Blocks) != 0 {
		t.Fatalf("empty BlocksResponse round trip mismatch: %+v", out)
	}
}

func TestEncodeDecodePeers(t *testing.T) {
	_, ok := roundTrip(t, GetPeers{}).(GetPeers)
	if !ok {
		t.Fatalf("GetPeers round trip type mismatch")
	}

	in := PeersResponse{Peers: []string{"10.0.0.1:9000", "10.0.0.2:9000"}}
	out, ok := roundTrip(t, in).(PeersResponse)
	if !ok || len(out.Peers) != 2 || out.Peers[0] != in.Peers[0] || out.Peers[1] != in.Peers[1] {
		t.Fatalf("PeersResponse round trip mismatch: %+v", out)
	}
}

func TestEncodeDecodePingPong(t *testing.T) {
	if _, ok := roundTrip(t, Ping{}).(Ping); !ok {
		t.Fatalf("Ping round trip type mismatch")
	}
	if _, ok := roundTrip(t, Pong{}).(Pong); !ok {
		t.Fatalf("Pong round trip type mismatch")
	}
}

func TestEncodeDecodeDisconnect(t *testing.T) {
	in := Disconnect{Reason: "max_peers exceeded"}
	out, ok := roundTrip(t, in).(Disconnect)
	if !ok || out != in {
		t.Fatalf("Disconnect round trip mismatch: %+v", out)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	encoded := Encode(Ping{})
	encoded = append(encoded, 0xFF)
	if _, err := Decode(encoded); err == nil {
		t.Fatalf("expected Decode to reject trailing bytes")
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	encoded := Encode(Ping{})
	encoded[0] = 0xFF // corrupt the tag byte (little-endian u32, tag 11 -> byte 0x0B at offset 0)
	if _, err := Decode(encoded); err == nil {
		t.Fatalf("expected Decode to reject an unknown tag")
	}
}

func TestDecodeRejectsTruncatedFrame(t *testing.T) {
	encoded := Encode(Hello{NodeID: "x", Version: 1, ChainHeight: 1})
	if _, err := Decode(encoded[:len(encoded)-2]); err == nil {
		t.Fatalf("expected Decode to reject a truncated message")
	}
}

func TestWireMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := Hello{NodeID: "node-a", Version: 1, ChainHeight: 3}
	if err := WriteMessage(&buf, in); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	out, err := ReadMessage(&buf, 1<<20)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	hello, ok := out.(Hello)
	if !ok || hello != in {
		t.Fatalf("wire round trip mismatch: got %+v, want %+v", hello, in)
	}
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	in := Disconnect{Reason: "padding-padding-padding-padding"}
	if err := WriteMessage(&buf, in); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if _, err := ReadMessage(&buf, 4); err == nil {
		t.Fatalf("expected ReadMessage to reject a frame over max_message_size")
	}
}
