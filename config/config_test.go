package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("DefaultConfig() is invalid: %v", err)
	}
}

func TestValidateRejectsSharedDBPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrivateDBPath = cfg.ChainDBPath
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject identical chain/private db paths")
	}
}

func TestValidateRejectsBadListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "not-an-addr"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject a malformed listen address")
	}
}

func TestValidateRejectsZeroTunables(t *testing.T) {
	base := DefaultConfig()

	cfg := base
	cfg.MaxPeers = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject max_peers=0")
	}

	cfg = base
	cfg.SyncBatchSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject sync_batch_size=0")
	}

	cfg = base
	cfg.MaxMessageSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected Validate to reject max_message_size=0")
	}
}

func TestNormalizePeerSeedsDedupesAndFlattens(t *testing.T) {
	got := NormalizePeerSeeds("10.0.0.1:7700,10.0.0.2:7700", "10.0.0.1:7700", " 10.0.0.3:7700 ")
	want := []string{"10.0.0.1:7700", "10.0.0.2:7700", "10.0.0.3:7700"}
	if len(got) != len(want) {
		t.Fatalf("NormalizePeerSeeds() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NormalizePeerSeeds()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
