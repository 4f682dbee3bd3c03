package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/geofmureithi/ubu-block/config"
	"github.com/geofmureithi/ubu-block/crypto"
	"github.com/geofmureithi/ubu-block/ledger"
	"github.com/geofmureithi/ubu-block/node"
	"github.com/geofmureithi/ubu-block/store"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := config.DefaultConfig()
	var peerFlags multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("ledger-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	peerCSV := fs.String("peers", "", "peer seeds, comma-separated host:port")
	fs.Var(&peerFlags, "peer", "single peer seed host:port (repeatable)")
	fs.StringVar(&cfg.ChainDBPath, "chain-db", defaults.ChainDBPath, "path to the chain database")
	fs.StringVar(&cfg.PrivateDBPath, "private-db", defaults.PrivateDBPath, "path to the private key database")
	fs.StringVar(&cfg.ListenAddr, "listen", defaults.ListenAddr, "listen address host:port")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", defaults.PingInterval, "peer keep-alive interval")
	fs.DurationVar(&cfg.ConnTimeout, "connection-timeout", defaults.ConnTimeout, "dial/handshake timeout")
	fs.IntVar(&cfg.SyncBatchSize, "sync-batch-size", defaults.SyncBatchSize, "blocks requested per sync batch")
	generateGenesis := fs.Bool("init-genesis", false, "generate a local signing key and genesis block if the store is empty")
	initLabel := fs.String("init-label", "bootstrap", "creator_label recorded for a freshly generated signing key")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.PeerSeeds = config.NormalizePeerSeeds(append([]string{*peerCSV}, peerFlags...)...)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := printConfig(stdout, cfg); err != nil {
		fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	st, err := store.Open(cfg.ChainDBPath, cfg.PrivateDBPath)
	if err != nil {
		fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 2
	}
	defer st.Close()

	if err := st.ValidateChain(); err != nil {
		fmt.Fprintf(stderr, "existing chain failed validation: %v\n", err)
		return 2
	}

	height, err := st.Height()
	if err != nil {
		fmt.Fprintf(stderr, "height read failed: %v\n", err)
		return 2
	}
	if height < 0 {
		if !*generateGenesis {
			fmt.Fprintln(stderr, "store is empty; pass -init-genesis to bootstrap a local signing key and genesis block")
			return 2
		}
		if err := bootstrapGenesis(st, *initLabel, stdout); err != nil {
			fmt.Fprintf(stderr, "genesis bootstrap failed: %v\n", err)
			return 2
		}
	}

	height, err = st.Height()
	if err != nil {
		fmt.Fprintf(stderr, "height read failed: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "store: height=%d\n", height)

	nodeID := uuid.NewString()
	engine := node.New(cfg, st, nodeID, stdout, stderr)

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		fmt.Fprintf(stderr, "listen failed: %v\n", err)
		return 2
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go engine.RunMaintenance(ctx)
	go func() {
		if err := engine.Serve(ctx, listener); err != nil {
			fmt.Fprintf(stderr, "serve: %v\n", err)
		}
	}()
	for _, seed := range cfg.PeerSeeds {
		if err := engine.Dial(ctx, seed); err != nil {
			fmt.Fprintf(stderr, "dial %s failed: %v\n", seed, err)
		}
	}

	fmt.Fprintf(stdout, "ledger-node listening on %s node_id=%s\n", cfg.ListenAddr, nodeID)
	<-ctx.Done()
	fmt.Fprintln(stdout, "ledger-node stopped")
	return 0
}

// bootstrapGenesis generates a fresh signing key pair and the unique
// genesis block for an empty store. Production key custody/rotation is
// out of scope here; this exists only so the node can start from zero
// without a separate provisioning tool.
func bootstrapGenesis(st *store.Store, label string, stdout io.Writer) error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	now := time.Now()
	signer := ledger.NewSigner(kp, label, 0, now)
	if err := st.AddPublicKey(signer.Record); err != nil {
		return fmt.Errorf("add public key: %w", err)
	}
	if err := st.AddPrivateKey(ledger.PrivateKeyRecord{
		KeyID:           signer.Record.KeyID,
		PrivateKeyBytes: crypto.EncodePrivateKey(kp.Private),
		TimeAdded:       now,
	}); err != nil {
		return fmt.Errorf("add private key: %w", err)
	}
	g, err := ledger.Genesis(signer, []byte(label), now)
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	if err := st.AddBlock(g); err != nil {
		return fmt.Errorf("commit genesis: %w", err)
	}
	fmt.Fprintf(stdout, "genesis bootstrapped: key_id=%x hash=%x\n", signer.Record.KeyID, g.Hash)
	return nil
}

func printConfig(w io.Writer, cfg config.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
