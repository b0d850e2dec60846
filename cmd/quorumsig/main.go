package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/storacha/go-ucanto/principal/ed25519/signer"

	"github.com/relves/quorumsig/internal/config"
	"github.com/relves/quorumsig/internal/storage"
	"github.com/relves/quorumsig/internal/storage/memory"
	"github.com/relves/quorumsig/internal/storage/sqlite"
	"github.com/relves/quorumsig/pkg/address"
	"github.com/relves/quorumsig/pkg/audit"
	"github.com/relves/quorumsig/pkg/bridge"
	"github.com/relves/quorumsig/pkg/multisig"
	"github.com/relves/quorumsig/pkg/server"
	"github.com/relves/quorumsig/pkg/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	priv, ephemeral, err := cfg.LoadKey()
	if err != nil {
		logger.Error("failed to load keys", "error", err)
		os.Exit(1)
	}

	// The service signer's DID is the program identity.
	serviceSigner, err := signer.FromRaw(priv)
	if err != nil {
		logger.Error("failed to create service signer", "error", err)
		os.Exit(1)
	}
	program := address.Address(serviceSigner.DID().String())

	auditSigner, err := audit.NewEd25519Signer(priv, cfg.AuditOrigin)
	if err != nil {
		logger.Error("failed to create audit signer", "error", err)
		os.Exit(1)
	}

	ledger, err := openLedger(cfg)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	ctx := context.Background()
	if err := credit(ctx, ledger, cfg.Genesis()); err != nil {
		logger.Error("failed to apply genesis balances", "error", err)
		os.Exit(1)
	}

	auditLog := audit.NewLog(cfg.AuditOrigin, auditSigner)

	runtime := bridge.NewRuntime(logger)
	runtime.Register(bridge.SystemProgramID, bridge.SystemProgram{})
	processor := multisig.NewProcessor(program, runtime,
		multisig.WithAuditLog(auditLog),
		multisig.WithLogger(logger),
	)
	runtime.Register(program, processor)

	svc, err := service.New(service.Config{
		Ledger:    ledger,
		Processor: processor,
		Audit:     auditLog,
		CacheSize: cfg.ProposalCacheSize,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	ucantoServer, err := server.NewServer(
		server.WithSigner(serviceSigner),
		server.WithService(svc),
		server.WithLogger(logger),
	)
	if err != nil {
		logger.Error("failed to create ucanto server", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /", server.NewRPCHandler(ucantoServer))
	server.NewHTTPHandler(svc).Register(mux)

	port := cfg.Port
	addr := ":" + port

	fmt.Println("QUORUMSIG Service Startup")
	fmt.Println("===================================")
	fmt.Printf("Program DID: %s\n", program)
	fmt.Printf("Public Key (hex): %s\n", hex.EncodeToString(auditSigner.PublicKey()))
	if ephemeral {
		fmt.Println("Key Source: Ephemeral (generated on startup)")
	} else {
		fmt.Println("Key Source: QUORUMSIG_PRIVATE_KEY environment variable")
	}
	fmt.Printf("Ledger Backend: %s\n", cfg.LedgerBackend)
	fmt.Printf("Audit Log: %s (key %s)\n", cfg.AuditOrigin, auditSigner.Name())
	fmt.Println()
	fmt.Println("UCAN RPC Endpoint (authenticated):")
	fmt.Printf("  POST http://localhost:%s/\n", port)
	fmt.Println()
	fmt.Println("UCAN Capabilities:")
	fmt.Println("  multisig/create   - Create a group (resource funds it)")
	fmt.Println("  multisig/propose  - Propose an operation (resource funds it)")
	fmt.Println("  multisig/approve  - Approve a proposal (resource is the owner)")
	fmt.Println("  multisig/execute  - Execute an approved proposal")
	fmt.Println()
	fmt.Println("Query API:")
	fmt.Printf("  GET http://localhost:%s/groups/{address}\n", port)
	fmt.Printf("  GET http://localhost:%s/groups/{address}/pending\n", port)
	fmt.Printf("  GET http://localhost:%s/proposals/{address}\n", port)
	fmt.Printf("  GET http://localhost:%s/balances/{address}\n", port)
	fmt.Printf("  GET http://localhost:%s/derive/{group|proposal}/{seed}\n", port)
	fmt.Printf("  GET http://localhost:%s/derive/authority/{group}\n", port)
	fmt.Println()
	fmt.Println("Audit API:")
	fmt.Printf("  GET http://localhost:%s/audit/checkpoint\n", port)
	fmt.Printf("  GET http://localhost:%s/audit/entries/{index}\n", port)
	fmt.Printf("  GET http://localhost:%s/audit/proof/{index}\n", port)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func openLedger(cfg config.Config) (storage.Ledger, error) {
	if cfg.LedgerBackend == config.BackendMemory {
		return memory.New(memory.WithRent(cfg.Rent())), nil
	}
	l, err := sqlite.Open(cfg.DataPath, sqlite.WithRent(cfg.Rent()))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func credit(ctx context.Context, ledger storage.Ledger, grants []config.Grant) error {
	if len(grants) == 0 {
		return nil
	}
	return ledger.Update(ctx, func(tx storage.Tx) error {
		for _, g := range grants {
			if err := tx.Credit(ctx, g.Address, g.Amount); err != nil {
				return err
			}
			slog.Info("genesis credit", "address", g.Address, "amount", g.Amount)
		}
		return nil
	})
}
