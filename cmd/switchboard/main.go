package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/switchboard-run/switchboard/pkg/approval"
	"github.com/switchboard-run/switchboard/pkg/audit"
	"github.com/switchboard-run/switchboard/pkg/cartridge"
	"github.com/switchboard-run/switchboard/pkg/config"
	"github.com/switchboard-run/switchboard/pkg/crypto"
	"github.com/switchboard-run/switchboard/pkg/escalation/ceremony"
	"github.com/switchboard-run/switchboard/pkg/guard"
	"github.com/switchboard-run/switchboard/pkg/guardrail"
	"github.com/switchboard-run/switchboard/pkg/identity"
	"github.com/switchboard-run/switchboard/pkg/notify"
	"github.com/switchboard-run/switchboard/pkg/observability"
	"github.com/switchboard-run/switchboard/pkg/orchestrator"
	"github.com/switchboard-run/switchboard/pkg/policy"
	"github.com/switchboard-run/switchboard/pkg/risk"
	"github.com/switchboard-run/switchboard/pkg/rules"
	"github.com/switchboard-run/switchboard/pkg/schemas"
	"github.com/switchboard-run/switchboard/pkg/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests.
var startServer = runServer

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "health":
		return runHealthCmd(stdout, stderr)
	case "doctor":
		return runDoctorCmd(stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, "switchboard v0.1.0")
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if len(args[1]) > 0 && args[1][0] == '-' {
			startServer()
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Switchboard")
	fmt.Fprintln(w, "A proposal passes. The spine disposes.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  switchboard <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "COMMANDS:")
	fmt.Fprintln(w, "  server    Run the orchestrator HTTP server (default)")
	fmt.Fprintln(w, "  doctor    Check system health and configuration")
	fmt.Fprintln(w, "  health    Check a running server's health (HTTP)")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w, "  help      Show this help")
	fmt.Fprintln(w, "")
}

func runHealthCmd(out, errOut io.Writer) int {
	resp, err := http.Get("http://localhost:8081/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Fprintln(out, "OK")
	return 0
}

func runDoctorCmd(out, errOut io.Writer) int {
	cfg := config.Load()
	fmt.Fprintf(out, "switchboard doctor\n")
	fmt.Fprintf(out, "  port:            %s\n", cfg.Port)
	fmt.Fprintf(out, "  log level:       %s\n", cfg.LogLevel)
	fmt.Fprintf(out, "  simulate-only:   %v\n", cfg.SimulateOnly)
	fmt.Fprintf(out, "  idempotency ttl: %s\n", cfg.IdempotencyTTL)
	fmt.Fprintf(out, "  undo window:     %s\n", cfg.UndoWindow)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(errOut, "  database:        FAIL (%v)\n", err)
		return 1
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(out, "  database:        unreachable, will fall back to embedded sqlite (%v)\n", err)
		return 0
	}
	fmt.Fprintf(out, "  database:        OK\n")
	return 0
}

// buildServices wires every package into one Orchestrator. Envelopes go to
// an embedded SQLite file (switchboard.db) whenever it opens, whatever
// DATABASE_URL says; the audit chain goes to Postgres when DATABASE_URL
// answers a ping; every other store, and any store whose backend fails to
// open, is in memory (store.NewMemory).
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*orchestrator.Orchestrator, *approval.StateMachine, error) {
	mem := store.NewMemory()

	var envelopes store.EnvelopeStore = mem.Envelopes
	var auditStore store.AuditStore = mem.Audit

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pingErr := db.PingContext(pingCtx)
		cancel()
		if pingErr == nil {
			logger.Info("connected to postgres", "url_scheme", "postgres")
			if pas, paErr := store.NewPostgresAuditStore(db); paErr == nil {
				auditStore = pas
			} else {
				logger.Warn("postgres audit store init failed, using in-memory audit", "error", paErr)
			}
		} else {
			db.Close()
			logger.Info("database unreachable, falling back to embedded sqlite + in-memory stores", "error", pingErr)
		}
	}

	if sqliteDB, sqErr := sql.Open("sqlite", "switchboard.db"); sqErr == nil {
		if ses, seErr := store.NewSQLiteEnvelopeStore(sqliteDB); seErr == nil {
			envelopes = ses
		} else {
			logger.Warn("sqlite envelope store init failed, using in-memory envelopes", "error", seErr)
		}
	}

	evaluator, err := rules.NewEvaluator()
	if err != nil {
		return nil, nil, err
	}

	gr := guardrail.New(guardrail.NewMemoryCounters())
	engine := policy.NewEngine(evaluator, gr, risk.DefaultConfig())

	redactor, err := audit.NewRedactor(nil)
	if err != nil {
		return nil, nil, err
	}
	ledger := audit.NewLedger(auditStore, redactor)

	registry := cartridge.NewRegistry()

	idemCache := guard.NewMemoryIdempotencyCache(time.Now)
	g := guard.New(idemCache, guard.DefaultConfig())

	composite := notify.NewComposite()

	stores := orchestrator.Stores{
		Envelopes:   envelopes,
		Approvals:   mem.Approvals,
		Identities:  mem.Identities,
		Competences: mem.Competence,
	}

	// A region's RegionalProfile, when configured (PROFILES_DIR + REGION),
	// overrides the default ceremony minimums with its own jurisdiction-specific
	// thresholds; otherwise fall back to the strict built-in policy.
	ceremonyPolicy := ceremony.StrictPolicy()
	if cfg.Profile != nil {
		ceremonyPolicy = cfg.Profile.Ceremony.ToCeremonyPolicy()
		logger.Info("loaded regional profile", "region", cfg.Region, "outbound_mode", cfg.Profile.Networking.OutboundMode)
	}

	orchCfg := orchestrator.Config{
		Registry:       registry,
		PolicyEngine:   engine,
		Guard:          g,
		Guardrail:      gr,
		Notifier:       composite,
		SystemPosture:  schemas.PostureNormal,
		IdempotencyTTL: cfg.IdempotencyTTL,
		UndoWindow:     cfg.UndoWindow,
		Now:            time.Now,
		IDs:            orchestrator.DefaultIDs(),
		Approvers: func(ctx context.Context, principalID, organizationID, actionType string) (orchestrator.ApproverSet, error) {
			return orchestrator.ApproverSet{Approvers: []string{"org-admin"}}, nil
		},
		CeremonyPolicy: ceremonyPolicy,
	}

	orch := orchestrator.New(stores, ledger, orchCfg)
	sm := approval.NewStateMachine(mem.Approvals)
	return orch, sm, nil
}

// executeHTTPRequest is the wire shape for POST /v1/actions:execute,
// mirroring orchestrator.ExecuteRequest's caller-supplied fields (spec §4.6).
type executeHTTPRequest struct {
	PrincipalID      string                `json:"principalId"`
	OrganizationID   string                `json:"organizationId"`
	Proposal         schemas.ActionProposal `json:"proposal"`
	TraceID          string                `json:"traceId"`
	IdempotencyKey   string                `json:"idempotencyKey"`
}

// newExecuteHandler exposes Orchestrator.Execute over HTTP — the thin
// transport layer the orchestrator itself deliberately stays agnostic of.
// Every call must carry a bearer token signed by tokens' keyset; the token's
// subject must match the caller-supplied principal id (spec §6 external
// interfaces: "principal bearer-token verification at the HTTP boundary").
func newExecuteHandler(orch *orchestrator.Orchestrator, tokens *identity.TokenManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		claims, err := authenticate(tokens, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		var req executeHTTPRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if claims.Subject != req.PrincipalID {
			http.Error(w, "token subject does not match principalId", http.StatusForbidden)
			return
		}

		resp, err := orch.Execute(r.Context(), orchestrator.ExecuteRequest{
			PrincipalID:    req.PrincipalID,
			OrganizationID: req.OrganizationID,
			Proposal:       req.Proposal,
			TraceID:        req.TraceID,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// authenticate extracts and validates the bearer token from the
// Authorization header, returning the caller's identity claims.
func authenticate(tokens *identity.TokenManager, r *http.Request) (*identity.IdentityClaims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, fmt.Errorf("missing bearer token")
	}
	return tokens.ValidateToken(strings.TrimPrefix(header, prefix))
}

func runServer() {
	fmt.Fprintln(os.Stdout, "Switchboard starting...")
	ctx := context.Background()
	logger := slog.Default()
	cfg := config.Load()

	prov, err := observability.New(ctx, &observability.Config{
		ServiceName: "switchboard",
		Enabled:     false,
	})
	if err != nil {
		log.Fatalf("failed to init observability: %v", err)
	}
	defer prov.Shutdown(ctx)

	keySet, err := identity.NewInMemoryKeySet()
	if err != nil {
		log.Fatalf("failed to init keyset: %v", err)
	}
	tokens := identity.NewTokenManager(keySet)

	if cfg.CredentialEncryptionKey != "" {
		if _, err := crypto.NewCredentialCipher([]byte(cfg.CredentialEncryptionKey)); err != nil {
			log.Fatalf("failed to init credential cipher: %v", err)
		}
		logger.Info("credential-at-rest encryption enabled")
	} else {
		logger.Warn("CREDENTIAL_ENCRYPTION_KEY not set, cartridge credentials will not be encrypted at rest")
	}

	orch, sm, err := buildServices(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to wire services: %v", err)
	}
	_ = sm // no HTTP route of this server serves approvals (out of SPEC_FULL.md's API scope)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "0.1.0"})
	})
	mux.HandleFunc("/v1/actions:execute", newExecuteHandler(orch, tokens))

	go func() {
		log.Printf("[switchboard] health server: :8081")
		//nolint:gosec // intentionally listening on all interfaces
		if err := http.ListenAndServe(":8081", mux); err != nil {
			log.Printf("[switchboard] health server error: %v", err)
		}
	}()

	log.Println("[switchboard] ready")
	log.Println("[switchboard] press ctrl+c to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[switchboard] shutting down")
}
