package cli

import (
	"fmt"
	"io"

	"github.com/skworld/advocate/internal/advocate"
	"github.com/skworld/advocate/internal/alert"
	"github.com/skworld/advocate/internal/approval"
	"github.com/skworld/advocate/internal/audit"
	"github.com/skworld/advocate/internal/envelope"
	"github.com/skworld/advocate/internal/identity"
	"github.com/skworld/advocate/internal/negotiation"
	"github.com/skworld/advocate/internal/policy"
	"github.com/skworld/advocate/internal/threat"
	"github.com/skworld/advocate/internal/token"
	"github.com/skworld/advocate/internal/transport"
)

// runtime is the fully wired advocate stack shared by serve, mcp and the
// offline inbox/request commands.
type runtime struct {
	cfg      *config
	keys     *identity.Keyring
	engine   *advocate.Engine
	maildrop *transport.Maildrop

	closers []io.Closer
}

// buildRuntime assembles the engine from the home directory. Call Close
// when done.
func buildRuntime(cfg *config) (*runtime, error) {
	keys, err := identity.LoadKeyring(cfg.keyringPath())
	if err != nil {
		return nil, fmt.Errorf("no identity at %s (run: advocated keygen): %w", cfg.keyringPath(), err)
	}

	registry, err := identity.Load(cfg.registryPath())
	if err != nil {
		return nil, err
	}
	// The local identity always resolves, so outbound envelopes can be
	// sealed without a self entry in the registry file.
	registry.Register(keys.URI, keys.SigningPublic(), keys.BoxPublic)

	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.policyPath())
	if err != nil {
		return nil, err
	}
	policyEngine, err := policy.NewEngine(policyCfg)
	if err != nil {
		return nil, err
	}

	threatCfg, err := threat.LoadConfig(cfg.threatPath())
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, keys: keys}

	ledger, err := token.OpenLedger(cfg.ledgerPath())
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, ledger)

	dedup, err := advocate.OpenDedup(cfg.dedupPath())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, dedup)

	approvals, err := approval.NewStore(cfg.pendingDir())
	if err != nil {
		rt.Close()
		return nil, err
	}

	auditLog, err := audit.Open(cfg.auditPath())
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, auditLog)

	alertConfigs, err := alert.LoadConfigs(cfg.alertsPath())
	if err != nil {
		rt.Close()
		return nil, err
	}

	maildrop, err := transport.NewMaildrop(cfg.MaildropRoot)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.maildrop = maildrop

	engine, err := advocate.New(advocate.Options{
		Owner:      keys.URI,
		Codec:      envelope.NewCodec(keys, registry),
		Scorer:     threat.NewScorer(threatCfg),
		Policy:     policyEngine,
		PolicyHash: policyHash,
		Sessions:   negotiation.NewManager(policyEngine, cfg.EscalationTimeout, logger),
		Issuer:     token.NewIssuer(keys, ledger),
		Dedup:      dedup,
		Approvals:  approvals,
		AuditLog:   auditLog,
		Alerts:     alert.NewDispatcher(alertConfigs),
		Notifier:   maildrop,
		Log:        logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

// Close releases the ledger, dedup store and audit log.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		_ = r.closers[i].Close()
	}
}
