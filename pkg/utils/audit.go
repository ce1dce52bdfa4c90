package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditConfig controls audit log construction
type AuditConfig struct {
	Logger    *Logger
	NodeID    string
	ChainSeed string // seed for the tamper-evidence hash chain
}

// AuditLogger emits structured audit events with a rolling hash chain so
// record removal or reordering is detectable downstream.
type AuditLogger struct {
	log    *Logger
	nodeID string

	mu       sync.Mutex
	prevHash [32]byte
	seq      uint64
}

// NewAuditLogger creates an audit logger bound to a structured logger
func NewAuditLogger(cfg *AuditConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = &AuditConfig{}
	}
	log := cfg.Logger
	if log == nil {
		var err error
		log, err = NewLogger(DefaultLogConfig())
		if err != nil {
			return nil, err
		}
	}
	a := &AuditLogger{
		log:    log,
		nodeID: cfg.NodeID,
	}
	a.prevHash = sha256.Sum256([]byte(cfg.ChainSeed))
	return a, nil
}

func (a *AuditLogger) Info(event string, fields map[string]interface{}) error {
	return a.emit("info", event, fields)
}

func (a *AuditLogger) Warn(event string, fields map[string]interface{}) error {
	return a.emit("warn", event, fields)
}

func (a *AuditLogger) Error(event string, fields map[string]interface{}) error {
	return a.emit("error", event, fields)
}

// Security records security-relevant events; these are never sampled or dropped
func (a *AuditLogger) Security(event string, fields map[string]interface{}) error {
	return a.emit("security", event, fields)
}

func (a *AuditLogger) emit(severity, event string, fields map[string]interface{}) error {
	a.mu.Lock()
	a.seq++
	seq := a.seq
	payload, _ := json.Marshal(fields)
	h := sha256.New()
	h.Write(a.prevHash[:])
	h.Write([]byte(event))
	h.Write(payload)
	copy(a.prevHash[:], h.Sum(nil))
	chain := hex.EncodeToString(a.prevHash[:8])
	a.mu.Unlock()

	zfields := []zap.Field{
		zap.String("audit_event", event),
		zap.String("severity", severity),
		zap.Uint64("audit_seq", seq),
		zap.String("audit_chain", chain),
		zap.Time("audit_ts", time.Now().UTC()),
	}
	if a.nodeID != "" {
		zfields = append(zfields, zap.String("node_id", a.nodeID))
	}
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}

	switch severity {
	case "warn":
		a.log.Warn("audit", zfields...)
	case "error", "security":
		a.log.Error("audit", zfields...)
	default:
		a.log.Info("audit", zfields...)
	}
	return nil
}
