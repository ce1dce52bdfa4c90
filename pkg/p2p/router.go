// Package p2p implements the gossip transport the consensus core broadcasts
// proposals and collects votes over. Peer membership is static: the node
// dials the configured bootstrap set and gossipsub meshes over it.
package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

// Handler is the callback signature for delivered messages on a topic
type Handler func(ctx context.Context, from peer.ID, data []byte) error

// RouterConfig holds transport construction parameters
type RouterConfig struct {
	ListenPort     int
	BootstrapAddrs []string
	ConnLow        int
	ConnHigh       int
	MaxMessageSize int
}

// LoadRouterConfig reads transport settings from the config manager
func LoadRouterConfig(cm types.ConfigManager) RouterConfig {
	return RouterConfig{
		ListenPort:     cm.GetInt("P2P_LISTEN_PORT", 8000),
		BootstrapAddrs: cm.GetStringSlice("P2P_BOOTSTRAP_PEERS", nil),
		ConnLow:        cm.GetInt("P2P_CONN_LOW", 4),
		ConnHigh:       cm.GetInt("P2P_CONN_HIGH", 16),
		MaxMessageSize: cm.GetInt("P2P_MAX_MESSAGE_SIZE", MaxProposalSize),
	}
}

// Router owns the libp2p host and the gossipsub mesh. It is message-agnostic;
// vote semantics live in GossipNetwork.
type Router struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    RouterConfig
	log    *utils.Logger
	audit  types.AuditLogger

	host   host.Host
	gossip *pubsub.PubSub

	mu       sync.RWMutex
	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription
	handlers map[string][]Handler
}

// NewRouter builds the host with Noise transport security and strict
// gossipsub message signing, then dials the bootstrap set best-effort.
func NewRouter(parent context.Context, cfg RouterConfig, log *utils.Logger, audit types.AuditLogger) (*Router, error) {
	ctx, cancel := context.WithCancel(parent)

	low, high := cfg.ConnLow, cfg.ConnHigh
	if low <= 0 || high <= low {
		low, high = 4, 16
	}
	cm, err := connmgr.NewConnManager(low, high, connmgr.WithGracePeriod(60*time.Second))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: connmgr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
		libp2p.ConnectionManager(cm),
		libp2p.Security(noise.ID, noise.New),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("p2p: host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithMessageSigning(true),
		pubsub.WithStrictSignatureVerification(true),
		pubsub.WithMaxMessageSize(cfg.MaxMessageSize),
	)
	if err != nil {
		_ = h.Close()
		cancel()
		return nil, fmt.Errorf("p2p: gossipsub: %w", err)
	}

	r := &Router{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		log:      log,
		audit:    audit,
		host:     h,
		gossip:   ps,
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[string]*pubsub.Subscription),
		handlers: make(map[string][]Handler),
	}

	if err := r.dialBootstrapPeers(); err != nil && log != nil {
		log.Warn("bootstrap dialing issues", utils.ZapError(err))
	}

	if audit != nil {
		_ = audit.Info("p2p_router_initialized", map[string]interface{}{
			"peer_id":     h.ID().String(),
			"listen_port": cfg.ListenPort,
			"bootstrap":   len(cfg.BootstrapAddrs),
		})
	}
	if log != nil {
		log.InfoContext(ctx, "p2p router ready",
			utils.ZapString("peer_id", h.ID().String()),
			utils.ZapInt("listen_port", cfg.ListenPort))
	}
	return r, nil
}

func (r *Router) dialBootstrapPeers() error {
	var firstErr error
	for _, raw := range r.cfg.BootstrapAddrs {
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("p2p: bad bootstrap addr %q: %w", raw, err)
			}
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("p2p: bootstrap addr %q: %w", raw, err)
			}
			continue
		}
		dialCtx, cancel := context.WithTimeout(r.ctx, 10*time.Second)
		err = r.host.Connect(dialCtx, *info)
		cancel()
		if err != nil {
			if r.log != nil {
				r.log.Warn("bootstrap peer unreachable",
					utils.ZapString("peer_id", info.ID.String()),
					utils.ZapError(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Subscribe joins a topic and installs an optional handler
func (r *Router) Subscribe(topic string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[topic]
	if !ok {
		joined, err := r.gossip.Join(topic)
		if err != nil {
			return fmt.Errorf("p2p: join %s: %w", topic, err)
		}
		r.topics[topic] = joined
		t = joined
	}
	if _, ok := r.subs[topic]; !ok {
		sub, err := t.Subscribe()
		if err != nil {
			return fmt.Errorf("p2p: subscribe %s: %w", topic, err)
		}
		r.subs[topic] = sub
		go r.consume(topic, sub)
	}
	if handler != nil {
		r.handlers[topic] = append(r.handlers[topic], handler)
	}
	return nil
}

// Publish broadcasts a message on a joined topic
func (r *Router) Publish(ctx context.Context, topic string, data []byte) error {
	if len(data) > r.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes on %s", ErrEnvelopeTooLarge, len(data), topic)
	}
	r.mu.RLock()
	t, ok := r.topics[topic]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("p2p: topic %s not joined", topic)
	}
	return t.Publish(ctx, data)
}

func (r *Router) consume(topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(r.ctx)
		if err != nil {
			return // subscription cancelled or router closed
		}
		if msg.ReceivedFrom == r.host.ID() {
			continue
		}
		r.mu.RLock()
		handlers := r.handlers[topic]
		r.mu.RUnlock()
		for _, h := range handlers {
			if err := h(r.ctx, msg.ReceivedFrom, msg.Data); err != nil && r.log != nil {
				r.log.Debug("message handler rejected payload",
					utils.ZapString("topic", topic),
					utils.ZapString("from", msg.ReceivedFrom.String()),
					utils.ZapError(err))
			}
		}
	}
}

// PeerID returns this node's libp2p identity
func (r *Router) PeerID() peer.ID { return r.host.ID() }

// PeerCount returns the number of connected peers
func (r *Router) PeerCount() int { return len(r.host.Network().Peers()) }

// Close tears down subscriptions, topics, and the host
func (r *Router) Close() error {
	r.cancel()
	r.mu.Lock()
	for _, sub := range r.subs {
		sub.Cancel()
	}
	for _, t := range r.topics {
		_ = t.Close()
	}
	r.subs = make(map[string]*pubsub.Subscription)
	r.topics = make(map[string]*pubsub.Topic)
	r.mu.Unlock()
	return r.host.Close()
}
