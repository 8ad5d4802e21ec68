package wire

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/rs/zerolog"

	"sutragraph/internal/engine"
	"sutragraph/internal/feedback"
	"sutragraph/internal/pathfinder"
	"sutragraph/internal/sutraerr"
	"sutragraph/internal/sutraid"
	"sutragraph/internal/sutralog"
	"sutragraph/internal/writelog"
)

// ServerConfig carries the listener's network and auth posture.
type ServerConfig struct {
	Addr      string
	AuthToken string // empty disables the handshake
	TLSConfig *tls.Config
}

// Server accepts connections, performs the optional TLS/auth handshake,
// and dispatches each frame to the Engine.
type Server struct {
	cfg    ServerConfig
	engine *engine.Engine
	log    zerolog.Logger

	listener net.Listener
}

// NewServer constructs a Server bound to eng. Serve must be called to
// start accepting connections.
func NewServer(cfg ServerConfig, eng *engine.Engine) *Server {
	return &Server{cfg: cfg, engine: eng, log: sutralog.New("wire")}
}

// Serve listens on cfg.Addr and handles connections until ctx is
// canceled or an unrecoverable listener error occurs.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info().Str("addr", s.cfg.Addr).Bool("tls", s.cfg.TLSConfig != nil).Msg("wire server listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if s.cfg.TLSConfig != nil {
		tlsConn := tls.Server(conn, s.cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("tls handshake failed")
			return
		}
		conn = tlsConn
	}

	clientID := conn.RemoteAddr().String()
	if s.cfg.AuthToken != "" {
		ok, err := PerformServerHandshake(conn, s.cfg.AuthToken)
		if err != nil {
			s.log.Warn().Err(err).Msg("auth handshake failed")
			return
		}
		if !ok {
			s.log.Warn().Str("remote", clientID).Msg("auth rejected")
			return
		}
	} else {
		clientID = "__anonymous__"
	}

	br := bufio.NewReader(conn)
	for {
		kind, body, err := ReadFrame(br)
		if err != nil {
			return
		}

		if ok, retryAfter := s.engine.RateLimiter().Allow(clientID); !ok {
			_ = WriteError(conn, sutraerr.New(sutraerr.KindRateLimited, "rate limit exceeded"), retryAfter)
			continue
		}

		if err := s.dispatch(ctx, conn, kind, body); err != nil {
			retryAfter := time.Duration(0)
			if sutraerr.Is(err, sutraerr.KindBackpressure) {
				retryAfter = 100 * time.Millisecond
			}
			if writeErr := WriteError(conn, err, retryAfter); writeErr != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, kind Kind, body []byte) error {
	switch kind {
	case KindHealthCheck:
		return s.handleHealthCheck(ctx, conn, body)
	case KindLearnConceptV2:
		return s.handleLearnConceptV2(ctx, conn, body)
	case KindLearnWithEmbedding:
		return s.handleLearnWithEmbedding(ctx, conn, body)
	case KindQueryConcept:
		return s.handleQueryConcept(ctx, conn, body)
	case KindVectorSearch:
		return s.handleVectorSearch(ctx, conn, body)
	case KindFindPath:
		return s.handleFindPath(ctx, conn, body)
	case KindFindPathsParallel:
		return s.handleFindPathsParallel(ctx, conn, body)
	case KindListRecent:
		return s.handleListRecent(ctx, conn, body)
	case KindFeedback:
		return s.handleFeedback(ctx, conn, body)
	case KindFlush:
		return s.handleFlush(ctx, conn, body)
	case KindStats:
		return s.handleStats(ctx, conn, body)
	case KindListNamespaces:
		return s.handleListNamespaces(conn)
	case KindClearNamespace:
		return s.handleClearNamespace(conn, body)
	default:
		return sutraerr.New(sutraerr.KindProtocolError, "unrecognized request kind")
	}
}

func (s *Server) handleHealthCheck(ctx context.Context, conn net.Conn, body []byte) error {
	var req HealthCheckRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	resp := HealthCheckResponse{Healthy: true, Status: "ok"}
	for _, name := range s.engine.ListNamespaces() {
		ns, err := s.engine.Namespace(ctx, name)
		if err != nil || !ns.ReadOnly() {
			continue
		}
		resp.Healthy = false
		resp.Status = name + ": " + ns.HealthReason()
	}
	return WriteJSON(conn, KindHealthCheck, resp)
}

func (s *Server) handleLearnConceptV2(ctx context.Context, conn net.Conn, body []byte) error {
	var req LearnConceptV2Request
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}

	id := sutraid.FromContent(string(req.Content))
	var vector []float32
	if req.Options.GenerateEmbedding {
		if ns.Embedding() == nil {
			return sutraerr.New(sutraerr.KindInvalidArgument, "no embedding provider configured")
		}
		vector, err = ns.Embedding().GenerateOne(ctx, req.Content)
		if err != nil {
			return err
		}
	}

	entry := writelog.WriteEntry{
		Kind:       writelog.KindWriteConcept,
		ConceptID:  id,
		Content:    req.Content,
		Vector:     vector,
		Strength:   floatPtr(orDefault(req.Options.Strength, 0.5)),
		Confidence: floatPtr(orDefault(req.Options.Confidence, 0.5)),
	}
	if req.Options.ExtractAssociations && ns.Semantic() != nil {
		sem, err := ns.Semantic().Classify(ctx, req.Content)
		if err == nil {
			entry.Semantic = sem
		}
	}

	if _, err := ns.Submit(entry); err != nil {
		return err
	}
	return WriteJSON(conn, KindLearnConceptV2, ConceptIDResponse{ConceptID: id.Hex()})
}

func (s *Server) handleLearnWithEmbedding(ctx context.Context, conn net.Conn, body []byte) error {
	var req LearnWithEmbeddingRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}

	var id sutraid.ConceptId
	if req.ID != "" {
		id, err = sutraid.ParseHex(req.ID)
		if err != nil {
			return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid concept id", err)
		}
	} else {
		id = sutraid.FromContent(string(req.Content))
	}

	entry := writelog.WriteEntry{
		Kind:       writelog.KindWriteConcept,
		ConceptID:  id,
		Content:    req.Content,
		Vector:     req.Embedding,
		Attributes: req.Metadata,
		Strength:   floatPtr(0.5),
		Confidence: floatPtr(0.5),
	}
	if _, err := ns.Submit(entry); err != nil {
		return err
	}
	return WriteJSON(conn, KindLearnWithEmbedding, ConceptIDResponse{ConceptID: id.Hex()})
}

func (s *Server) handleQueryConcept(ctx context.Context, conn net.Conn, body []byte) error {
	var req QueryConceptRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}
	id, err := sutraid.ParseHex(req.ConceptID)
	if err != nil {
		return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid concept id", err)
	}

	ref := ns.Current()
	c, ok := ref.Snapshot().Concepts[id]
	resp := QueryConceptResponse{Found: ok}
	if ok {
		resp.Content = c.Content
		resp.Attributes = c.Attributes
		resp.Strength = c.Strength
		resp.Confidence = c.Confidence
		resp.Vector = c.Vector
	}
	ref.Release()

	if ok {
		_, _ = ns.Submit(writelog.WriteEntry{Kind: writelog.KindRecordAccess, ConceptID: id, DeltaAccess: true})
	}
	return WriteJSON(conn, KindQueryConcept, resp)
}

func (s *Server) handleVectorSearch(ctx context.Context, conn net.Conn, body []byte) error {
	var req VectorSearchRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}
	k := req.K
	if k <= 0 {
		k = 10
	}
	hits := ns.Index().Search(req.QueryVector, k, req.EfSearch)
	resp := VectorSearchResponse{Hits: make([]VectorSearchHit, len(hits))}
	for i, h := range hits {
		resp.Hits[i] = VectorSearchHit{ConceptID: h.ID.Hex(), Similarity: 1 - h.Distance}
	}
	return WriteJSON(conn, KindVectorSearch, resp)
}

func (s *Server) handleFindPath(ctx context.Context, conn net.Conn, body []byte) error {
	var req FindPathRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}
	start, err := sutraid.ParseHex(req.StartID)
	if err != nil {
		return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid start_id", err)
	}
	end, err := sutraid.ParseHex(req.EndID)
	if err != nil {
		return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid end_id", err)
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 6
	}

	ref := ns.Current()
	path, found := pathfinder.FindPath(ref.Snapshot(), start, end, maxDepth)
	ref.Release()

	resp := FindPathResponse{Found: found}
	if found {
		resp.Path = hexAll(path)
	}
	return WriteJSON(conn, KindFindPath, resp)
}

func (s *Server) handleFindPathsParallel(ctx context.Context, conn net.Conn, body []byte) error {
	var req FindPathsParallelRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}
	start, err := sutraid.ParseHex(req.StartID)
	if err != nil {
		return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid start_id", err)
	}
	end, err := sutraid.ParseHex(req.EndID)
	if err != nil {
		return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid end_id", err)
	}
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 6
	}
	k := req.K
	if k <= 0 {
		k = 3
	}

	ref := ns.Current()
	paths, err := pathfinder.FindPathsParallel(ctx, ref.Snapshot(), start, end, k, maxDepth)
	ref.Release()
	if err != nil {
		return err
	}

	resp := FindPathsParallelResponse{Paths: make([][]string, len(paths))}
	for i, p := range paths {
		resp.Paths[i] = hexAll(p)
	}
	return WriteJSON(conn, KindFindPathsParallel, resp)
}

func (s *Server) handleListRecent(ctx context.Context, conn net.Conn, body []byte) error {
	var req ListRecentRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	ref := ns.Current()
	snap := ref.Snapshot()
	all := make([]recentEntry, 0, len(snap.Concepts))
	for id, c := range snap.Concepts {
		all = append(all, recentEntry{id, c.LastAccessedUs})
	}
	insertionSortDesc(all)
	if len(all) > limit {
		all = all[:limit]
	}
	items := make([]ListRecentItem, len(all))
	for i, sc := range all {
		c := snap.Concepts[sc.id]
		items[i] = ListRecentItem{ID: sc.id.Hex(), Preview: preview(c.Content)}
	}
	ref.Release()

	return WriteJSON(conn, KindListRecent, ListRecentResponse{Items: items})
}

func (s *Server) handleFeedback(ctx context.Context, conn net.Conn, body []byte) error {
	var req FeedbackRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}

	ids := make([]sutraid.ConceptId, len(req.ConceptIDs))
	for i, hexID := range req.ConceptIDs {
		id, err := sutraid.ParseHex(hexID)
		if err != nil {
			return sutraerr.Wrap(sutraerr.KindInvalidArgument, "invalid concept id in feedback", err)
		}
		ids[i] = id
	}
	if err := feedback.Process(ids, req.Accepted, req.Ranking, ns); err != nil {
		return sutraerr.Wrap(sutraerr.KindInvalidArgument, "feedback processing failed", err)
	}
	return WriteJSON(conn, KindFeedback, FeedbackResponse{OK: true})
}

func (s *Server) handleFlush(ctx context.Context, conn net.Conn, body []byte) error {
	var req FlushRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	ns, err := s.engine.Namespace(ctx, req.Namespace)
	if err != nil {
		return err
	}
	if err := ns.Flush(); err != nil {
		return err
	}
	return WriteJSON(conn, KindFlush, FlushResponse{OK: true})
}

func (s *Server) handleStats(ctx context.Context, conn net.Conn, body []byte) error {
	var req StatsRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	stats, err := s.engine.Stats(req.Namespace)
	if err != nil {
		return err
	}
	resp := StatsResponse{
		Concepts:         stats.Concepts,
		Edges:            stats.Edges,
		WriteLogPending:  stats.WriteLogPending,
		WriteLogCapacity: stats.WriteLogCapacity,
		HNSWSize:         stats.HNSWSize,
	}
	if ns, err := s.engine.Namespace(ctx, req.Namespace); err == nil {
		resp.ReadOnly = ns.ReadOnly()
		resp.HealthReason = ns.HealthReason()
	}
	return WriteJSON(conn, KindStats, resp)
}

func (s *Server) handleListNamespaces(conn net.Conn) error {
	return WriteJSON(conn, KindListNamespaces, ListNamespacesResponse{Namespaces: s.engine.ListNamespaces()})
}

func (s *Server) handleClearNamespace(conn net.Conn, body []byte) error {
	var req ClearNamespaceRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	if err := s.engine.ClearNamespace(req.Namespace); err != nil {
		return err
	}
	return WriteJSON(conn, KindClearNamespace, ClearNamespaceResponse{OK: true})
}
