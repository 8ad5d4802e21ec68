// cmd/sutractl is the operator/client CLI: a thin cobra wrapper that opens
// a connection to a running sutrad, performs the optional auth handshake,
// and round-trips one wire.Kind request per invocation.
package main

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"sutragraph/internal/wire"
)

var (
	addr      string
	namespace string
	authToken string
	useTLS    bool
	timeout   time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "sutractl",
		Short: "Command-line client for a running sutrad instance",
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("SUTRACTL_ADDR", "localhost:7420"), "sutrad wire address")
	root.PersistentFlags().StringVar(&namespace, "namespace", "", "target namespace (default namespace if empty)")
	root.PersistentFlags().StringVar(&authToken, "token", os.Getenv("SUTRACTL_TOKEN"), "auth token, if the server requires one")
	root.PersistentFlags().BoolVar(&useTLS, "tls", os.Getenv("SUTRACTL_TLS") == "true", "wrap the connection in TLS")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "round-trip timeout")

	root.AddCommand(
		healthCmd(),
		learnCmd(),
		queryCmd(),
		searchCmd(),
		pathCmd(),
		recentCmd(),
		flushCmd(),
		statsCmd(),
		namespacesCmd(),
		clearCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp wire.HealthCheckResponse
			if err := roundTrip(wire.KindHealthCheck, wire.HealthCheckRequest{}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func learnCmd() *cobra.Command {
	var generateEmbedding, extractAssociations bool
	cmd := &cobra.Command{
		Use:   "learn [content]",
		Short: "Learn a new concept from content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := wire.LearnConceptV2Request{
				Namespace: namespace,
				Content:   []byte(args[0]),
				Options: wire.LearnConceptV2Options{
					GenerateEmbedding:   generateEmbedding,
					ExtractAssociations: extractAssociations,
					Strength:            0.5,
					Confidence:          0.5,
				},
			}
			var resp wire.ConceptIDResponse
			if err := roundTrip(wire.KindLearnConceptV2, req, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().BoolVar(&generateEmbedding, "embed", false, "generate an embedding for the content")
	cmd.Flags().BoolVar(&extractAssociations, "extract-associations", false, "classify semantics (no associations are extracted)")
	return cmd
}

func queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [concept-id]",
		Short: "Look up a concept by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := wire.QueryConceptRequest{Namespace: namespace, ConceptID: args[0]}
			var resp wire.QueryConceptResponse
			if err := roundTrip(wire.KindQueryConcept, req, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func searchCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search [vector.json]",
		Short: "Run a vector similarity search; vector.json is a JSON array of floats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var vec []float32
			if err := json.Unmarshal(raw, &vec); err != nil {
				return err
			}
			req := wire.VectorSearchRequest{Namespace: namespace, QueryVector: vec, K: k}
			var resp wire.VectorSearchResponse
			if err := roundTrip(wire.KindVectorSearch, req, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().IntVar(&k, "k", 10, "number of nearest neighbors")
	return cmd
}

func pathCmd() *cobra.Command {
	var maxDepth, k int
	var parallel bool
	cmd := &cobra.Command{
		Use:   "path [start-id] [end-id]",
		Short: "Find a path between two concepts",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if parallel {
				req := wire.FindPathsParallelRequest{Namespace: namespace, StartID: args[0], EndID: args[1], MaxDepth: maxDepth, K: k}
				var resp wire.FindPathsParallelResponse
				if err := roundTrip(wire.KindFindPathsParallel, req, &resp); err != nil {
					return err
				}
				return printJSON(resp)
			}
			req := wire.FindPathRequest{Namespace: namespace, StartID: args[0], EndID: args[1], MaxDepth: maxDepth}
			var resp wire.FindPathResponse
			if err := roundTrip(wire.KindFindPath, req, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 6, "max hops")
	cmd.Flags().IntVar(&k, "k", 3, "number of distinct paths (parallel mode only)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "search multiple distinct paths concurrently")
	return cmd
}

func recentCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently accessed concepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := wire.ListRecentRequest{Namespace: namespace, Limit: limit}
			var resp wire.ListRecentResponse
			if err := roundTrip(wire.KindListRecent, req, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max items")
	return cmd
}

func flushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Force an immediate reconcile/snapshot/WAL-truncate cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp wire.FlushResponse
			if err := roundTrip(wire.KindFlush, wire.FlushRequest{Namespace: namespace}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show a namespace's health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp wire.StatsResponse
			if err := roundTrip(wire.KindStats, wire.StatsRequest{Namespace: namespace}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func namespacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List every namespace constructed so far",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp wire.ListNamespacesResponse
			if err := roundTrip(wire.KindListNamespaces, struct{}{}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [namespace]",
		Short: "Delete a namespace's in-memory and on-disk state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp wire.ClearNamespaceResponse
			if err := roundTrip(wire.KindClearNamespace, wire.ClearNamespaceRequest{Namespace: args[0]}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func roundTrip(kind wire.Kind, req interface{}, resp interface{}) error {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	if useTLS {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: hostOf(addr)})
		if err := tlsConn.Handshake(); err != nil {
			return err
		}
		conn = tlsConn
	}

	if authToken != "" {
		if err := wire.PerformClientHandshake(conn, authToken); err != nil {
			return err
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, kind, body); err != nil {
		return err
	}

	respKind, respBody, err := wire.ReadFrame(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if respKind == wire.KindError {
		var errResp wire.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil {
			return fmt.Errorf("server error (unparseable): %s", respBody)
		}
		return fmt.Errorf("%s: %s", errResp.Kind, errResp.Message)
	}
	return json.Unmarshal(respBody, resp)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func hostOf(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}
