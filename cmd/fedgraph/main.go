package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fedgraph/fedgraph/internal/auth"
	"github.com/fedgraph/fedgraph/internal/config"
	"github.com/fedgraph/fedgraph/internal/eventbus"
	"github.com/fedgraph/fedgraph/internal/executor"
	"github.com/fedgraph/fedgraph/internal/federation"
	"github.com/fedgraph/fedgraph/internal/introspection"
	"github.com/fedgraph/fedgraph/internal/otel"
	"github.com/fedgraph/fedgraph/internal/querydigest"
	"github.com/fedgraph/fedgraph/internal/resolve"
	"github.com/fedgraph/fedgraph/internal/server"
)

const rootUsage = `fedgraph — federated GraphQL subgraph gateway & tools

USAGE:
  fedgraph <command> [flags]

COMMANDS:
  serve            Run the HTTP GraphQL gateway for a subgraph schema
  compose-sdl      Compose a subgraph SDL with the federation contract
  sign-query       Produce a signed query digest token for a client
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -graphql.schema <file>      Subgraph SDL file (required)
  -graphql.introspection <bool>  Answer __schema/__type queries (default: true)
  -server.addr <addr>         HTTP listen address (default: :8080)
  -server.pretty              Pretty-print JSON responses
  -server.timeout <duration>  Per-request timeout, e.g. 10s (default: 10s)
  -server.playground <bool>   Serve the in-browser IDE on GET (default: true)
  -otel.endpoint <addr>       OTLP collector endpoint
  -otel.service <name>        OpenTelemetry service name (default: fedgraph)

Authentication and signed-query policy come from the environment:
TRUSTED_ISSUERS, JWT_SECRET_VERIFY, JWT_QUERY_DIGEST_PUBLIC_KEY,
CLIENT_ID_WHITELIST, REQUIRE_AUTH, REQUIRE_SIGNED_QUERIES.
`

const composeSDLUsage = `compose-sdl FLAGS:
  -graphql.schema <file>  Subgraph SDL file (required)
  -service                Print the _service SDL instead of the full schema
  -out <file>             Write output to file (default: stdout)
  (Validation always runs; exits non-zero on errors)
`

const signQueryUsage = `sign-query FLAGS:
  -key <file>     PEM private key file (required)
  -client <id>    Client service id the digest binds to (required)
  -query <text>   Query text; reads stdin when omitted
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("fedgraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "compose-sdl":
		return cmdComposeSDL(cmdArgs)
	case "sign-query":
		return cmdSignQuery(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "compose-sdl":
		fmt.Print(composeSDLUsage)
	case "sign-query":
		fmt.Print(signQueryUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdServe(args []string) error {
	schemaFile := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	playground := true
	enableIntrospection := true
	otelEndpoint := ""
	otelService := "fedgraph"

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "graphql.schema", schemaFile, "Subgraph SDL file")
	fs.BoolVar(&enableIntrospection, "graphql.introspection", enableIntrospection, "Answer __schema/__type queries")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.BoolVar(&playground, "server.playground", playground, "Serve the in-browser IDE")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-graphql.schema is required")
	}

	sdl, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	reg := resolve.NewRegistry()
	composed, err := federation.Compose(string(sdl), reg)
	if err != nil {
		return fmt.Errorf("compose schema: %w", err)
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sopts := []server.Option{server.WithPlayground(playground)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(cfg.TrustedIssuers) > 0 || cfg.DefaultSecret != "" {
		aopts := []auth.Option{auth.WithIssuers(cfg.TrustedIssuers...)}
		if cfg.DefaultSecret != "" {
			aopts = append(aopts, auth.WithDefaultKey([]byte(cfg.DefaultSecret)))
		}
		verifier, err := auth.NewVerifier(aopts...)
		if err != nil {
			return fmt.Errorf("auth init: %w", err)
		}
		sopts = append(sopts, server.WithVerifier(verifier))
	}
	if cfg.DigestPublicKeyPEM != "" {
		dv, err := querydigest.NewVerifier([]byte(cfg.DigestPublicKeyPEM))
		if err != nil {
			return fmt.Errorf("digest verifier init: %w", err)
		}
		sopts = append(sopts, server.WithDigest(dv))
	}
	if cfg.RequireAuth {
		sopts = append(sopts, server.WithRequireAuth())
	}
	if cfg.RequireSignedQueries {
		sopts = append(sopts, server.WithRequireSignedQueries())
	}
	if len(cfg.WhitelistedClients) > 0 {
		sopts = append(sopts, server.WithWhitelistedClients(cfg.WhitelistedClients...))
	}

	runtime := executor.Runtime(resolve.NewRuntime(reg))
	sch := composed.Schema
	if enableIntrospection {
		wrapped := introspection.Wrap(runtime, sch)
		runtime = wrapped.Runtime
		sch = wrapped.Schema
	}

	h, err := server.New(runtime, sch, composed.Validation, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	log.Printf("GraphQL server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}

func cmdComposeSDL(args []string) error {
	schemaFile := ""
	serviceSDL := false
	outFile := ""
	fs := flag.NewFlagSet("compose-sdl", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "graphql.schema", schemaFile, "Subgraph SDL file")
	fs.BoolVar(&serviceSDL, "service", serviceSDL, "Print the _service SDL")
	fs.StringVar(&outFile, "out", outFile, "Write output to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, composeSDLUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, composeSDLUsage)
		return fmt.Errorf("-graphql.schema is required")
	}

	sdl, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	composed, err := federation.Compose(string(sdl), resolve.NewRegistry())
	if err != nil {
		return fmt.Errorf("compose schema: %w", err)
	}
	out := composed.SDL
	if serviceSDL {
		out = composed.ServiceSDL
	}
	if outFile == "" {
		fmt.Print(out)
		return nil
	}
	return os.WriteFile(outFile, []byte(out), 0644)
}

func cmdSignQuery(args []string) error {
	keyFile := ""
	clientID := ""
	query := ""
	fs := flag.NewFlagSet("sign-query", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&keyFile, "key", keyFile, "PEM private key file")
	fs.StringVar(&clientID, "client", clientID, "Client service id")
	fs.StringVar(&query, "query", query, "Query text")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, signQueryUsage)
		return err
	}
	if keyFile == "" || clientID == "" {
		fmt.Fprint(os.Stderr, signQueryUsage)
		return fmt.Errorf("-key and -client are required")
	}
	if query == "" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read query from stdin: %w", err)
		}
		query = string(raw)
	}
	if query == "" {
		return fmt.Errorf("empty query")
	}

	key, err := os.ReadFile(keyFile)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	token, err := querydigest.Sign(key, clientID, query)
	if err != nil {
		return fmt.Errorf("sign query: %w", err)
	}
	fmt.Println(token)
	return nil
}
