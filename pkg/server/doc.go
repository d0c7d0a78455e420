// Package server is the embedding API of rpx.
//
// It ties together the port allocator, the DNS responder, the hosts-file
// manager, the certificate provider, the process supervisor and one proxy
// instance per route, and hands teardown to the lifecycle coordinator.
//
// # Basic Usage
//
// Running every configured route until SIGINT or SIGTERM:
//
//	cfg, err := config.LoadConfigWithEnvOverrides("rpx.yaml")
//	if err != nil {
//	    return err
//	}
//	srv := server.New(cfg, server.WithLogger(logger))
//	return srv.Run(ctx)
//
// Embedding in a tool that owns the process:
//
//	srv := server.New(cfg, server.WithEmbedded(true))
//	inst, err := srv.StartProxy(ctx, config.Route{From: "localhost:5173", To: "app.test", TLS: true})
//	...
//	err = srv.Cleanup(ctx, srv.DefaultCleanupOptions()).Wait(ctx)
//
// # Startup
//
// StartProxies runs these steps for a group of routes:
//  1. Logs TLD advice (HSTS-preloaded TLDs such as .dev)
//  2. Starts the DNS responder and registers the OS resolver for custom domains
//  3. Adds hosts-file entries for custom domains
//  4. Ensures certificate material when any route uses TLS
//  5. Starts each route's dev command
//  6. Starts the proxy instances concurrently
//
// Steps 2 and 3 are best-effort. Loopback domains (localhost and its
// subdomains) skip both.
//
// # Teardown
//
// Cleanup, a signal or a fault all join the same teardown sequence. Unless
// the server is embedded, the process exits once it finishes.
//
// # Health Checks
//
// With WithHealth, the server registers a "dns" check and one
// "upstream:<route>" check per route, served on /readyz by the telemetry
// listener.
package server
