// rpx is a local development reverse proxy.
//
// It puts a dev server such as localhost:5173 behind a friendly hostname
// with HTTPS, answering DNS for custom domains and cleaning up after itself:
//   - TLS termination with a generated local CA
//   - Clean URLs (/about serves /about.html)
//   - An embedded DNS responder and hosts-file fallback
//   - Supervision of the dev server command
//
// Usage:
//
//	# Proxy localhost:5173 at https://stacks.localhost
//	rpx start
//
//	# Custom route
//	rpx start --from localhost:3000 --to app.test
//
//	# Every route in a config file
//	rpx start --config rpx.yaml
//
//	# Check the DNS responder
//	rpx dns query app.test
//
//	# Show the serving certificate
//	rpx certs info
package main

func main() {
	Execute()
}
