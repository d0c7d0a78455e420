// Package certs provides TLS material for route domains.
//
// A Provider keeps one certificate set per primary domain under the base
// path (default ~/.stacks/ssl):
//
//	app.test.key     leaf private key
//	app.test.crt     leaf certificate
//	app.test.ca.crt  local root CA that signed the leaf
//
// The leaf covers every route domain, their wildcard siblings, localhost,
// *.localhost and the loopback addresses. Trusting the CA in the system
// store is left to the user; `rpx certs info` prints the CA path.
package certs
