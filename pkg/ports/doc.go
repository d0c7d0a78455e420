// Package ports finds listen ports for proxy routes.
//
// Privileged ports (80, 443) are often taken by other software or need
// elevated rights. The Allocator scans upward from a preferred port, binds a
// throwaway listener to prove each candidate is free, and optionally proves
// it is reachable over loopback before handing it out:
//
//	alloc := ports.New(cfg.Ports)
//	port, err := alloc.Reserve(ctx, 443, false)
//	if errors.Is(err, ports.ErrPortExhaustion) {
//	    port, err = alloc.Reserve(ctx, 3443, true)
//	}
//	defer alloc.Release(port)
//
// Reservations are tracked per Allocator, so two routes in one process never
// receive the same port even while a probe is in flight.
package ports
