// Package hosts adds and removes loopback entries in the system hosts file
// for custom route domains.
//
// Entries are written in marked blocks:
//
//	# Added by rpx
//	127.0.0.1 app.test
//	::1 app.test
//
// Writing the system hosts file usually needs elevated privileges. Failures
// are returned to the caller, which logs them and carries on; DNS or manual
// entries can still make the domain resolve.
package hosts
