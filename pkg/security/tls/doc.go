/*
Package tls configures TLS termination for proxy listeners.

Listeners negotiate TLS 1.2 or 1.3 and never request client certificates:

	cfg, err := tls.ServerConfig(material.Cert, material.Key, material.CA)

# Certificate reload

A Reloader serves the certificate from disk and swaps it when the files
change, so `rpx certs generate` takes effect on running listeners:

	reloader := tls.NewReloader(certFile, keyFile, logger)
	if err := reloader.Load(); err != nil {
		return err
	}
	if err := reloader.Watch(ctx); err != nil {
		return err
	}
	cfg := tls.ReloadingServerConfig(reloader)

# Expiry checks

An ExpiryChecker logs a warning on a cron schedule once the certificate is
within 30 days of expiry:

	checker, err := tls.NewExpiryChecker("@daily", reloader.Leaf, logger)
*/
package tls
