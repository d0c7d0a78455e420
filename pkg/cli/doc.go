/*
Package cli provides helpers shared by the rpx commands.

Output Formatting:

Commands that print structured results accept --format text|json:

	format, err := cli.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), result)

Status lines use the ✓ / ⚠ / ✗ prefixes:

	cli.Success(out, "Proxy ready at %s", inst.URL())

Exit Codes:

ExitCode maps command errors to the process status: configuration errors
exit with 2, port exhaustion with 3, everything else with 1.

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
