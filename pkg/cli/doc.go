/*
Package cli provides command-line utilities shared by the warden command.

Output Formatting:

Command results render as plain text or JSON:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Signal Handling:

Long-running subcommands cancel on SIGINT/SIGTERM:

	ctx := cli.SetupSignalHandler()
	// Use ctx for work that should stop on shutdown
*/
package cli
