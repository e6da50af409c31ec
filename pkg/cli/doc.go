/*
Package cli provides helpers shared by the relay command.

Output Formatting:

Listing commands print a Table as aligned text, JSON or CSV:

	table := cli.Table{Headers: []string{"BACKEND", "HASH", "FILE ID"}}
	table.Append("chatgpt", "3f2a...", "file-abc")
	if err := cli.NewFormatter(cli.FormatCSV).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Progress Reporting:

Benchmarks report completed work with a progress bar:

	progress := cli.NewProgressReporter(os.Stderr, "solves")
	progress.Start(n)
	...
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
