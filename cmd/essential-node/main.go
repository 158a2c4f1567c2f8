// Command essential-node runs the block/state store alongside the
// relayer ingestion workers and the validation stream.
package main

func main() {
	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}
