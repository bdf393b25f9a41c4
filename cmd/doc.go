// Package cmd wires the mailsweep commands: serve runs the HTTP API and
// metrics servers, clean executes one pipeline run from the terminal.
package cmd
