// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the bazi command line.
//
// # Commands
//
//   - serve: run the web server, reloading the config file on change
//   - chart: compute a chart locally and print it (or --json)
//   - read:  compute a chart on a running server and stream its reading
//   - version
//
// # Usage
//
//	os.Exit(cli.Execute())
//
// The read command shows a live full-screen view when both stdin and
// stdout are terminals. Otherwise it streams plain text, prompting for
// manual continuation only when stdin is interactive.
package cli
